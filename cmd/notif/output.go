package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/notif-sh/notif-go/notif"
)

// printer serializes output from concurrent handlers.
type printer struct {
	mu   sync.Mutex
	w    io.Writer
	json bool
}

func newPrinter(w io.Writer, asJSON bool) *printer {
	return &printer{w: w, json: asJSON}
}

// value prints v as indented JSON.
func (p *printer) value(v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *printer) line(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format+"\n", args...)
}

type eventLine struct {
	ID        string          `json:"id"`
	Topic     string          `json:"topic"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	Attempt   int             `json:"attempt"`
}

// event prints one event per line, as compact JSON in --json mode.
func (p *printer) event(e *notif.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.json {
		return json.NewEncoder(p.w).Encode(eventLine{
			ID:        e.ID,
			Topic:     e.Topic,
			Data:      e.Data,
			Timestamp: e.Timestamp,
			Attempt:   e.Attempt,
		})
	}

	attempt := ""
	if e.Attempt > 1 {
		attempt = fmt.Sprintf(" (attempt %d/%d)", e.Attempt, e.MaxAttempts)
	}
	_, err := fmt.Fprintf(p.w, "%s %s %s%s %s\n", e.Timestamp.Format(time.RFC3339), e.Topic, e.ID, attempt, e.Data)
	return err
}

// payload parses an optional JSON argument. No argument means null.
func payload(args []string) (any, error) {
	if len(args) == 0 {
		return nil, nil
	}
	raw := json.RawMessage(args[0])
	if !json.Valid(raw) {
		return nil, fmt.Errorf("data is not valid JSON: %s", args[0])
	}
	return raw, nil
}
