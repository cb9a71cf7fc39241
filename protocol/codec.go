package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMalformedFrame reports bytes that are not a JSON frame.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrMissingField reports an event frame without id or topic.
	ErrMissingField = errors.New("malformed event: missing id or topic")
	// ErrNotEvent is returned by ServerFrame.Event for other frame types.
	ErrNotEvent = errors.New("not an event frame")
)

var nullData = json.RawMessage("null")

// Encode marshals a frame for a text message.
func Encode(frame any) ([]byte, error) {
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return data, nil
}

// DecodeServer parses a frame received by a subscriber. Unknown types are
// returned as is; it is up to the caller to ignore them.
func DecodeServer(data []byte) (*ServerFrame, error) {
	var f ServerFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	return &f, nil
}

// DecodeClient parses a frame received by a broker.
func DecodeClient(data []byte) (*ClientFrame, error) {
	var f ClientFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	if f.Action == "" {
		return nil, fmt.Errorf("%w: missing action", ErrMalformedFrame)
	}
	return &f, nil
}

// Event converts an event frame. now supplies the timestamp when the broker
// did not send one.
func (f *ServerFrame) Event(now time.Time) (Event, error) {
	if f.Type != TypeEvent {
		return Event{}, fmt.Errorf("%w: %q", ErrNotEvent, f.Type)
	}
	if f.ID == "" || f.Topic == "" {
		return Event{}, ErrMissingField
	}

	e := Event{
		ID:          f.ID,
		Topic:       f.Topic,
		Data:        f.Data,
		Timestamp:   now,
		Attempt:     f.Attempt,
		MaxAttempts: f.MaxAttempts,
	}
	if len(bytes.TrimSpace(e.Data)) == 0 {
		e.Data = nullData
	}
	if f.Timestamp != nil {
		e.Timestamp = *f.Timestamp
	}
	if e.Attempt <= 0 {
		e.Attempt = DefaultAttempt
	}
	if e.MaxAttempts <= 0 {
		e.MaxAttempts = DefaultMaxAttempts
	}
	return e, nil
}
