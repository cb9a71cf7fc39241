// Package brokertest runs an in-process notif broker for tests and examples.
//
// Routing is done by an embedded NATS server, so topic wildcards and consumer
// groups behave like a NATS-backed deployment. Events and schedules live in
// memory, and unacknowledged events of a closed session are dropped.
package brokertest

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/notif-sh/notif-go/models"
	"github.com/notif-sh/notif-go/protocol"
)

const (
	DefaultAPIKey = "nsh_test_key"

	defaultNackDelay = 5 * time.Minute
	writeWait        = 5 * time.Second
)

type Broker struct {
	apiKey      string
	maxAttempts int
	l           *slog.Logger

	ns       *server.Server
	nc       *nats.Conn
	srv      *httptest.Server
	upgrader websocket.Upgrader

	seq atomic.Uint64

	mu        sync.Mutex
	sessions  map[*session]struct{}
	history   []protocol.Event
	frames    []protocol.ClientFrame
	dlq       []protocol.Event
	schedules map[string]*scheduleEntry
	order     []string
	reject    *protocol.ServerFrame
}

type Option func(b *Broker)

func WithAPIKey(key string) Option {
	return func(b *Broker) {
		b.apiKey = key
	}
}

// WithMaxAttempts sets the default number of deliveries before dead-lettering.
func WithMaxAttempts(n int) Option {
	return func(b *Broker) {
		b.maxAttempts = n
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(b *Broker) {
		b.l = l
	}
}

// Start launches NATS and the HTTP/WebSocket front end on loopback ports.
func Start(opts ...Option) (*Broker, error) {
	b := &Broker{
		apiKey:      DefaultAPIKey,
		maxAttempts: protocol.DefaultMaxAttempts,
		l:           slog.New(slog.DiscardHandler),
		sessions:    make(map[*session]struct{}),
		schedules:   make(map[string]*scheduleEntry),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.l = b.l.With("component", "brokertest")

	ns, err := server.NewServer(&server.Options{
		Host:   "127.0.0.1",
		Port:   server.RANDOM_PORT,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		return nil, fmt.Errorf("nats: new server: %w", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, errors.New("nats: not ready for connections")
	}

	nc, err := nats.Connect(ns.ClientURL(), nats.Name("brokertest"))
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("nats: connect: %w", err)
	}

	b.ns = ns
	b.nc = nc
	b.srv = httptest.NewServer(b.routes())
	b.l.Info("broker started", "url", b.srv.URL, "nats", ns.ClientURL())
	return b, nil
}

// Run starts a broker and closes it when the test ends.
func Run(tb testing.TB, opts ...Option) *Broker {
	tb.Helper()

	b, err := Start(opts...)
	if err != nil {
		tb.Fatalf("start broker: %v", err)
	}
	tb.Cleanup(b.Close)
	return b
}

// URL is the HTTP base URL to pass to notif.WithServer.
func (b *Broker) URL() string { return b.srv.URL }

func (b *Broker) APIKey() string { return b.apiKey }

func (b *Broker) Close() {
	b.DisconnectAll()

	b.mu.Lock()
	for _, e := range b.schedules {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	b.mu.Unlock()

	b.srv.Close()
	b.nc.Close()
	b.ns.Shutdown()
	b.ns.WaitForShutdown()
}

// Publish emits an event as if it had been sent to the emit endpoint.
func (b *Broker) Publish(topic string, data any) (protocol.Event, error) {
	if err := protocol.ValidateTopic(topic); err != nil {
		return protocol.Event{}, err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return protocol.Event{}, fmt.Errorf("marshal data: %w", err)
	}

	e := protocol.Event{
		ID:          fmt.Sprintf("evt_%d", b.seq.Add(1)),
		Topic:       topic,
		Data:        raw,
		Timestamp:   time.Now().UTC(),
		Attempt:     protocol.DefaultAttempt,
		MaxAttempts: b.maxAttempts,
	}
	payload, err := protocol.Encode(protocol.EventFrame(e))
	if err != nil {
		return protocol.Event{}, err
	}

	b.mu.Lock()
	b.history = append(b.history, e)
	b.mu.Unlock()

	if err := b.nc.Publish(topic, payload); err != nil {
		return protocol.Event{}, fmt.Errorf("nats: publish: %w", err)
	}
	if err := b.nc.Flush(); err != nil {
		return protocol.Event{}, fmt.Errorf("nats: flush: %w", err)
	}
	b.l.Debug("event published", "id", e.ID, "topic", topic)
	return e, nil
}

// Inject writes a raw text frame to every subscribed session.
func (b *Broker) Inject(frame string) {
	for _, s := range b.liveSessions() {
		if s.isSubscribed() {
			s.sendRaw([]byte(frame))
		}
	}
}

// RejectSubscribe makes subsequent handshakes fail with an error frame.
// An empty message restores normal behavior.
func (b *Broker) RejectSubscribe(code, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if message == "" {
		b.reject = nil
		return
	}
	f := protocol.ErrorFrame(code, message)
	b.reject = &f
}

// DisconnectAll drops every connection without a close frame.
func (b *Broker) DisconnectAll() {
	for _, s := range b.liveSessions() {
		s.conn.Close()
	}
}

// Sessions returns the number of open connections.
func (b *Broker) Sessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

// Frames returns every frame received from clients, in arrival order.
func (b *Broker) Frames() []protocol.ClientFrame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]protocol.ClientFrame(nil), b.frames...)
}

// FramesWithAction filters Frames by action.
func (b *Broker) FramesWithAction(action string) []protocol.ClientFrame {
	var out []protocol.ClientFrame
	for _, f := range b.Frames() {
		if f.Action == action {
			out = append(out, f)
		}
	}
	return out
}

// DeadLetters returns events that exhausted their attempts.
func (b *Broker) DeadLetters() []protocol.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]protocol.Event(nil), b.dlq...)
}

// Schedules returns every schedule in creation order.
func (b *Broker) Schedules() []models.Schedule {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]models.Schedule, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.schedules[id].s)
	}
	return out
}

func (b *Broker) record(f protocol.ClientFrame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = append(b.frames, f)
}

func (b *Broker) deadLetter(e protocol.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dlq = append(b.dlq, e)
	b.l.Info("event moved to dlq", "id", e.ID, "attempts", e.Attempt)
}

func (b *Broker) rejection() *protocol.ServerFrame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reject
}

// replay returns retained events matching any pattern, published at or after since.
func (b *Broker) replay(patterns []string, since time.Time) []protocol.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []protocol.Event
	for _, e := range b.history {
		if e.Timestamp.Before(since) {
			continue
		}
		for _, p := range patterns {
			if protocol.Match(p, e.Topic) {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

func (b *Broker) liveSessions() []*session {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]*session, 0, len(b.sessions))
	for s := range b.sessions {
		out = append(out, s)
	}
	return out
}

func (b *Broker) addSession(s *session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions[s] = struct{}{}
}

func (b *Broker) removeSession(s *session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, s)
}

// parseDelay mirrors the broker: empty or invalid durations fall back to five minutes.
func parseDelay(s string) time.Duration {
	if s == "" {
		return defaultNackDelay
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultNackDelay
	}
	return d
}
