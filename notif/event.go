package notif

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/notif-sh/notif-go/protocol"
)

// Event is one delivery of a published event. Events are immutable; Ack and
// Nack only enqueue a decision for the connection that delivered it.
type Event struct {
	ID    string
	Topic string
	Data  json.RawMessage
	// Timestamp is the broker's creation time, or the local decode time when
	// the broker did not send one.
	Timestamp   time.Time
	Attempt     int
	MaxAttempts int

	acks *acker // nil under auto-ack
}

func newEvent(e protocol.Event, a *acker) *Event {
	return &Event{
		ID:          e.ID,
		Topic:       e.Topic,
		Data:        e.Data,
		Timestamp:   e.Timestamp,
		Attempt:     e.Attempt,
		MaxAttempts: e.MaxAttempts,
		acks:        a,
	}
}

// Decode unmarshals the payload into v.
func (e *Event) Decode(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return &SerializationError{Err: err}
	}
	return nil
}

// Ack confirms the event. It is a no-op when the subscription auto-acks.
// Calling it twice sends two acks; the broker ignores the duplicate.
func (e *Event) Ack() error {
	if e.acks == nil {
		return nil
	}
	return e.acks.enqueue(decision{id: e.ID})
}

// Nack asks the broker to redeliver the event after retryIn, for example "5m".
// An empty retryIn uses the broker default. It is a no-op when the
// subscription auto-acks.
func (e *Event) Nack(retryIn string) error {
	if e.acks == nil {
		return nil
	}
	return e.acks.enqueue(decision{id: e.ID, nack: true, retryIn: retryIn})
}

// LastAttempt reports whether the broker will stop redelivering after this attempt.
func (e *Event) LastAttempt() bool {
	return e.Attempt >= e.MaxAttempts
}

// decision is an acknowledgment travelling from the consumer to the connection.
type decision struct {
	id      string
	nack    bool
	retryIn string
}

func (d decision) frame() protocol.ClientFrame {
	if d.nack {
		return protocol.Nack(d.id, d.retryIn)
	}
	return protocol.Ack(d.id)
}

func (d decision) String() string {
	if d.nack {
		return protocol.ActionNack
	}
	return protocol.ActionAck
}

// acker is the sending side of a subscription's acknowledgment channel,
// shared by every event it delivers. A nil error from enqueue means the
// decision is in the channel before the pump flushes it on Close.
type acker struct {
	acks   chan<- decision
	done   <-chan struct{}
	exited <-chan struct{}

	mu     sync.RWMutex
	closed bool
}

func (a *acker) enqueue(d decision) error {
	select {
	case <-a.done:
		return ErrSubscriptionClosed
	case <-a.exited:
		return ErrSubscriptionClosed
	default:
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrSubscriptionClosed
	}

	select {
	case a.acks <- d:
		return nil
	case <-a.done:
		return ErrSubscriptionClosed
	case <-a.exited:
		return ErrSubscriptionClosed
	}
}

// close rejects further decisions. Senders blocked on a full channel give up
// through done or exited, so it never waits on the consumer.
func (a *acker) close() {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
}
