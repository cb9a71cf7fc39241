// Package protocol implements the JSON frames exchanged with the notif
// streaming endpoint and the topic pattern rules shared by clients and brokers.
package protocol

import (
	"encoding/json"
	"time"
)

// Client actions.
const (
	ActionSubscribe = "subscribe"
	ActionAck       = "ack"
	ActionNack      = "nack"
	ActionPing      = "ping"
)

// Server frame types.
const (
	TypeSubscribed = "subscribed"
	TypeEvent      = "event"
	TypeError      = "error"
	TypePong       = "pong"
)

// Start positions understood by the broker. Any RFC 3339 timestamp is accepted too.
const (
	FromLatest    = "latest"
	FromBeginning = "beginning"
)

// Event defaults applied when the broker omits the optional fields.
const (
	DefaultAttempt     = 1
	DefaultMaxAttempts = 3
)

// SubscribeOptions are sent once, inside the subscribe frame.
type SubscribeOptions struct {
	AutoAck bool   `json:"auto_ack"`
	From    string `json:"from,omitempty"`
	Group   string `json:"group,omitempty"`

	// AckTimeout is a duration string after which an unacknowledged event is redelivered.
	AckTimeout string `json:"ack_timeout,omitempty"`
	MaxRetries int    `json:"max_retries,omitempty"`
}

// ClientFrame is any frame sent by a subscriber. Only the fields relevant to
// Action are populated.
type ClientFrame struct {
	Action  string            `json:"action"`
	Topics  []string          `json:"topics,omitempty"`
	Options *SubscribeOptions `json:"options,omitempty"`
	ID      string            `json:"id,omitempty"`
	RetryIn string            `json:"retry_in,omitempty"`
}

// Subscribe builds the handshake frame.
func Subscribe(topics []string, opts SubscribeOptions) ClientFrame {
	return ClientFrame{Action: ActionSubscribe, Topics: topics, Options: &opts}
}

// Ack builds an acknowledgment for the event with the given id.
func Ack(id string) ClientFrame {
	return ClientFrame{Action: ActionAck, ID: id}
}

// Nack builds a negative acknowledgment. An empty retryIn leaves the
// redelivery delay to the broker.
func Nack(id, retryIn string) ClientFrame {
	return ClientFrame{Action: ActionNack, ID: id, RetryIn: retryIn}
}

// ServerFrame is the union of every frame a broker may send.
type ServerFrame struct {
	Type string `json:"type"`

	// event
	ID          string          `json:"id,omitempty"`
	Topic       string          `json:"topic,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	Timestamp   *time.Time      `json:"timestamp,omitempty"`
	Attempt     int             `json:"attempt,omitempty"`
	MaxAttempts int             `json:"max_attempts,omitempty"`

	// subscribed
	Topics     []string `json:"topics,omitempty"`
	ConsumerID string   `json:"consumer_id,omitempty"`

	// error
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Event is a decoded event frame with defaults applied.
type Event struct {
	ID          string
	Topic       string
	Data        json.RawMessage
	Timestamp   time.Time
	Attempt     int
	MaxAttempts int
}

// EventFrame is the inverse of ServerFrame.Event, used by brokers.
func EventFrame(e Event) ServerFrame {
	f := ServerFrame{
		Type:        TypeEvent,
		ID:          e.ID,
		Topic:       e.Topic,
		Data:        e.Data,
		Attempt:     e.Attempt,
		MaxAttempts: e.MaxAttempts,
	}
	if !e.Timestamp.IsZero() {
		ts := e.Timestamp
		f.Timestamp = &ts
	}
	return f
}

// SubscribedFrame confirms a subscription.
func SubscribedFrame(topics []string, consumerID string) ServerFrame {
	return ServerFrame{Type: TypeSubscribed, Topics: topics, ConsumerID: consumerID}
}

// ErrorFrame reports a broker-side failure.
func ErrorFrame(code, message string) ServerFrame {
	return ServerFrame{Type: TypeError, Code: code, Message: message}
}
