package notif

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/notif-sh/notif-go/protocol"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SubscribeOptions are fixed for the lifetime of a subscription.
type SubscribeOptions struct {
	// AutoAck lets the broker treat delivery as acknowledgment. Default true.
	AutoAck bool
	// From is protocol.FromLatest, protocol.FromBeginning or an RFC 3339
	// timestamp. Empty means the broker default.
	From string
	// Group load-balances delivery across subscribers sharing the name.
	Group string
	// AckTimeout is how long the broker waits for an ack before redelivering.
	// Zero means the broker default.
	AckTimeout time.Duration
	// MaxRetries caps delivery attempts before the broker dead-letters an
	// event. Zero means the broker default.
	MaxRetries int
}

func DefaultSubscribeOptions() SubscribeOptions {
	return SubscribeOptions{AutoAck: true}
}

func (o SubscribeOptions) frame() protocol.SubscribeOptions {
	f := protocol.SubscribeOptions{
		AutoAck:    o.AutoAck,
		From:       o.From,
		Group:      o.Group,
		MaxRetries: o.MaxRetries,
	}
	if o.AckTimeout > 0 {
		f.AckTimeout = o.AckTimeout.String()
	}
	return f
}

type SubscribeOption func(o *SubscribeOptions)

// WithManualAck disables auto-ack; every event must be acked or nacked.
func WithManualAck() SubscribeOption {
	return func(o *SubscribeOptions) {
		o.AutoAck = false
	}
}

func WithFrom(from string) SubscribeOption {
	return func(o *SubscribeOptions) {
		o.From = from
	}
}

func WithFromTime(t time.Time) SubscribeOption {
	return WithFrom(t.UTC().Format(time.RFC3339))
}

func WithGroup(group string) SubscribeOption {
	return func(o *SubscribeOptions) {
		o.Group = group
	}
}

func WithAckTimeout(d time.Duration) SubscribeOption {
	return func(o *SubscribeOptions) {
		o.AckTimeout = d
	}
}

func WithMaxRetries(n int) SubscribeOption {
	return func(o *SubscribeOptions) {
		o.MaxRetries = n
	}
}

// Subscription is a pull-based, forward-only stream of events backed by one
// connection. It is not restartable: once it ends, subscribe again.
type Subscription struct {
	p *pump

	topics     []string
	opts       SubscribeOptions
	consumerID string

	closeOnce sync.Once
}

// Subscribe connects, sends a single subscribe frame and waits for the
// broker's confirmation. There is no retry; see Supervisor.
func (c *Client) Subscribe(ctx context.Context, topics []string, opts ...SubscribeOption) (*Subscription, error) {
	if err := validateTopics(topics); err != nil {
		return nil, err
	}
	o := DefaultSubscribeOptions()
	for _, opt := range opts {
		opt(&o)
	}

	ctx, span := c.tracer.Start(ctx, "notif.subscribe",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.StringSlice("notif.topics", topics),
			attribute.Bool("notif.auto_ack", o.AutoAck),
			attribute.String("notif.group", o.Group),
		),
	)
	defer span.End()

	p, reply, err := c.connect(ctx, topics, o)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("notif.consumer_id", reply.ConsumerID))

	return &Subscription{
		p:          p,
		topics:     topics,
		opts:       o,
		consumerID: reply.ConsumerID,
	}, nil
}

func (s *Subscription) Topics() []string { return s.topics }

func (s *Subscription) Options() SubscribeOptions { return s.opts }

// ConsumerID is the id the broker assigned in its confirmation.
func (s *Subscription) ConsumerID() string { return s.consumerID }

// Next blocks until the next item. A non-nil error wrapping
// ErrSubscriptionClosed ends the stream; any other error is a single failed
// delivery and the stream continues.
func (s *Subscription) Next(ctx context.Context) (*Event, error) {
	select {
	case <-s.p.done:
		return nil, ErrSubscriptionClosed
	default:
	}

	select {
	case d, ok := <-s.p.events:
		if !ok {
			return nil, s.endErr()
		}
		if d.err != nil {
			return nil, d.err
		}
		return d.event, nil
	case <-s.p.done:
		return nil, ErrSubscriptionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// All ranges over the stream until it ends or ctx is done. Per-delivery
// errors are yielded with a nil event. Check Err afterwards for the cause.
func (s *Subscription) All(ctx context.Context) iter.Seq2[*Event, error] {
	return func(yield func(*Event, error) bool) {
		for {
			e, err := s.Next(ctx)
			if errors.Is(err, ErrSubscriptionClosed) || (err != nil && ctx.Err() != nil) {
				return
			}
			if !yield(e, err) {
				return
			}
		}
	}
}

// Close terminates the connection and waits for its goroutines to exit.
// Events still buffered are discarded. It is safe to call more than once.
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		close(s.p.done)
	})
	<-s.p.exited
	return nil
}

// Done is closed when the connection has terminated for any reason.
func (s *Subscription) Done() <-chan struct{} {
	return s.p.exited
}

// Err returns why the connection terminated. It is nil while the
// subscription is live and when it was ended by Close.
func (s *Subscription) Err() error {
	select {
	case <-s.p.exited:
		return s.p.err
	default:
		return nil
	}
}

func (s *Subscription) endErr() error {
	if s.p.err != nil {
		return fmt.Errorf("%w: %w", ErrSubscriptionClosed, s.p.err)
	}
	return ErrSubscriptionClosed
}
