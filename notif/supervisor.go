package notif

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Status is a connectivity transition reported by a Supervisor.
type Status int

const (
	StatusConnected Status = iota
	StatusError
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	case StatusDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// StatusFunc receives transitions. err is the handshake failure for
// StatusError and the termination cause, if any, for StatusDisconnected.
type StatusFunc func(status Status, err error)

// ConsumeFunc drains one subscription. It should return when the
// subscription ends or ctx is done.
type ConsumeFunc func(ctx context.Context, sub *Subscription) error

// Supervisor keeps a subscription alive: after any handshake failure or
// connection loss it waits a fixed delay and subscribes again, forever.
type Supervisor struct {
	c      *Client
	topics []string
	opts   []SubscribeOption

	delay    time.Duration
	onStatus StatusFunc
	l        *slog.Logger
}

type SupervisorOption func(s *Supervisor)

func WithReconnectDelay(d time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		s.delay = d
	}
}

func WithStatusHandler(fn StatusFunc) SupervisorOption {
	return func(s *Supervisor) {
		s.onStatus = fn
	}
}

// WithSubscribeOptions sets the options passed to every Subscribe call.
func WithSubscribeOptions(opts ...SubscribeOption) SupervisorOption {
	return func(s *Supervisor) {
		s.opts = append(s.opts, opts...)
	}
}

func NewSupervisor(c *Client, topics []string, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		c:      c,
		topics: topics,
		delay:  c.stream.Reconnect.Delay,
		l:      c.l.With("component", "supervisor", "topics", topics),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run blocks until ctx is done and returns ctx.Err(). Invalid topics are the
// only error returned early since retrying cannot fix them.
func (s *Supervisor) Run(ctx context.Context, consume ConsumeFunc) error {
	if err := validateTopics(s.topics); err != nil {
		return err
	}

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			s.c.metrics.reconnect()
			s.l.Info("reconnecting", "delay", s.delay, "attempt", attempt)
			if err := sleep(ctx, s.delay); err != nil {
				return err
			}
		}

		sub, err := s.c.Subscribe(ctx, s.topics, s.opts...)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.l.Error("subscribe failed", "error", err)
			s.notify(StatusError, err)
			continue
		}
		s.notify(StatusConnected, nil)

		err = consume(ctx, sub)
		_ = sub.Close()

		cause := sub.Err()
		if cause == nil && err != nil && !errors.Is(err, ErrSubscriptionClosed) && ctx.Err() == nil {
			cause = err
		}
		s.notify(StatusDisconnected, cause)

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (s *Supervisor) notify(status Status, err error) {
	if s.onStatus != nil {
		s.onStatus(status, err)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
