package notif

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
)

// Handler processes one event. A non-nil error nacks it.
type Handler func(ctx context.Context, e *Event) error

type WorkerConfig struct {
	Handler Handler
	// Concurrency is the number of handlers running at once. Default 1,
	// which keeps delivery order.
	Concurrency int
	PreAlloc    bool
	// NackDelay picks the retry delay for a failed event. The default
	// returns "" and leaves the delay to the broker.
	NackDelay func(e *Event, err error) string
	// OnError receives failed deliveries such as error frames.
	OnError func(err error)
}

// Worker runs a Handler for every event of a subscription on a bounded pool
// and acks or nacks each event with the result.
type Worker struct {
	conf    WorkerConfig
	pool    *ants.Pool
	l       *slog.Logger
	metrics *Metrics
}

func (c *Client) NewWorker(conf WorkerConfig) (*Worker, error) {
	if conf.Handler == nil {
		return nil, ErrNilHandler
	}
	if conf.Concurrency <= 0 {
		conf.Concurrency = 1
	}

	pool, err := ants.NewPool(conf.Concurrency, ants.WithPreAlloc(conf.PreAlloc))
	if err != nil {
		return nil, fmt.Errorf("new pool: %w", err)
	}

	return &Worker{
		conf:    conf,
		pool:    pool,
		l:       c.l.With("component", "worker"),
		metrics: c.metrics,
	}, nil
}

// Process consumes sub until it ends or ctx is done, then waits for running
// handlers. It has the ConsumeFunc signature for use with a Supervisor.
func (w *Worker) Process(ctx context.Context, sub *Subscription) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		e, err := sub.Next(ctx)
		if err != nil {
			if errors.Is(err, ErrSubscriptionClosed) || ctx.Err() != nil {
				return err
			}
			w.deliveryFailed(err)
			continue
		}

		wg.Add(1)
		if err := w.pool.Submit(func() {
			defer wg.Done()
			w.handle(ctx, e)
		}); err != nil {
			wg.Done()
			return fmt.Errorf("submit: %w", err)
		}
	}
}

// Close releases the pool. Process must not be running.
func (w *Worker) Close() {
	w.pool.Release()
}

func (w *Worker) handle(ctx context.Context, e *Event) {
	start := time.Now()
	err := w.call(ctx, e)
	w.metrics.observeHandler(time.Since(start).Seconds())

	if err != nil {
		retryIn := ""
		if w.conf.NackDelay != nil {
			retryIn = w.conf.NackDelay(e, err)
		}
		w.l.Warn("handler failed", "id", e.ID, "topic", e.Topic, "attempt", e.Attempt, "error", err)
		if err := e.Nack(retryIn); err != nil {
			w.l.Debug("nack not sent", "id", e.ID, "error", err)
		}
		return
	}

	if err := e.Ack(); err != nil {
		w.l.Debug("ack not sent", "id", e.ID, "error", err)
	}
}

func (w *Worker) call(ctx context.Context, e *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.l.Error("handler panic", "id", e.ID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return w.conf.Handler(ctx, e)
}

func (w *Worker) deliveryFailed(err error) {
	w.l.Warn("delivery failed", "error", err)
	if w.conf.OnError != nil {
		w.conf.OnError(err)
	}
}
