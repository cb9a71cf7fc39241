package main

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/notif-sh/notif-go/notif"
	"github.com/spf13/cobra"
)

var errCountReached = errors.New("event count reached")

type subscribeFlags struct {
	group       string
	from        string
	noAck       bool
	count       int
	concurrency int
	timeout     time.Duration
	reconnect   time.Duration
}

func subscribeCmd(g *globals) *cobra.Command {
	var f subscribeFlags

	cmd := &cobra.Command{
		Use:   "subscribe <topics...>",
		Short: "Subscribe to topics",
		Long: `Subscribe to one or more topic patterns and print events as they
arrive. The connection is re-established after failures until the command
is interrupted.

Examples:
  notif subscribe 'orders.*'
  notif subscribe 'agents.>' --group processors --no-ack
  notif subscribe 'orders.*' --from beginning --count 10`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubscribe(cmd, g, f, args)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.group, "group", "", "consumer group sharing the deliveries")
	flags.StringVar(&f.from, "from", "", `start position: "latest", "beginning" or an RFC 3339 time`)
	flags.BoolVar(&f.noAck, "no-ack", false, "disable auto-ack; each event is acked after it is printed")
	flags.IntVar(&f.count, "count", 0, "exit after this many events")
	flags.IntVar(&f.concurrency, "concurrency", 1, "events handled at once")
	flags.DurationVar(&f.timeout, "timeout", 0, "give up after this long")
	flags.DurationVar(&f.reconnect, "reconnect-delay", 0, "wait between reconnects (default 5s)")

	return cmd
}

func runSubscribe(cmd *cobra.Command, g *globals, f subscribeFlags, topics []string) error {
	c, err := g.client(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if f.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	out := newPrinter(cmd.OutOrStdout(), g.json)
	status := newPrinter(cmd.ErrOrStderr(), false)

	var seen atomic.Int64
	w, err := c.NewWorker(notif.WorkerConfig{
		Concurrency: f.concurrency,
		Handler: func(_ context.Context, e *notif.Event) error {
			if f.count > 0 && seen.Add(1) > int64(f.count) {
				// Not printed: nack so the broker delivers it again.
				return errCountReached
			}
			if err := out.event(e); err != nil {
				return err
			}
			if f.count > 0 && seen.Load() >= int64(f.count) {
				cancel()
			}
			return nil
		},
		OnError: func(err error) {
			status.line("delivery error: %v", err)
		},
	})
	if err != nil {
		return err
	}
	defer w.Close()

	var opts []notif.SubscribeOption
	if f.noAck {
		opts = append(opts, notif.WithManualAck())
	}
	if f.from != "" {
		opts = append(opts, notif.WithFrom(f.from))
	}
	if f.group != "" {
		opts = append(opts, notif.WithGroup(f.group))
	}

	supOpts := []notif.SupervisorOption{
		notif.WithSubscribeOptions(opts...),
		notif.WithStatusHandler(func(s notif.Status, err error) {
			switch {
			case s == notif.StatusConnected:
				status.line("subscribed to %v", topics)
			case err != nil:
				status.line("%s: %v", s, err)
			}
		}),
	}
	if f.reconnect > 0 {
		supOpts = append(supOpts, notif.WithReconnectDelay(f.reconnect))
	}

	err = notif.NewSupervisor(c, topics, supOpts...).Run(ctx, w.Process)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return errors.New("timed out waiting for events")
	case errors.Is(err, context.Canceled):
		return nil
	}
	return err
}
