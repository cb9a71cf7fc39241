package notif_test

import (
	"context"
	"testing"

	"github.com/notif-sh/notif-go/notif"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicMux(t *testing.T) {
	var got []string
	record := func(name string) notif.Handler {
		return func(_ context.Context, e *notif.Event) error {
			got = append(got, name+":"+e.Topic)
			return nil
		}
	}

	m := notif.NewTopicMux()
	require.NoError(t, m.Handle("orders.created", record("created")))
	require.NoError(t, m.Handle("orders.*", record("orders")))
	require.NoError(t, m.Handle("agents.>", record("agents")))
	assert.Equal(t, []string{"orders.created", "orders.*", "agents.>"}, m.Patterns())

	ctx := context.Background()
	for _, topic := range []string{"orders.created", "orders.shipped", "agents.a1.done", "users.created"} {
		require.NoError(t, m.Serve(ctx, &notif.Event{Topic: topic}))
	}
	assert.Equal(t, []string{"created:orders.created", "orders:orders.shipped", "agents:agents.a1.done"}, got)

	m.NotFound(record("fallback"))
	require.NoError(t, m.Serve(ctx, &notif.Event{Topic: "users.created"}))
	assert.Equal(t, "fallback:users.created", got[len(got)-1])
}

func TestTopicMuxHandleErrors(t *testing.T) {
	m := notif.NewTopicMux()
	noop := func(context.Context, *notif.Event) error { return nil }

	assert.ErrorIs(t, m.Handle("orders.*", nil), notif.ErrNilHandler)
	for _, pattern := range []string{"", "orders..created", "orders.>.x", "ord*"} {
		assert.ErrorIs(t, m.Handle(pattern, noop), notif.ErrInvalidTopic, pattern)
	}
	assert.Empty(t, m.Patterns())
}

func TestTopicMuxHandlerError(t *testing.T) {
	m := notif.NewTopicMux()
	require.NoError(t, m.Handle("orders.*", func(context.Context, *notif.Event) error {
		return assert.AnError
	}))
	assert.ErrorIs(t, m.Serve(context.Background(), &notif.Event{Topic: "orders.x"}), assert.AnError)
}
