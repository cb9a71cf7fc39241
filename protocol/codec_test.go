package protocol_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/notif-sh/notif-go/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeClientFrames(t *testing.T) {
	tests := []struct {
		name  string
		frame protocol.ClientFrame
		want  string
	}{
		{
			name:  "subscribe with defaults",
			frame: protocol.Subscribe([]string{"orders.*"}, protocol.SubscribeOptions{AutoAck: true}),
			want:  `{"action":"subscribe","topics":["orders.*"],"options":{"auto_ack":true}}`,
		},
		{
			name: "subscribe with group and start",
			frame: protocol.Subscribe([]string{"a.>", "b"}, protocol.SubscribeOptions{
				From:  protocol.FromBeginning,
				Group: "workers",
			}),
			want: `{"action":"subscribe","topics":["a.>","b"],"options":{"auto_ack":false,"from":"beginning","group":"workers"}}`,
		},
		{
			name:  "ack",
			frame: protocol.Ack("e1"),
			want:  `{"action":"ack","id":"e1"}`,
		},
		{
			name:  "nack with delay",
			frame: protocol.Nack("e1", "5m"),
			want:  `{"action":"nack","id":"e1","retry_in":"5m"}`,
		},
		{
			name:  "nack with broker default",
			frame: protocol.Nack("e2", ""),
			want:  `{"action":"nack","id":"e2"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := protocol.Encode(tt.frame)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}
}

func TestDecodeEventDefaults(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	f, err := protocol.DecodeServer([]byte(`{"type":"event","id":"e1","topic":"orders.created"}`))
	require.NoError(t, err)

	e, err := f.Event(now)
	require.NoError(t, err)
	assert.Equal(t, "e1", e.ID)
	assert.Equal(t, "orders.created", e.Topic)
	assert.JSONEq(t, "null", string(e.Data))
	assert.Equal(t, now, e.Timestamp)
	assert.Equal(t, 1, e.Attempt)
	assert.Equal(t, 3, e.MaxAttempts)
}

func TestDecodeEventFull(t *testing.T) {
	raw := `{"type":"event","id":"e9","topic":"agents.a.done","data":{"order_id":"o1"},
		"timestamp":"2025-01-02T03:04:05Z","attempt":2,"max_attempts":5}`

	f, err := protocol.DecodeServer([]byte(raw))
	require.NoError(t, err)

	e, err := f.Event(time.Now())
	require.NoError(t, err)
	assert.JSONEq(t, `{"order_id":"o1"}`, string(e.Data))
	assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), e.Timestamp.UTC())
	assert.Equal(t, 2, e.Attempt)
	assert.Equal(t, 5, e.MaxAttempts)
}

func TestDecodeEventMissingFields(t *testing.T) {
	for _, raw := range []string{
		`{"type":"event","topic":"orders.created"}`,
		`{"type":"event","id":"e1"}`,
		`{"type":"event","id":"","topic":""}`,
	} {
		f, err := protocol.DecodeServer([]byte(raw))
		require.NoError(t, err)

		_, err = f.Event(time.Now())
		assert.ErrorIs(t, err, protocol.ErrMissingField, raw)
	}
}

func TestDecodeServerErrors(t *testing.T) {
	_, err := protocol.DecodeServer([]byte(`{"type":`))
	assert.ErrorIs(t, err, protocol.ErrMalformedFrame)

	_, err = protocol.DecodeServer([]byte(`{"type":"event","id":"e1","topic":"t","timestamp":"yesterday"}`))
	assert.ErrorIs(t, err, protocol.ErrMalformedFrame)

	f, err := protocol.DecodeServer([]byte(`{"type":"pong"}`))
	require.NoError(t, err)
	_, err = f.Event(time.Now())
	assert.ErrorIs(t, err, protocol.ErrNotEvent)
}

func TestDecodeHandshakeFrames(t *testing.T) {
	f, err := protocol.DecodeServer([]byte(`{"type":"subscribed","topics":["orders.*"],"consumer_id":"c-1"}`))
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeSubscribed, f.Type)
	assert.Equal(t, []string{"orders.*"}, f.Topics)
	assert.Equal(t, "c-1", f.ConsumerID)

	f, err = protocol.DecodeServer([]byte(`{"type":"error","code":"FORBIDDEN","message":"topic not allowed"}`))
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeError, f.Type)
	assert.Equal(t, "FORBIDDEN", f.Code)
	assert.Equal(t, "topic not allowed", f.Message)
}

func TestEventFrameRoundTrip(t *testing.T) {
	ts := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	in := protocol.Event{
		ID:          "e1",
		Topic:       "orders.created",
		Data:        json.RawMessage(`{"n":1}`),
		Timestamp:   ts,
		Attempt:     2,
		MaxAttempts: 3,
	}

	data, err := protocol.Encode(protocol.EventFrame(in))
	require.NoError(t, err)

	f, err := protocol.DecodeServer(data)
	require.NoError(t, err)
	out, err := f.Event(time.Now())
	require.NoError(t, err)
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.Attempt, out.Attempt)
	assert.True(t, ts.Equal(out.Timestamp))
	assert.JSONEq(t, `{"n":1}`, string(out.Data))
}

func TestDecodeClient(t *testing.T) {
	f, err := protocol.DecodeClient([]byte(`{"action":"nack","id":"e1","retry_in":"30s"}`))
	require.NoError(t, err)
	assert.Equal(t, protocol.Nack("e1", "30s"), *f)

	_, err = protocol.DecodeClient([]byte(`{"id":"e1"}`))
	assert.ErrorIs(t, err, protocol.ErrMalformedFrame)
}
