package notif

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamURL(t *testing.T) {
	tests := []struct {
		server string
		want   string
	}{
		{"https://api.notif.sh", "wss://api.notif.sh/ws?token=nsh_k"},
		{"http://localhost:8080", "ws://localhost:8080/ws?token=nsh_k"},
		{"http://localhost:8080/", "ws://localhost:8080/ws?token=nsh_k"},
		{"https://example.com/notif", "wss://example.com/notif/ws?token=nsh_k"},
	}

	for _, tt := range tests {
		c, err := New("nsh_k", WithServer(tt.server))
		require.NoError(t, err)
		assert.Equal(t, tt.want, c.streamURL(), tt.server)
	}
}

func TestConnStateString(t *testing.T) {
	assert.Equal(t, "handshaking", stateHandshaking.String())
	assert.Equal(t, "active", stateActive.String())
	assert.Equal(t, "closed", stateClosed.String())
	assert.Equal(t, "failed", stateFailed.String())
	assert.Equal(t, "connState(9)", connState(9).String())
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "auth", errorKind(&AuthError{}))
	assert.Equal(t, "api", errorKind(&APIError{}))
	assert.Equal(t, "connection", errorKind(&ConnectionError{Err: errors.New("x")}))
	assert.Equal(t, "protocol", errorKind(&ProtocolError{}))
	assert.Equal(t, "serialization", errorKind(&SerializationError{Err: errors.New("x")}))
	assert.Equal(t, "other", errorKind(errors.New("x")))
}

func TestDecisionFrame(t *testing.T) {
	assert.Equal(t, "ack", decision{id: "e1"}.String())
	assert.Equal(t, "nack", decision{id: "e1", nack: true}.String())
	assert.Equal(t, "5m", decision{id: "e1", nack: true, retryIn: "5m"}.frame().RetryIn)
}

func TestPumpPattern(t *testing.T) {
	p := &pump{topics: []string{"orders.created", "orders.*", "agents.>"}}

	assert.Equal(t, "orders.created", p.pattern("orders.created"))
	assert.Equal(t, "orders.*", p.pattern("orders.shipped"))
	assert.Equal(t, "agents.>", p.pattern("agents.a1.tasks.done"))
	assert.Equal(t, "unmatched", p.pattern("users.created"))
}
