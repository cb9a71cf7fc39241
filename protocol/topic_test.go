package protocol_test

import (
	"testing"

	"github.com/notif-sh/notif-go/protocol"
	"github.com/stretchr/testify/assert"
)

func TestValidatePattern(t *testing.T) {
	valid := []string{"orders", "orders.*", "agents.>", "*.created", ">", "a.*.c.>"}
	for _, p := range valid {
		assert.NoError(t, protocol.ValidatePattern(p), p)
	}

	invalid := []string{"", "orders.", ".orders", "a..b", "a.>.b", "ord*", "a.b>", "a b"}
	for _, p := range invalid {
		assert.ErrorIs(t, protocol.ValidatePattern(p), protocol.ErrInvalidPattern, p)
	}
}

func TestValidateTopic(t *testing.T) {
	assert.NoError(t, protocol.ValidateTopic("orders.created"))
	assert.Error(t, protocol.ValidateTopic("orders.*"))
	assert.Error(t, protocol.ValidateTopic("orders.>"))
}

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern string
		topic   string
		want    bool
	}{
		{"orders.created", "orders.created", true},
		{"orders.created", "orders.updated", false},
		{"orders.*", "orders.created", true},
		{"orders.*", "orders.created.eu", false},
		{"orders.*", "orders", false},
		{"agents.>", "agents.a", true},
		{"agents.>", "agents.a.b.c", true},
		{"agents.>", "agents", false},
		{"*.created", "users.created", true},
		{">", "anything.at.all", true},
		{"a.*.c", "a.b.c", true},
		{"a.*.c", "a.b.d", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, protocol.Match(tt.pattern, tt.topic), "%s ~ %s", tt.pattern, tt.topic)
	}
}
