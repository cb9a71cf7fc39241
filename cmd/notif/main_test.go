package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/notif-sh/notif-go/brokertest"
	"github.com/notif-sh/notif-go/config"
	"github.com/notif-sh/notif-go/models"
	"github.com/notif-sh/notif-go/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cli struct {
	b          *brokertest.Broker
	configPath string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	t.Setenv(config.EnvAPIKey, "")
	t.Setenv(config.EnvServer, "")
	return &cli{
		b:          brokertest.Run(t),
		configPath: filepath.Join(t.TempDir(), "config.yaml"),
	}
}

// run executes the root command against the test broker.
func (c *cli) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return c.exec(t, append([]string{"--server", c.b.URL(), "--api-key", c.b.APIKey()}, args...)...)
}

// exec executes the root command with only the config path preset.
func (c *cli) exec(t *testing.T, args ...string) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var out, errOut bytes.Buffer
	cmd := rootCmd()
	cmd.SetArgs(append([]string{"--config", c.configPath}, args...))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestEmit(t *testing.T) {
	c := newCLI(t)

	out, err := c.run(t, "emit", "orders.created", `{"order_id":"o1"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "to orders.created")

	out, err = c.run(t, "--json", "emit", "orders.shipped")
	require.NoError(t, err)
	var resp models.EmitResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "orders.shipped", resp.Topic)
	assert.NotEmpty(t, resp.ID)
}

func TestEmitErrors(t *testing.T) {
	c := newCLI(t)

	_, err := c.run(t, "emit", "orders.created", `{not json`)
	assert.ErrorContains(t, err, "not valid JSON")

	_, err = c.exec(t, "emit", "orders.created")
	assert.ErrorIs(t, err, errNoAPIKey)

	_, err = c.run(t, "emit")
	assert.Error(t, err)
}

func TestSubscribe(t *testing.T) {
	c := newCLI(t)

	for _, topic := range []string{"orders.created", "users.created", "orders.shipped"} {
		_, err := c.b.Publish(topic, map[string]string{"topic": topic})
		require.NoError(t, err)
	}

	out, err := c.run(t, "--json", "subscribe", "orders.*", "--from", "beginning", "--count", "2", "--timeout", "5s")
	require.NoError(t, err)

	var topics []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		var e eventLine
		require.NoError(t, json.Unmarshal([]byte(line), &e), line)
		topics = append(topics, e.Topic)
		assert.Equal(t, 1, e.Attempt)
	}
	assert.Equal(t, []string{"orders.created", "orders.shipped"}, topics)
}

func TestSubscribeCountAcksOnlyPrinted(t *testing.T) {
	c := newCLI(t)

	for i := range 5 {
		_, err := c.b.Publish("orders.created", map[string]int{"n": i})
		require.NoError(t, err)
	}

	out, err := c.run(t, "--json", "subscribe", "orders.*", "--from", "beginning", "--no-ack", "--count", "1", "--timeout", "5s")
	require.NoError(t, err)

	var printed eventLine
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out)), &printed), out)

	assert.Eventually(t, func() bool {
		return len(c.b.FramesWithAction(protocol.ActionAck)) == 1
	}, 5*time.Second, 10*time.Millisecond)
	// Let any late frames reach the broker before checking nothing else was acked.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []protocol.ClientFrame{protocol.Ack(printed.ID)}, c.b.FramesWithAction(protocol.ActionAck))
	for _, f := range c.b.FramesWithAction(protocol.ActionNack) {
		assert.NotEqual(t, printed.ID, f.ID)
	}
}

func TestSubscribeTimeout(t *testing.T) {
	c := newCLI(t)

	_, err := c.run(t, "subscribe", "orders.*", "--timeout", "200ms")
	assert.ErrorContains(t, err, "timed out")
}

func TestSchedules(t *testing.T) {
	c := newCLI(t)

	_, err := c.run(t, "schedule", "create", "reminders.due", `{"user":"u1"}`)
	assert.ErrorContains(t, err, "--at or --in")

	out, err := c.run(t, "schedule", "create", "reminders.due", `{"user":"u1"}`, "--in", "1h")
	require.NoError(t, err)
	assert.Contains(t, out, "scheduled ")

	_, err = c.run(t, "schedule", "create", "reports.daily", "--at", time.Now().Add(time.Hour).UTC().Format(time.RFC3339))
	require.NoError(t, err)

	schedules := c.b.Schedules()
	require.Len(t, schedules, 2)
	byTopic := map[string]string{}
	for _, s := range schedules {
		byTopic[s.Topic] = s.ID
	}

	out, err = c.run(t, "schedule", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "reminders.due")
	assert.Contains(t, out, "reports.daily")

	out, err = c.run(t, "schedule", "cancel", byTopic["reminders.due"])
	require.NoError(t, err)
	assert.Contains(t, out, "cancelled")

	out, err = c.run(t, "schedule", "run", byTopic["reports.daily"])
	require.NoError(t, err)
	assert.Contains(t, out, "from schedule "+byTopic["reports.daily"])

	out, err = c.run(t, "--json", "schedule", "list", "--status", "pending")
	require.NoError(t, err)
	var list models.ScheduleList
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	assert.Empty(t, list.Schedules)

	_, err = c.run(t, "schedule", "run", byTopic["reminders.due"])
	assert.Error(t, err, "cancelled schedules cannot run")
}

func TestConfig(t *testing.T) {
	c := newCLI(t)

	_, err := c.exec(t, "config", "set", "api_key", "nsh_cli_key_123")
	require.NoError(t, err)
	_, err = c.exec(t, "config", "set", "server", c.b.URL())
	require.NoError(t, err)
	_, err = c.exec(t, "config", "set", "color", "blue")
	assert.ErrorContains(t, err, "unknown key")

	saved, err := config.Read(c.configPath)
	require.NoError(t, err)
	assert.Equal(t, config.File{APIKey: "nsh_cli_key_123", Server: c.b.URL()}, saved)

	out, err := c.exec(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "nsh_cli_****")
	assert.NotContains(t, out, "nsh_cli_key_123")
	assert.Contains(t, out, c.b.URL())
}

func TestMask(t *testing.T) {
	assert.Equal(t, "(not set)", mask(""))
	assert.Equal(t, "****", mask("nsh_1"))
	assert.Equal(t, "nsh_abcd****", mask("nsh_abcdefgh"))
}
