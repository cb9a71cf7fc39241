// Package config holds stream tuning parameters and the on-disk client configuration.
package config

import "time"

const (
	DefaultBufferSize       = 100
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultPongWait         = 60 * time.Second
	DefaultPingPeriod       = (DefaultPongWait * 9) / 10
	DefaultWriteWait        = 10 * time.Second
	DefaultReconnectDelay   = 5 * time.Second
)

// StreamConfig tunes a single subscription connection.
type StreamConfig struct {
	// BufferSize bounds both the event and the acknowledgment channel.
	BufferSize       int
	HandshakeTimeout time.Duration
	Keepalive        Keepalive
	Reconnect        Reconnect
}

type Keepalive struct {
	PingPeriod time.Duration
	PongWait   time.Duration
	WriteWait  time.Duration
}

// Reconnect is a fixed delay between attempts. There is no backoff and no limit.
type Reconnect struct {
	Delay time.Duration
}

// Default returns a config with every field set.
func Default() StreamConfig {
	var c StreamConfig
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills zero fields.
func (c *StreamConfig) ApplyDefaults() {
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Keepalive.PongWait <= 0 {
		c.Keepalive.PongWait = DefaultPongWait
	}
	if c.Keepalive.PingPeriod <= 0 || c.Keepalive.PingPeriod >= c.Keepalive.PongWait {
		c.Keepalive.PingPeriod = (c.Keepalive.PongWait * 9) / 10
	}
	if c.Keepalive.WriteWait <= 0 {
		c.Keepalive.WriteWait = DefaultWriteWait
	}
	if c.Reconnect.Delay <= 0 {
		c.Reconnect.Delay = DefaultReconnectDelay
	}
}
