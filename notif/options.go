package notif

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/notif-sh/notif-go/config"
	"go.opentelemetry.io/otel/trace"
)

type Option func(c *Client)

// WithServer sets the HTTP(S) base URL. The streaming endpoint is derived from it.
func WithServer(server string) Option {
	return func(c *Client) {
		c.server = server
	}
}

// WithHTTPClient replaces the default client, whose transport is instrumented
// with otelhttp. Wrap hc's transport with otelhttp to keep request spans.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout bounds HTTP API calls. It is ignored when WithHTTPClient is used.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.l = l
	}
}

func WithMetrics(m *Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

func WithStreamConfig(cfg config.StreamConfig) Option {
	return func(c *Client) {
		c.stream = cfg
	}
}

func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		c.dialer = d
	}
}

// WithTracerProvider overrides the global OpenTelemetry provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		c.tp = tp
	}
}
