// Package notif is a client for the notif.sh event service: one-shot emits,
// scheduled emits and durable WebSocket subscriptions.
package notif

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/notif-sh/notif-go/config"
	"github.com/notif-sh/notif-go/models"
	"github.com/notif-sh/notif-go/protocol"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultTimeout = 30 * time.Second

	apiKeyPrefix = "nsh_"
	tracerName   = "github.com/notif-sh/notif-go"
	userAgent    = "notif-go"
	maxBodySize  = 1 << 20
)

type Client struct {
	apiKey string
	server string
	base   *url.URL

	timeout    time.Duration
	httpClient *http.Client
	dialer     *websocket.Dialer
	stream     config.StreamConfig

	l       *slog.Logger
	metrics *Metrics
	tp      trace.TracerProvider
	tracer  trace.Tracer
}

// New creates a client. The API key must start with "nsh_".
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, &AuthError{Reason: "api key is required"}
	}
	if !strings.HasPrefix(apiKey, apiKeyPrefix) {
		return nil, &AuthError{Reason: "api key must start with " + apiKeyPrefix}
	}

	c := &Client{
		apiKey:  apiKey,
		server:  config.DefaultServer,
		timeout: DefaultTimeout,
		stream:  config.Default(),
		l:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.server = strings.TrimRight(c.server, "/")
	u, err := url.Parse(c.server)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return nil, fmt.Errorf("invalid scheme: %q (expected http or https)", u.Scheme)
	}
	c.base = u

	c.stream.ApplyDefaults()
	if c.tp == nil {
		c.tp = otel.GetTracerProvider()
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Timeout:   c.timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport, otelhttp.WithTracerProvider(c.tp)),
		}
	}
	if c.dialer == nil {
		c.dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: c.stream.HandshakeTimeout,
		}
	}
	c.tracer = c.tp.Tracer(tracerName)
	c.l = c.l.With("component", "notif")

	return c, nil
}

// FromEnv creates a client from NOTIF_API_KEY and, when set, NOTIF_SERVER.
// Explicit options take precedence.
func FromEnv(opts ...Option) (*Client, error) {
	if server := os.Getenv(config.EnvServer); server != "" {
		opts = append([]Option{WithServer(server)}, opts...)
	}
	return New(os.Getenv(config.EnvAPIKey), opts...)
}

// FromConfig creates a client from a loaded config file.
func FromConfig(f config.File, opts ...Option) (*Client, error) {
	if f.Server != "" {
		opts = append([]Option{WithServer(f.Server)}, opts...)
	}
	return New(f.APIKey, opts...)
}

// Server returns the HTTP base URL.
func (c *Client) Server() string {
	return c.server
}

// streamURL derives <server>/ws?token=<key> with the websocket scheme.
func (c *Client) streamURL() string {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	q := u.Query()
	q.Set("token", c.apiKey)
	u.RawQuery = q.Encode()
	return u.String()
}

// Emit publishes data under topic. data is marshaled to JSON; json.RawMessage is sent as is.
func (c *Client) Emit(ctx context.Context, topic string, data any) (*models.EmitResponse, error) {
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	raw, err := marshalData(data)
	if err != nil {
		return nil, err
	}

	var resp models.EmitResponse
	err = c.call(ctx, "emit", []attribute.KeyValue{attribute.String("notif.topic", topic)}, func(ctx context.Context) error {
		return c.do(ctx, http.MethodPost, "/api/v1/emit", nil, models.EmitRequest{Topic: topic, Data: raw}, &resp)
	})
	if err != nil {
		return nil, err
	}
	c.l.Debug("event emitted", "topic", topic, "id", resp.ID)
	return &resp, nil
}

// call wraps an API request in a span and records its outcome.
func (c *Client) call(ctx context.Context, op string, attrs []attribute.KeyValue, fn func(ctx context.Context) error) error {
	ctx, span := c.tracer.Start(ctx, "notif."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	defer span.End()

	err := fn(ctx)
	c.metrics.request(op, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return &SerializationError{Err: err}
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.server+path, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	if len(query) > 0 {
		req.URL.RawQuery = query.Encode()
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("User-Agent", userAgent)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ConnectionError{Op: "request", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return &ConnectionError{Op: "read response", Err: err}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return &AuthError{Reason: "invalid api key"}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(resp.StatusCode, respBody)
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &SerializationError{Err: fmt.Errorf("decode %s %s response: %w", method, path, err)}
	}
	return nil
}

// newAPIError keeps the body as the message and picks up the code when the
// body is a JSON error object.
func newAPIError(status int, body []byte) *APIError {
	e := &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
	var er models.ErrorResponse
	if json.Unmarshal(body, &er) == nil {
		e.Code = er.Code
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

func marshalData(data any) (json.RawMessage, error) {
	switch v := data.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, &SerializationError{Err: fmt.Errorf("invalid json payload")}
		}
		return v, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, &SerializationError{Err: err}
	}
	return raw, nil
}

func validateTopics(topics []string) error {
	if len(topics) == 0 {
		return ErrNoTopics
	}
	for _, t := range topics {
		if err := protocol.ValidatePattern(t); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidTopic, err)
		}
	}
	return nil
}
