package notif

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/notif-sh/notif-go/config"
	"github.com/notif-sh/notif-go/protocol"
)

type connState int

const (
	stateHandshaking connState = iota
	stateActive
	stateClosed
	stateFailed
)

func (s connState) String() string {
	switch s {
	case stateHandshaking:
		return "handshaking"
	case stateActive:
		return "active"
	case stateClosed:
		return "closed"
	case stateFailed:
		return "failed"
	default:
		return fmt.Sprintf("connState(%d)", int(s))
	}
}

type delivery struct {
	event *Event
	err   error
}

type inbound struct {
	data []byte
	err  error
}

// pump owns one websocket connection for the lifetime of one subscription.
// After the handshake a reader goroutine feeds frames to the loop, which owns
// every write and is the only writer of state and err.
type pump struct {
	conn    *websocket.Conn
	topics  []string
	cfg     config.StreamConfig
	autoAck bool
	l       *slog.Logger
	metrics *Metrics

	state connState
	err   error // terminal cause, set before events is closed

	events chan delivery
	acks   chan decision
	frames chan inbound
	ack    *acker

	done       chan struct{} // closed by Subscription.Close
	quit       chan struct{} // stops the reader
	readerDone chan struct{}
	exited     chan struct{} // closed once both goroutines have returned

	ping *time.Ticker
}

func newPump(conn *websocket.Conn, topics []string, cfg config.StreamConfig, autoAck bool, l *slog.Logger, m *Metrics) *pump {
	p := &pump{
		conn:       conn,
		topics:     topics,
		cfg:        cfg,
		autoAck:    autoAck,
		l:          l,
		metrics:    m,
		state:      stateHandshaking,
		events:     make(chan delivery, cfg.BufferSize),
		acks:       make(chan decision, cfg.BufferSize),
		frames:     make(chan inbound),
		done:       make(chan struct{}),
		quit:       make(chan struct{}),
		readerDone: make(chan struct{}),
		exited:     make(chan struct{}),
	}
	if !autoAck {
		p.ack = &acker{acks: p.acks, done: p.done, exited: p.exited}
	}
	return p
}

// connect dials the streaming endpoint and completes the subscribe handshake.
// On failure the socket is closed and nothing is left running.
func (c *Client) connect(ctx context.Context, topics []string, opts SubscribeOptions) (*pump, *protocol.ServerFrame, error) {
	l := c.l.With("transport", "websocket", "topics", topics)

	header := http.Header{}
	header.Set("User-Agent", userAgent)

	conn, resp, err := c.dialer.DialContext(ctx, c.streamURL(), header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, nil, &AuthError{Reason: "invalid api key"}
		}
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		return nil, nil, &ConnectionError{Op: "dial", Err: err}
	}

	p := newPump(conn, topics, c.stream, opts.AutoAck, l, c.metrics)
	reply, err := p.handshake(ctx, protocol.Subscribe(topics, opts.frame()))
	if err != nil {
		conn.Close()
		p.l.Warn("subscribe handshake failed", "error", err)
		return nil, nil, err
	}

	p.l = p.l.With("consumer_id", reply.ConsumerID)
	p.start()
	return p, reply, nil
}

func (p *pump) handshake(ctx context.Context, subscribe protocol.ClientFrame) (*protocol.ServerFrame, error) {
	stop := context.AfterFunc(ctx, func() {
		p.conn.Close()
	})

	reply, err := p.awaitSubscribed(subscribe)
	if !stop() {
		return nil, &ConnectionError{Op: "handshake", Err: ctx.Err()}
	}
	return reply, err
}

// awaitSubscribed sends the subscribe frame and reads exactly one reply.
func (p *pump) awaitSubscribed(subscribe protocol.ClientFrame) (*protocol.ServerFrame, error) {
	if err := p.write(subscribe); err != nil {
		return nil, err
	}

	if err := p.conn.SetReadDeadline(time.Now().Add(p.cfg.HandshakeTimeout)); err != nil {
		return nil, &ConnectionError{Op: "handshake", Err: err}
	}
	_, data, err := p.conn.ReadMessage()
	if err != nil {
		return nil, &ConnectionError{Op: "handshake", Err: err}
	}

	f, err := protocol.DecodeServer(data)
	if err != nil {
		return nil, &ProtocolError{Reason: "handshake reply", Err: err}
	}

	switch f.Type {
	case protocol.TypeSubscribed:
		return f, nil
	case protocol.TypeError:
		msg := f.Message
		if msg == "" {
			msg = "subscription error"
		}
		return nil, &APIError{StatusCode: http.StatusBadRequest, Code: f.Code, Message: msg}
	default:
		return nil, &ProtocolError{Reason: fmt.Sprintf("unexpected %q frame during handshake", f.Type)}
	}
}

func (p *pump) start() {
	p.state = stateActive
	p.ping = time.NewTicker(p.cfg.Keepalive.PingPeriod)
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(p.cfg.Keepalive.PongWait))
	})
	p.metrics.connectionUp()
	p.l.Info("subscribed", "auto_ack", p.autoAck)

	go p.read()
	go p.run()
}

// read owns the read half. Frames are handed over unbuffered so a slow
// consumer throttles reading.
func (p *pump) read() {
	defer close(p.readerDone)

	for {
		// The deadline starts when reading resumes, not when the previous frame
		// was handed over, so a blocked consumer does not expire it.
		if err := p.conn.SetReadDeadline(time.Now().Add(p.cfg.Keepalive.PongWait)); err != nil {
			p.deliverFrame(inbound{err: err})
			return
		}
		mt, data, err := p.conn.ReadMessage()
		if err == nil && mt != websocket.TextMessage {
			p.l.Debug("ignoring non-text message", "message_type", mt, "size", len(data))
			continue
		}
		if !p.deliverFrame(inbound{data: data, err: err}) || err != nil {
			return
		}
	}
}

func (p *pump) deliverFrame(in inbound) bool {
	select {
	case p.frames <- in:
		return true
	case <-p.quit:
		return false
	}
}

func (p *pump) run() {
	defer p.shutdown()

	for {
		select {
		case in := <-p.frames:
			if in.err != nil {
				p.fail(&ConnectionError{Op: "read", Err: in.err})
				return
			}
			if !p.dispatch(in.data) {
				return
			}
		case d := <-p.acks:
			if err := p.send(d); err != nil {
				p.fail(err)
				return
			}
		case <-p.ping.C:
			if err := p.sendPing(); err != nil {
				p.fail(err)
				return
			}
		case <-p.done:
			return
		}
	}
}

// dispatch turns one inbound frame into at most one delivery. It returns false
// when the loop must stop.
func (p *pump) dispatch(data []byte) bool {
	f, err := protocol.DecodeServer(data)
	if err != nil {
		return p.push(delivery{err: &ProtocolError{Reason: "undecodable frame", Err: err}})
	}

	switch f.Type {
	case protocol.TypeEvent:
		e, err := f.Event(time.Now())
		if err != nil {
			return p.push(delivery{err: &ProtocolError{Reason: "event frame", Err: err}})
		}
		p.metrics.eventReceived(p.pattern(e.Topic))
		p.l.Debug("event received", "id", e.ID, "topic", e.Topic, "attempt", e.Attempt)
		return p.push(delivery{event: newEvent(e, p.ack)})
	case protocol.TypeError:
		msg := f.Message
		if msg == "" {
			msg = "unknown error"
		}
		return p.push(delivery{err: &APIError{StatusCode: http.StatusBadRequest, Code: f.Code, Message: msg}})
	default:
		p.l.Debug("ignoring frame", "type", f.Type)
		return true
	}
}

// push waits for room in the event channel. While waiting it keeps writing
// acknowledgments and pings, otherwise a consumer blocked on Ack and a pump
// blocked on push would wait for each other.
func (p *pump) push(d delivery) bool {
	if d.err != nil {
		p.metrics.deliveryError(d.err)
		p.l.Warn("delivery error", "error", d.err)
	}

	for {
		select {
		case p.events <- d:
			return true
		case dec := <-p.acks:
			if err := p.send(dec); err != nil {
				p.fail(err)
				return false
			}
		case <-p.ping.C:
			if err := p.sendPing(); err != nil {
				p.fail(err)
				return false
			}
		case <-p.done:
			return false
		}
	}
}

// pattern returns the first subscribed pattern matching topic, keeping
// metric labels bounded by the subscription rather than by the topic space.
func (p *pump) pattern(topic string) string {
	for _, t := range p.topics {
		if protocol.Match(t, topic) {
			return t
		}
	}
	return "unmatched"
}

func (p *pump) send(d decision) error {
	if err := p.write(d.frame()); err != nil {
		return err
	}
	p.metrics.ackSent(d.String())
	p.l.Debug("decision sent", "id", d.id, "decision", d.String(), "retry_in", d.retryIn)
	return nil
}

func (p *pump) write(f protocol.ClientFrame) error {
	data, err := protocol.Encode(f)
	if err != nil {
		return &SerializationError{Err: err}
	}
	if err := p.conn.SetWriteDeadline(time.Now().Add(p.cfg.Keepalive.WriteWait)); err != nil {
		return &ConnectionError{Op: "write", Err: err}
	}
	if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return &ConnectionError{Op: "write", Err: err}
	}
	return nil
}

func (p *pump) sendPing() error {
	deadline := time.Now().Add(p.cfg.Keepalive.WriteWait)
	if err := p.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
		return &ConnectionError{Op: "ping", Err: err}
	}
	return nil
}

func (p *pump) fail(err error) {
	p.err = err
	p.state = stateFailed

	var ce *websocket.CloseError
	if errors.As(err, &ce) && (ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway) {
		p.state = stateClosed
	}
}

// flush writes the decisions accepted before Close. It stops at the first
// write error or once WriteWait has passed.
func (p *pump) flush() {
	p.ack.close()

	deadline := time.Now().Add(p.cfg.Keepalive.WriteWait)
	for n := 0; ; n++ {
		select {
		case d := <-p.acks:
			if time.Now().After(deadline) {
				p.l.Warn("decisions dropped on close", "flushed", n, "pending", len(p.acks)+1)
				return
			}
			if err := p.send(d); err != nil {
				p.l.Warn("flushing decisions failed", "flushed", n, "error", err)
				return
			}
		default:
			if n > 0 {
				p.l.Debug("decisions flushed on close", "count", n)
			}
			return
		}
	}
}

// shutdown runs exactly once, when run returns.
func (p *pump) shutdown() {
	close(p.quit)

	if p.err == nil {
		p.state = stateClosed
		p.flush()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = p.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(p.cfg.Keepalive.WriteWait))
	}
	p.conn.Close()
	<-p.readerDone
	p.ping.Stop()
	p.metrics.connectionDown()

	if p.state == stateFailed {
		p.l.Warn("subscription connection lost", "error", p.err)
	} else {
		p.l.Info("subscription connection closed", "state", p.state)
	}

	close(p.events)
	close(p.exited)
}
