package brokertest

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"
	"github.com/notif-sh/notif-go/protocol"
)

// session is one subscriber connection.
type session struct {
	b    *Broker
	conn *websocket.Conn
	id   string
	l    *slog.Logger

	// writeMu serializes writes. The handshake holds it so no event can
	// overtake the subscribed frame.
	writeMu sync.Mutex

	mu          sync.Mutex
	subscribed  bool
	closed      bool
	opts        protocol.SubscribeOptions
	maxAttempts int
	ackTimeout  time.Duration
	subs        []*nats.Subscription
	inflight    map[string]*inflight
}

type inflight struct {
	event protocol.Event
	timer *time.Timer
}

func (b *Broker) serveWS(w http.ResponseWriter, r *http.Request) {
	if !b.authorized(r) {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid api key")
		return
	}

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.l.Warn("upgrade failed", "error", err)
		return
	}

	s := &session{
		b:        b,
		conn:     conn,
		id:       fmt.Sprintf("consumer_%d", b.seq.Add(1)),
		inflight: make(map[string]*inflight),
	}
	s.l = b.l.With("consumer_id", s.id)
	b.addSession(s)
	s.serve()
}

func (s *session) serve() {
	defer s.close()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.l.Debug("session read ended", "error", err)
			return
		}
		s.handle(data)
	}
}

func (s *session) handle(data []byte) {
	f, err := protocol.DecodeClient(data)
	if err != nil {
		s.sendError("INVALID_JSON", "invalid JSON message")
		return
	}
	s.b.record(*f)

	switch f.Action {
	case protocol.ActionSubscribe:
		s.subscribe(f)
	case protocol.ActionAck:
		s.ack(f.ID)
	case protocol.ActionNack:
		s.nack(f.ID, f.RetryIn)
	case protocol.ActionPing:
		s.send(protocol.ServerFrame{Type: protocol.TypePong})
	default:
		s.sendError("UNKNOWN_ACTION", "unknown action: "+f.Action)
	}
}

func (s *session) subscribe(f *protocol.ClientFrame) {
	if len(f.Topics) == 0 {
		s.sendError("INVALID_TOPICS", "at least one topic required")
		return
	}
	for _, t := range f.Topics {
		if err := protocol.ValidatePattern(t); err != nil {
			s.sendError("INVALID_TOPICS", err.Error())
			return
		}
	}
	if rej := s.b.rejection(); rej != nil {
		s.send(*rej)
		return
	}

	opts := protocol.SubscribeOptions{AutoAck: true}
	if f.Options != nil {
		opts = *f.Options
	}
	since, replay, err := replayStart(opts.From)
	if err != nil {
		s.sendError("INVALID_OPTIONS", err.Error())
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.subscribed {
		s.mu.Unlock()
		s.writeError("ALREADY_SUBSCRIBED", "connection already has a subscription")
		return
	}
	s.subscribed = true
	s.opts = opts
	s.maxAttempts = s.b.maxAttempts
	if opts.MaxRetries > 0 {
		s.maxAttempts = opts.MaxRetries
	}
	if opts.AckTimeout != "" {
		s.ackTimeout = parseDelay(opts.AckTimeout)
	}
	s.mu.Unlock()

	for _, t := range f.Topics {
		var (
			sub *nats.Subscription
			err error
		)
		if opts.Group != "" {
			sub, err = s.b.nc.QueueSubscribe(t, opts.Group, s.onMsg)
		} else {
			sub, err = s.b.nc.Subscribe(t, s.onMsg)
		}
		if err != nil {
			s.l.Error("nats subscribe failed", "error", err, "topic", t)
			s.writeError("CONSUMER_ERROR", "failed to create subscription")
			return
		}
		s.mu.Lock()
		s.subs = append(s.subs, sub)
		s.mu.Unlock()
	}
	if err := s.b.nc.Flush(); err != nil {
		s.writeError("CONSUMER_ERROR", "failed to create subscription")
		return
	}

	if err := s.write(protocol.SubscribedFrame(f.Topics, s.id)); err != nil {
		return
	}
	s.l.Info("client subscribed", "topics", f.Topics, "group", opts.Group, "auto_ack", opts.AutoAck)

	if replay {
		for _, e := range s.b.replay(f.Topics, since) {
			s.deliverLocked(e)
		}
	}
}

// replayStart interprets the from option. Only "beginning" and timestamps replay history.
func replayStart(from string) (time.Time, bool, error) {
	switch from {
	case "", protocol.FromLatest:
		return time.Time{}, false, nil
	case protocol.FromBeginning:
		return time.Time{}, true, nil
	}
	t, err := time.Parse(time.RFC3339, from)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid from: %q", from)
	}
	return t, true, nil
}

func (s *session) onMsg(m *nats.Msg) {
	f, err := protocol.DecodeServer(m.Data)
	if err != nil {
		s.l.Error("failed to decode event", "error", err)
		return
	}
	e, err := f.Event(time.Now())
	if err != nil {
		s.l.Error("failed to decode event", "error", err)
		return
	}
	s.deliver(e)
}

func (s *session) deliver(e protocol.Event) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.deliverLocked(e)
}

func (s *session) deliverLocked(e protocol.Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	e.MaxAttempts = s.maxAttempts
	if !s.opts.AutoAck {
		in := &inflight{event: e}
		if s.ackTimeout > 0 {
			in.timer = time.AfterFunc(s.ackTimeout, func() {
				s.expire(e.ID)
			})
		}
		s.inflight[e.ID] = in
	}
	s.mu.Unlock()

	if err := s.write(protocol.EventFrame(e)); err != nil {
		s.l.Warn("failed to deliver event", "id", e.ID, "error", err)
	}
}

func (s *session) take(id string) (*inflight, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	in, ok := s.inflight[id]
	if ok {
		delete(s.inflight, id)
		if in.timer != nil {
			in.timer.Stop()
		}
	}
	return in, ok
}

func (s *session) ack(id string) {
	if _, ok := s.take(id); !ok {
		s.sendError("UNKNOWN_EVENT", "unknown event ID: "+id)
		return
	}
	s.l.Debug("event acked", "id", id)
}

func (s *session) nack(id, retryIn string) {
	in, ok := s.take(id)
	if !ok {
		s.sendError("UNKNOWN_EVENT", "unknown event ID: "+id)
		return
	}
	s.retry(in.event, parseDelay(retryIn))
}

func (s *session) expire(id string) {
	if in, ok := s.take(id); ok {
		s.l.Debug("ack timeout", "id", id)
		s.retry(in.event, 0)
	}
}

func (s *session) retry(e protocol.Event, delay time.Duration) {
	if e.Attempt >= e.MaxAttempts {
		s.b.deadLetter(e)
		return
	}
	e.Attempt++
	s.l.Debug("event scheduled for redelivery", "id", e.ID, "attempt", e.Attempt, "delay", delay)
	time.AfterFunc(delay, func() {
		s.deliver(e)
	})
}

func (s *session) isSubscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribed && !s.closed
}

func (s *session) send(f protocol.ServerFrame) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.write(f)
}

func (s *session) sendError(code, message string) {
	s.send(protocol.ErrorFrame(code, message))
}

func (s *session) writeError(code, message string) {
	_ = s.write(protocol.ErrorFrame(code, message))
}

func (s *session) sendRaw(data []byte) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.writeMessage(data)
}

// write requires writeMu.
func (s *session) write(f protocol.ServerFrame) error {
	data, err := protocol.Encode(f)
	if err != nil {
		return err
	}
	return s.writeMessage(data)
}

func (s *session) writeMessage(data []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := s.subs
	for id, in := range s.inflight {
		if in.timer != nil {
			in.timer.Stop()
		}
		delete(s.inflight, id)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
	s.conn.Close()
	s.b.removeSession(s)
	s.l.Info("session closed")
}
