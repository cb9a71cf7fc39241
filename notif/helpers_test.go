package notif_test

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/notif-sh/notif-go/config"
	"github.com/notif-sh/notif-go/notif"
	"github.com/notif-sh/notif-go/protocol"
	"github.com/stretchr/testify/require"
)

const testKey = "nsh_test"

func testLogger() *slog.Logger {
	if testing.Verbose() {
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.DiscardHandler)
}

// scriptServer is a websocket endpoint whose frames are driven by the test.
type scriptServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	// reply is sent instead of a subscribed frame when set.
	reply  string
	silent bool
	status int
	noPong bool

	conns chan *scriptConn
	wg    sync.WaitGroup

	mu   sync.Mutex
	live []*websocket.Conn
}

type scriptConn struct {
	conn      *websocket.Conn
	query     url.Values
	subscribe *protocol.ClientFrame
	frames    chan protocol.ClientFrame
	pings     chan struct{}
	closed    chan struct{}
	closeErr  error
}

type scriptOption func(s *scriptServer)

func withReply(raw string) scriptOption {
	return func(s *scriptServer) { s.reply = raw }
}

func withSilentHandshake() scriptOption {
	return func(s *scriptServer) { s.silent = true }
}

func withoutPong() scriptOption {
	return func(s *scriptServer) { s.noPong = true }
}

func withStatus(code int) scriptOption {
	return func(s *scriptServer) { s.status = code }
}

func newScriptServer(t *testing.T, opts ...scriptOption) *scriptServer {
	t.Helper()

	s := &scriptServer{conns: make(chan *scriptConn, 8)}
	for _, opt := range opts {
		opt(s)
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(func() {
		s.srv.Close()
		s.mu.Lock()
		for _, c := range s.live {
			c.Close()
		}
		s.mu.Unlock()
		s.wg.Wait()
	})
	return s
}

func (s *scriptServer) handle(w http.ResponseWriter, r *http.Request) {
	if s.status != 0 {
		http.Error(w, http.StatusText(s.status), s.status)
		return
	}
	s.wg.Add(1)
	defer s.wg.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.mu.Lock()
	s.live = append(s.live, conn)
	s.mu.Unlock()

	sc := &scriptConn{
		conn:   conn,
		query:  r.URL.Query(),
		frames: make(chan protocol.ClientFrame, 256),
		pings:  make(chan struct{}, 16),
		closed: make(chan struct{}),
	}
	conn.SetPingHandler(func(data string) error {
		select {
		case sc.pings <- struct{}{}:
		default:
		}
		if s.noPong {
			return nil
		}
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	_, data, err := conn.ReadMessage()
	if err != nil {
		return
	}
	if sc.subscribe, err = protocol.DecodeClient(data); err != nil {
		return
	}

	switch {
	case s.silent:
	case s.reply != "":
		_ = conn.WriteMessage(websocket.TextMessage, []byte(s.reply))
	default:
		_ = conn.WriteJSON(protocol.SubscribedFrame(sc.subscribe.Topics, "consumer-1"))
	}
	s.conns <- sc

	defer close(sc.closed)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			sc.closeErr = err
			return
		}
		f, err := protocol.DecodeClient(data)
		if err != nil {
			continue
		}
		sc.frames <- *f
	}
}

func (s *scriptServer) URL() string { return s.srv.URL }

func (s *scriptServer) accept(t *testing.T) *scriptConn {
	t.Helper()
	select {
	case c := <-s.conns:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("no connection")
		return nil
	}
}

func (c *scriptConn) send(t *testing.T, raw string) {
	t.Helper()
	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte(raw)))
}

func (c *scriptConn) sendBinary(t *testing.T, raw string) {
	t.Helper()
	require.NoError(t, c.conn.WriteMessage(websocket.BinaryMessage, []byte(raw)))
}

func (c *scriptConn) next(t *testing.T) protocol.ClientFrame {
	t.Helper()
	select {
	case f := <-c.frames:
		return f
	case <-time.After(5 * time.Second):
		t.Fatal("no frame from client")
		return protocol.ClientFrame{}
	}
}

func (c *scriptConn) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-c.closed:
	case <-time.After(5 * time.Second):
		t.Fatal("client did not close the connection")
	}
}

// received drains frames sent before the connection closed.
func (c *scriptConn) received() []protocol.ClientFrame {
	var out []protocol.ClientFrame
	for {
		select {
		case f := <-c.frames:
			out = append(out, f)
		default:
			return out
		}
	}
}

func newTestClient(t *testing.T, server string, opts ...notif.Option) *notif.Client {
	t.Helper()

	cfg := config.Default()
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.Reconnect.Delay = 20 * time.Millisecond

	base := []notif.Option{
		notif.WithServer(server),
		notif.WithLogger(testLogger()),
		notif.WithStreamConfig(cfg),
	}
	c, err := notif.New(testKey, append(base, opts...)...)
	require.NoError(t, err)
	return c
}
