package bridge

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rustpanel-project/rustpanel/internal/events"
	"github.com/rustpanel-project/rustpanel/internal/protocol"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// stateLog records connection state events and transport errors.
type stateLog struct {
	mu     sync.Mutex
	states []State
	errs   []error
}

func newStateLog(bus *events.EventBus) *stateLog {
	l := &stateLog{}
	bus.Subscribe(events.EventConnectionState, "test", func(ctx context.Context, e events.Event) error {
		p := e.Payload.(events.ConnectionStatePayload)
		l.mu.Lock()
		l.states = append(l.states, p.State)
		l.mu.Unlock()
		return nil
	})
	bus.Subscribe(events.EventBridgeError, "test", func(ctx context.Context, e events.Event) error {
		p := e.Payload.(events.ErrorPayload)
		l.mu.Lock()
		l.errs = append(l.errs, p.Err)
		l.mu.Unlock()
		return nil
	})
	return l
}

func (l *stateLog) snapshot() ([]State, []error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State(nil), l.states...), append([]error(nil), l.errs...)
}

func equalStates(a, b []State) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// echoServer upgrades and echoes every binary message back.
func echoServer(t *testing.T) (*httptest.Server, chan string) {
	t.Helper()
	paths := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, paths
}

func TestConnectSendReceive(t *testing.T) {
	srv, paths := echoServer(t)
	bus := events.NewEventBus()
	log := newStateLog(bus)

	received := make(chan []byte, 4)
	handler := MessageHandlerFunc(func(ctx context.Context, data []byte) error {
		received <- data
		return nil
	})

	c := NewClient(handler, bus, nil, DefaultOptions())
	if err := c.Connect(context.Background(), wsURL(srv), "s3cret"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(c.Disconnect)

	if p := <-paths; p != "/s3cret" {
		t.Fatalf("credential path = %q, want /s3cret", p)
	}
	if !c.IsConnected() {
		t.Fatalf("state = %s, want connected", c.State())
	}
	if strings.Contains(c.Address(), "s3cret") {
		t.Fatalf("address leaks credential: %s", c.Address())
	}

	frame := protocol.NewRequest(protocol.RPCServerInfo).WriteString("hello").Bytes()
	if err := c.Send(context.Background(), frame); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case got := <-received:
		if !bytes.Equal(got, frame) {
			t.Fatalf("echo mismatch: got %x want %x", got, frame)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no message received")
	}

	states, _ := log.snapshot()
	if !equalStates(states, []State{StateConnecting, StateConnected}) {
		t.Fatalf("states = %v", states)
	}
}

func TestLargeMessageReassembled(t *testing.T) {
	srv, _ := echoServer(t)
	received := make(chan []byte, 1)
	c := NewClient(MessageHandlerFunc(func(ctx context.Context, data []byte) error {
		received <- data
		return nil
	}), nil, nil, DefaultOptions())

	if err := c.Connect(context.Background(), wsURL(srv), ""); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(c.Disconnect)

	payload := bytes.Repeat([]byte{0xAB, 0xCD, 0xEF}, 100000)
	if err := c.Send(context.Background(), payload); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case got := <-received:
		if !bytes.Equal(got, payload) {
			t.Fatalf("reassembled %d bytes, want %d", len(got), len(payload))
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no message received")
	}
}

func TestHandlerPanicDoesNotStopLoop(t *testing.T) {
	srv, _ := echoServer(t)
	received := make(chan []byte, 2)
	first := true
	c := NewClient(MessageHandlerFunc(func(ctx context.Context, data []byte) error {
		if first {
			first = false
			panic("bad handler")
		}
		received <- data
		return nil
	}), nil, nil, DefaultOptions())

	if err := c.Connect(context.Background(), wsURL(srv), ""); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(c.Disconnect)

	c.Send(context.Background(), []byte("one-----"))
	c.Send(context.Background(), []byte("two-----"))

	select {
	case got := <-received:
		if string(got) != "two-----" {
			t.Fatalf("got %q", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("loop stopped after handler panic")
	}
	if !c.IsConnected() {
		t.Fatalf("client disconnected after handler panic")
	}
}

func TestSendFailureDisconnects(t *testing.T) {
	srv, _ := echoServer(t)
	bus := events.NewEventBus()
	log := newStateLog(bus)

	c := NewClient(nil, bus, nil, DefaultOptions())
	if err := c.Connect(context.Background(), wsURL(srv), ""); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(c.Disconnect)

	// a deadline in the past fails the write without touching the read side
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	err := c.Send(ctx, protocol.NewRequest(protocol.RPCServerInfo).Bytes())
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}

	waitFor(t, "disconnect after send failure", func() bool {
		states, _ := log.snapshot()
		return len(states) == 4
	})
	states, errs := log.snapshot()
	want := []State{StateConnecting, StateConnected, StateDisconnecting, StateDisconnected}
	if !equalStates(states, want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	if len(errs) != 1 || !errors.Is(errs[0], ErrTransport) {
		t.Fatalf("error events = %v, want one transport error", errs)
	}
}

func TestOversizedMessageDisconnects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.BinaryMessage, make([]byte, 4096))
		conn.WriteMessage(websocket.BinaryMessage, protocol.NewRequest(protocol.RPCServerInfo).Bytes())
		conn.ReadMessage()
	}))
	t.Cleanup(srv.Close)

	bus := events.NewEventBus()
	log := newStateLog(bus)
	var mu sync.Mutex
	delivered := 0
	handler := MessageHandlerFunc(func(ctx context.Context, data []byte) error {
		mu.Lock()
		delivered++
		mu.Unlock()
		return nil
	})

	opts := DefaultOptions()
	opts.MaxMessageSize = 1024
	c := NewClient(handler, bus, nil, opts)
	if err := c.Connect(context.Background(), wsURL(srv), ""); err != nil {
		t.Fatalf("connect: %v", err)
	}

	waitFor(t, "disconnect after oversized message", func() bool {
		states, _ := log.snapshot()
		return len(states) == 4
	})
	_, errs := log.snapshot()
	if len(errs) != 1 || !errors.Is(errs[0], ErrTransport) || !strings.Contains(errs[0].Error(), "exceeds 1024 bytes") {
		t.Fatalf("error events = %v, want one read limit error", errs)
	}
	mu.Lock()
	defer mu.Unlock()
	if delivered != 0 {
		t.Fatalf("delivered %d frames after oversized message", delivered)
	}
}

func TestDisconnectWhenIdleIsNoop(t *testing.T) {
	bus := events.NewEventBus()
	log := newStateLog(bus)
	c := NewClient(nil, bus, nil, DefaultOptions())

	c.Disconnect()
	c.Disconnect()

	states, errs := log.snapshot()
	if len(states) != 0 || len(errs) != 0 {
		t.Fatalf("idle disconnect emitted states=%v errs=%v", states, errs)
	}
	if c.State() != StateDisconnected {
		t.Fatalf("state = %s", c.State())
	}
}

func TestSendWhenDisconnected(t *testing.T) {
	c := NewClient(nil, nil, nil, DefaultOptions())
	if err := c.Send(context.Background(), []byte{1, 2, 3}); err != nil {
		t.Fatalf("send while disconnected: %v", err)
	}
}

func TestDisconnectTransitions(t *testing.T) {
	srv, _ := echoServer(t)
	bus := events.NewEventBus()
	log := newStateLog(bus)
	c := NewClient(nil, bus, nil, DefaultOptions())

	if err := c.Connect(context.Background(), wsURL(srv), ""); err != nil {
		t.Fatalf("connect: %v", err)
	}
	c.Disconnect()

	if c.State() != StateDisconnected {
		t.Fatalf("state = %s", c.State())
	}
	states, errs := log.snapshot()
	want := []State{StateConnecting, StateConnected, StateDisconnecting, StateDisconnected}
	if !equalStates(states, want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
}

func TestReconnectClosesPrevious(t *testing.T) {
	srv, _ := echoServer(t)
	bus := events.NewEventBus()
	log := newStateLog(bus)
	c := NewClient(nil, bus, nil, DefaultOptions())

	if err := c.Connect(context.Background(), wsURL(srv), ""); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := c.Connect(context.Background(), wsURL(srv), ""); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	t.Cleanup(c.Disconnect)

	states, _ := log.snapshot()
	want := []State{StateConnecting, StateConnected, StateDisconnecting, StateDisconnected, StateConnecting, StateConnected}
	if !equalStates(states, want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
}

func TestConnectFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := wsURL(srv)
	srv.Close()

	bus := events.NewEventBus()
	log := newStateLog(bus)
	c := NewClient(nil, bus, nil, Options{ConnectTimeout: time.Second})

	err := c.Connect(context.Background(), addr, "")
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if c.State() != StateDisconnected {
		t.Fatalf("state = %s", c.State())
	}
	states, errs := log.snapshot()
	if !equalStates(states, []State{StateConnecting, StateDisconnected}) {
		t.Fatalf("states = %v", states)
	}
	if len(errs) != 1 {
		t.Fatalf("error events = %d, want 1", len(errs))
	}
}

func TestRemoteCloseDisconnects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(time.Second))
		conn.Close()
	}))
	t.Cleanup(srv.Close)

	bus := events.NewEventBus()
	log := newStateLog(bus)
	c := NewClient(nil, bus, nil, DefaultOptions())
	if err := c.Connect(context.Background(), wsURL(srv), ""); err != nil {
		t.Fatalf("connect: %v", err)
	}

	waitFor(t, "disconnect after remote close", func() bool {
		states, _ := log.snapshot()
		return len(states) == 4
	})
	states, _ := log.snapshot()
	want := []State{StateConnecting, StateConnected, StateDisconnecting, StateDisconnected}
	if !equalStates(states, want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
}

func TestDisconnectAfterAbruptDrop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// drop the TCP connection without a close frame
		conn.UnderlyingConn().Close()
	}))
	t.Cleanup(srv.Close)

	c := NewClient(nil, nil, nil, Options{CloseTimeout: 200 * time.Millisecond})
	if err := c.Connect(context.Background(), wsURL(srv), ""); err != nil {
		t.Fatalf("connect: %v", err)
	}

	finished := make(chan struct{})
	go func() {
		c.Disconnect()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(3 * time.Second):
		t.Fatalf("disconnect hung")
	}

	waitFor(t, "disconnected state", func() bool { return c.State() == StateDisconnected })
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil || c.done != nil {
		t.Fatalf("resources not released")
	}
}
