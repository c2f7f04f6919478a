// Package bridge owns the WebSocket connection to the Carbon WebControlPanel
// bridge: connection state, the outbound send path and the inbound receive
// loop. Complete inbound messages are handed to a MessageHandler, normally
// the rpc router.
package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rustpanel-project/rustpanel/internal/events"
	"github.com/rustpanel-project/rustpanel/internal/metrics"
)

// State is the connection lifecycle state.
type State = events.ConnectionState

const (
	StateDisconnected  = events.StateDisconnected
	StateConnecting    = events.StateConnecting
	StateConnected     = events.StateConnected
	StateDisconnecting = events.StateDisconnecting
)

var (
	// ErrTransport wraps every dial, send and receive failure.
	ErrTransport = errors.New("bridge transport error")

	// ErrNotConnected is logged when a send is attempted without a connection.
	ErrNotConnected = errors.New("bridge not connected")
)

// MessageHandler receives each complete inbound message.
type MessageHandler interface {
	Dispatch(ctx context.Context, data []byte) error
}

// MessageHandlerFunc adapts a function to MessageHandler.
type MessageHandlerFunc func(ctx context.Context, data []byte) error

// Dispatch calls f(ctx, data).
func (f MessageHandlerFunc) Dispatch(ctx context.Context, data []byte) error {
	return f(ctx, data)
}

// Publisher receives state-change and error notifications.
type Publisher interface {
	EmitSync(ctx context.Context, event events.Event) error
}

// Options tunes the transport.
type Options struct {
	ConnectTimeout    time.Duration
	WriteTimeout      time.Duration
	CloseTimeout      time.Duration
	MaxMessageSize    int64
	ReceiveBufferSize int
}

// DefaultOptions returns the transport defaults.
func DefaultOptions() Options {
	return Options{
		ConnectTimeout:    10 * time.Second,
		WriteTimeout:      10 * time.Second,
		CloseTimeout:      2 * time.Second,
		MaxMessageSize:    16 << 20,
		ReceiveBufferSize: 8192,
	}
}

// Client is a single bridge connection. Connect and Disconnect are
// serialized; Send may be called from any goroutine.
//
// Subscribers of connection_state events must not call Connect or
// Disconnect synchronously from the handler.
type Client struct {
	opMu sync.Mutex // serializes Connect / Disconnect
	mu   sync.Mutex // guards the fields below
	wmu  sync.Mutex // serializes frame writes

	conn    *websocket.Conn
	state   State
	address string
	cancel  context.CancelFunc
	done    chan struct{}

	dialer  *websocket.Dialer
	opts    Options
	handler MessageHandler
	pub     Publisher
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewClient creates a disconnected client. pub and m may be nil.
func NewClient(handler MessageHandler, pub Publisher, m *metrics.Metrics, opts Options) *Client {
	def := DefaultOptions()
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = def.ConnectTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = def.CloseTimeout
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = def.MaxMessageSize
	}
	if opts.ReceiveBufferSize <= 0 {
		opts.ReceiveBufferSize = def.ReceiveBufferSize
	}

	return &Client{
		state: StateDisconnected,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.ConnectTimeout,
			ReadBufferSize:   opts.ReceiveBufferSize,
			WriteBufferSize:  opts.ReceiveBufferSize,
		},
		opts:    opts,
		handler: handler,
		pub:     pub,
		metrics: m,
		logger:  log.With().Str("component", "bridge").Logger(),
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the client is in the Connected state.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// Address returns the address of the current or last connection, without
// the credential.
func (c *Client) Address() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.address
}

// Connect opens a connection to address, appending credential as a path
// segment when it is non-empty. An existing connection is fully closed
// first. ctx bounds the dial only; the receive loop runs until Disconnect.
func (c *Client) Connect(ctx context.Context, address, credential string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.teardown(nil)

	target, display, err := Target(address, credential)
	if err != nil {
		c.emitError(ctx, err, address)
		return err
	}

	c.mu.Lock()
	c.address = display
	c.mu.Unlock()
	c.transition(StateConnecting, display)

	c.logger.Info().Str("address", display).Msg("connecting to bridge")

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	conn, resp, err := c.dialer.DialContext(dialCtx, target, nil)
	cancel()
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w: dial %s: %v (http %d)", ErrTransport, display, err, resp.StatusCode)
		} else {
			err = fmt.Errorf("%w: dial %s: %v", ErrTransport, display, err)
		}
		c.transition(StateDisconnected, display)
		c.emitError(ctx, err, display)
		return err
	}
	conn.SetReadLimit(c.opts.MaxMessageSize)

	loopCtx, loopCancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	c.conn = conn
	c.cancel = loopCancel
	c.done = done
	c.mu.Unlock()

	go c.receiveLoop(loopCtx, conn, done)

	c.logger.Info().Str("address", display).Msg("connected to bridge")
	c.transition(StateConnected, display)
	return nil
}

// Disconnect closes the connection. It is a no-op when not connected.
func (c *Client) Disconnect() {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.teardown(nil)
}

// dropConnection tears down conn after a transport failure, unless it has
// already been replaced.
func (c *Client) dropConnection(conn *websocket.Conn) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.teardown(conn)
}

// teardown performs Connected -> Disconnecting -> Disconnected. When only
// is non-nil, nothing happens unless it is the current connection.
// Caller holds opMu.
func (c *Client) teardown(only *websocket.Conn) {
	c.mu.Lock()
	if c.state != StateConnected || c.conn == nil || (only != nil && c.conn != only) {
		c.mu.Unlock()
		return
	}
	conn, cancel, done, addr := c.conn, c.cancel, c.done, c.address
	c.mu.Unlock()

	c.transition(StateDisconnecting, addr)

	// stop the receive loop before touching the socket
	cancel()
	conn.SetReadDeadline(time.Now())
	<-done

	c.wmu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "closing")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.CloseTimeout)); err != nil {
		c.logger.Debug().Err(err).Msg("close handshake failed")
	}
	c.wmu.Unlock()

	if err := conn.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("socket close failed")
	}

	c.mu.Lock()
	c.conn = nil
	c.cancel = nil
	c.done = nil
	c.mu.Unlock()

	c.logger.Info().Str("address", addr).Msg("disconnected from bridge")
	c.transition(StateDisconnected, addr)
}

// Send writes one binary frame. When not connected it logs a warning and
// returns nil. A write failure disconnects the client.
func (c *Client) Send(ctx context.Context, data []byte) error {
	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()

	if state != StateConnected || conn == nil {
		c.logger.Warn().
			Err(ErrNotConnected).
			Str("state", state.String()).
			Int("bytes", len(data)).
			Msg("send skipped")
		return nil
	}

	deadline := time.Now().Add(c.opts.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.wmu.Lock()
	conn.SetWriteDeadline(deadline)
	err := conn.WriteMessage(websocket.BinaryMessage, data)
	c.wmu.Unlock()

	if err != nil {
		err = fmt.Errorf("%w: send: %v", ErrTransport, err)
		c.logger.Error().Err(err).Int("bytes", len(data)).Msg("send failed")
		c.emitError(context.WithoutCancel(ctx), err, c.Address())
		go c.dropConnection(conn)
		return err
	}

	c.metrics.MessageSent(len(data))
	return nil
}

// receiveLoop reads complete messages until cancellation or a transport
// failure. Handler errors and panics never end the loop.
func (c *Client) receiveLoop(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	chunk := make([]byte, c.opts.ReceiveBufferSize)
	var msg bytes.Buffer

	for {
		msgType, data, err := c.readMessage(conn, chunk, &msg)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.handleReadError(conn, err)
			return
		}

		if msgType != websocket.BinaryMessage {
			c.logger.Debug().Int("type", msgType).Int("bytes", len(data)).Msg("ignoring non-binary message")
			continue
		}

		c.metrics.MessageReceived(len(data))
		c.deliver(ctx, data)
	}
}

// readMessage assembles one message from the framing layer, reading in
// fixed-size chunks until end-of-message.
func (c *Client) readMessage(conn *websocket.Conn, chunk []byte, msg *bytes.Buffer) (int, []byte, error) {
	msgType, r, err := conn.NextReader()
	if err != nil {
		return 0, nil, err
	}

	msg.Reset()
	for {
		n, err := r.Read(chunk)
		msg.Write(chunk[:n])
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, nil, err
		}
	}

	out := make([]byte, msg.Len())
	copy(out, msg.Bytes())
	return msgType, out, nil
}

func (c *Client) deliver(ctx context.Context, data []byte) {
	if c.handler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Int("bytes", len(data)).Msg("message handler panicked")
		}
	}()
	if err := c.handler.Dispatch(ctx, data); err != nil {
		c.logger.Debug().Err(err).Int("bytes", len(data)).Msg("message not handled")
	}
}

func (c *Client) handleReadError(conn *websocket.Conn, err error) {
	addr := c.Address()
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.logger.Info().Str("address", addr).Msg("bridge closed the connection")
	} else {
		if errors.Is(err, websocket.ErrReadLimit) {
			err = fmt.Errorf("message exceeds %d bytes: %w", c.opts.MaxMessageSize, err)
		}
		err = fmt.Errorf("%w: receive: %v", ErrTransport, err)
		c.logger.Error().Err(err).Str("address", addr).Msg("receive failed")
		c.emitError(context.Background(), err, addr)
	}
	go c.dropConnection(conn)
}

// transition records a new state and notifies subscribers exactly once.
func (c *Client) transition(next State, addr string) {
	c.mu.Lock()
	prev := c.state
	if prev == next {
		c.mu.Unlock()
		return
	}
	c.state = next
	c.mu.Unlock()

	c.metrics.SetConnectionState(int(next))
	c.logger.Debug().Str("from", prev.String()).Str("to", next.String()).Msg("connection state changed")

	if c.pub != nil {
		c.pub.EmitSync(context.Background(), events.Event{
			Type:    events.EventConnectionState,
			Source:  "bridge",
			Payload: events.ConnectionStatePayload{State: next, Previous: prev, Address: addr},
		})
	}
}

func (c *Client) emitError(ctx context.Context, err error, addr string) {
	c.metrics.TransportError()
	if c.pub == nil {
		return
	}
	c.pub.EmitSync(ctx, events.Event{
		Type:    events.EventBridgeError,
		Source:  "bridge",
		Payload: events.ErrorPayload{Err: err, Message: err.Error(), Address: addr},
	})
}
