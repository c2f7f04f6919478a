// Package rpc routes inbound bridge frames to typed payload handlers and
// builds outbound requests.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rustpanel-project/rustpanel/internal/metrics"
	"github.com/rustpanel-project/rustpanel/internal/protocol"
)

// ErrUnroutable is returned by Dispatch when no handler is registered for
// the frame's rpc id.
var ErrUnroutable = errors.New("no handler registered for rpc id")

// DecodeError reports a handler failure for one frame.
type DecodeError struct {
	RPCID uint32
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", protocol.DescribeID(e.RPCID), e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Handler decodes the payload of one operation. The reader is positioned
// immediately after the 8-byte header.
type Handler interface {
	Handle(ctx context.Context, r *protocol.Reader) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, r *protocol.Reader) error

// Handle calls f(ctx, r).
func (f HandlerFunc) Handle(ctx context.Context, r *protocol.Reader) error {
	return f(ctx, r)
}

// NamedHandler is a Handler that knows its own operation name.
type NamedHandler interface {
	Handler
	RPCName() string
}

// Router maps rpc ids to handlers and dispatches complete inbound messages.
// A handler failure or an unknown id is logged and dropped; nothing a frame
// contains can stop the caller's receive loop.
type Router struct {
	mu       sync.RWMutex
	handlers map[uint32]Handler
	exec     Executor
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewRouter creates a Router that runs handlers on exec. A nil exec runs
// handlers inline.
func NewRouter(exec Executor, m *metrics.Metrics) *Router {
	if exec == nil {
		exec = InlineExecutor{}
	}
	return &Router{
		handlers: make(map[uint32]Handler),
		exec:     exec,
		metrics:  m,
		logger:   log.With().Str("component", "rpc_router").Logger(),
	}
}

// Register installs h for id, replacing any existing registration.
func (rt *Router) Register(id uint32, h Handler) {
	rt.mu.Lock()
	_, replaced := rt.handlers[id]
	rt.handlers[id] = h
	rt.mu.Unlock()

	rt.logger.Debug().
		Str("rpc", protocol.DescribeID(id)).
		Bool("replaced", replaced).
		Msg("registered rpc handler")
}

// RegisterHandler installs h under the id of its operation name.
func (rt *Router) RegisterHandler(h NamedHandler) {
	rt.Register(protocol.RPCID(h.RPCName()), h)
}

// Unregister removes the handler for id, if any.
func (rt *Router) Unregister(id uint32) {
	rt.mu.Lock()
	delete(rt.handlers, id)
	rt.mu.Unlock()
}

// Clear removes every registration.
func (rt *Router) Clear() {
	rt.mu.Lock()
	rt.handlers = make(map[uint32]Handler)
	rt.mu.Unlock()
}

// Len returns the number of registered handlers.
func (rt *Router) Len() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return len(rt.handlers)
}

func (rt *Router) lookup(id uint32) (Handler, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	h, ok := rt.handlers[id]
	return h, ok
}

// Dispatch routes one complete inbound message. The returned error is
// informational: framing errors, unroutable ids and, for inline executors,
// decode errors. It never panics.
func (rt *Router) Dispatch(ctx context.Context, data []byte) error {
	header, reader, err := protocol.ParseHeader(data)
	if err != nil {
		rt.metrics.FramingError()
		rt.logger.Warn().
			Err(err).
			Int("bytes", len(data)).
			Msg("dropping malformed frame")
		return err
	}

	h, ok := rt.lookup(header.RPCID)
	if !ok {
		rt.metrics.Unroutable()
		rt.logger.Warn().
			Str("rpc", protocol.DescribeID(header.RPCID)).
			Int32("channel", header.Channel).
			Int("bytes", len(data)).
			Str("payload", protocol.PayloadDump(data)).
			Msg("no handler for rpc, dropping")
		return fmt.Errorf("%w: %s", ErrUnroutable, protocol.DescribeID(header.RPCID))
	}

	var decodeErr error
	submitErr := rt.exec.Submit(ctx, func() {
		decodeErr = rt.invoke(ctx, header.RPCID, h, reader)
	})
	if submitErr != nil {
		rt.logger.Warn().
			Err(submitErr).
			Str("rpc", protocol.DescribeID(header.RPCID)).
			Msg("failed to schedule rpc handler")
		return submitErr
	}
	if _, inline := rt.exec.(InlineExecutor); inline {
		return decodeErr
	}
	return nil
}

// invoke runs h and converts both errors and panics into a logged DecodeError.
func (rt *Router) invoke(ctx context.Context, id uint32, h Handler, r *protocol.Reader) (err error) {
	name, _ := protocol.NameOf(id)
	if name == "" {
		name = fmt.Sprintf("0x%08X", id)
	}
	start := time.Now()

	defer func() {
		if p := recover(); p != nil {
			err = &DecodeError{RPCID: id, Err: fmt.Errorf("handler panicked: %v", p)}
		}
		if err != nil {
			rt.metrics.DecodeError(name)
			rt.logger.Error().
				Err(err).
				Str("rpc", protocol.DescribeID(id)).
				Int("bytes", len(r.Data())).
				Int("offset", r.Position()).
				Str("payload", protocol.PayloadDump(r.Data())).
				Msg("rpc handler failed")
			return
		}
		rt.metrics.Dispatched(name, time.Since(start).Seconds())
	}()

	if herr := h.Handle(ctx, r); herr != nil {
		return &DecodeError{RPCID: id, Err: herr}
	}
	return nil
}
