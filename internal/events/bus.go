package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// HandlerFunc is a function that handles an event.
type HandlerFunc func(ctx context.Context, event Event) error

// EventBus is the publish-subscribe backbone connecting the bridge engine
// to its consumers (monitor, pollers, telemetry, API, CLI).
//
// Handlers are registered under a name; registering the same name twice for
// one event type replaces the earlier handler. A handler that panics or
// returns an error is logged and never affects delivery to the others.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]handlerEntry
	stopCh   chan struct{}
	stopped  bool
	wg       sync.WaitGroup
}

type handlerEntry struct {
	name    string
	handler HandlerFunc
}

// NewEventBus creates a new EventBus instance.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]handlerEntry),
		stopCh:   make(chan struct{}),
	}
}

// Subscribe registers a handler function for a specific event type.
func (eb *EventBus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	entry := handlerEntry{name: name, handler: handler}
	list := eb.handlers[eventType]
	for i, h := range list {
		if h.name == name {
			list[i] = entry
			log.Debug().
				Str("event", string(eventType)).
				Str("handler", name).
				Msg("replaced event handler")
			return
		}
	}
	eb.handlers[eventType] = append(list, entry)

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("subscribed to event")
}

// Unsubscribe removes a named handler from a specific event type.
func (eb *EventBus) Unsubscribe(eventType EventType, name string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	handlers, exists := eb.handlers[eventType]
	if !exists {
		return
	}

	filtered := make([]handlerEntry, 0, len(handlers))
	for _, h := range handlers {
		if h.name != name {
			filtered = append(filtered, h)
		}
	}
	eb.handlers[eventType] = filtered

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("unsubscribed from event")
}

// snapshot copies the handler list so handlers run without the lock held.
func (eb *EventBus) snapshot(eventType EventType) []handlerEntry {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.stopped {
		return nil
	}
	handlers := eb.handlers[eventType]
	if len(handlers) == 0 {
		return nil
	}
	out := make([]handlerEntry, len(handlers))
	copy(out, handlers)
	return out
}

// invoke runs one handler, converting a panic into an error.
func invoke(ctx context.Context, h handlerEntry, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("event", string(event.Type)).
				Str("handler", h.name).
				Interface("panic", r).
				Msg("handler panicked")
			err = fmt.Errorf("handler %s panicked: %v", h.name, r)
		}
	}()

	if err := h.handler(ctx, event); err != nil {
		log.Error().
			Err(err).
			Str("event", string(event.Type)).
			Str("handler", h.name).
			Msg("handler returned error")
		return err
	}
	return nil
}

// Emit publishes an event to all subscribed handlers asynchronously.
// Each handler runs in its own goroutine.
func (eb *EventBus) Emit(ctx context.Context, event Event) {
	handlers := eb.snapshot(event.Type)
	if len(handlers) == 0 {
		return
	}

	log.Trace().
		Str("event", string(event.Type)).
		Str("source", event.Source).
		Int("handlers", len(handlers)).
		Msg("emitting event")

	for _, h := range handlers {
		h := h
		eb.wg.Add(1)
		go func() {
			defer eb.wg.Done()
			invoke(ctx, h, event)
		}()
	}
}

// EmitSync delivers an event to every handler on the calling goroutine, in
// subscription order, and returns the first error encountered.
// Successive EmitSync calls from one goroutine are observed in order.
func (eb *EventBus) EmitSync(ctx context.Context, event Event) error {
	handlers := eb.snapshot(event.Type)

	var firstErr error
	for _, h := range handlers {
		if err := invoke(ctx, h, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Stop signals the EventBus to stop accepting new events and waits
// for all in-flight asynchronous handlers to complete.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	if eb.stopped {
		eb.mu.Unlock()
		return
	}
	eb.stopped = true
	close(eb.stopCh)
	eb.mu.Unlock()

	eb.wg.Wait()
	log.Info().Msg("event bus stopped")
}

// StopCh returns a channel that is closed when the EventBus is stopped.
func (eb *EventBus) StopCh() <-chan struct{} {
	return eb.stopCh
}

// HandlerCount returns the number of handlers registered for a specific event type.
func (eb *EventBus) HandlerCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.handlers[eventType])
}
