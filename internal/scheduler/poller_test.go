package scheduler

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rustpanel-project/rustpanel/internal/events"
)

type recordingSender struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
}

func (r *recordingSender) Send(_ context.Context, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, data)
	return r.err
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPollerSendsImmediatelyThenOnTick(t *testing.T) {
	sender := &recordingSender{}
	frame := []byte{1, 2, 3}
	p := NewPoller("status", 20*time.Millisecond, func() []byte { return frame }, sender, nil)

	p.Start()
	waitFor(t, "first send", func() bool { return sender.count() >= 1 })
	waitFor(t, "ticks", func() bool { return sender.count() >= 3 })
	p.Stop()

	if p.Running() {
		t.Fatal("poller still running after Stop")
	}
	n := sender.count()
	time.Sleep(60 * time.Millisecond)
	if sender.count() != n {
		t.Fatalf("poller sent after Stop: %d -> %d", n, sender.count())
	}

	sender.mu.Lock()
	defer sender.mu.Unlock()
	for i, f := range sender.frames {
		if !bytes.Equal(f, frame) {
			t.Fatalf("frame %d = %v", i, f)
		}
	}
}

func TestPollerStartIsIdempotent(t *testing.T) {
	sender := &recordingSender{}
	p := NewPoller("entities", time.Hour, func() []byte { return nil }, sender, nil)

	p.Start()
	p.Start()
	waitFor(t, "initial send", func() bool { return sender.count() == 1 })
	time.Sleep(20 * time.Millisecond)
	if sender.count() != 1 {
		t.Fatalf("sends = %d, want 1", sender.count())
	}
	p.Stop()
	p.Stop()
}

func TestPollerKeepsRunningOnSendError(t *testing.T) {
	sender := &recordingSender{err: errors.New("broken pipe")}
	p := NewPoller("status", 10*time.Millisecond, func() []byte { return nil }, sender, nil)

	p.Start()
	defer p.Stop()
	waitFor(t, "repeated sends", func() bool { return sender.count() >= 3 })
}

func TestPollerFollowsConnectionState(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Stop()

	sender := &recordingSender{}
	p := NewPoller("status", time.Hour, func() []byte { return []byte{0} }, sender, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Attach(ctx, bus)

	emit := func(state events.ConnectionState) {
		bus.EmitSync(ctx, events.Event{
			Type:    events.EventConnectionState,
			Payload: events.ConnectionStatePayload{State: state},
		})
	}

	emit(events.StateConnecting)
	if p.Running() {
		t.Fatal("poller started before Connected")
	}

	emit(events.StateConnected)
	if !p.Running() {
		t.Fatal("poller not started on Connected")
	}
	waitFor(t, "send on connect", func() bool { return sender.count() == 1 })

	emit(events.StateDisconnecting)
	if p.Running() {
		t.Fatal("poller still running after Disconnecting")
	}

	emit(events.StateConnected)
	waitFor(t, "send on reconnect", func() bool { return sender.count() == 2 })

	cancel()
	waitFor(t, "stop on context cancel", func() bool { return !p.Running() })

	// a cancelled base context keeps it stopped
	emit(events.StateConnected)
	if p.Running() {
		t.Fatal("poller restarted after its context ended")
	}
}

func TestPollerZeroIntervalNeverStarts(t *testing.T) {
	p := NewPoller("off", 0, func() []byte { return nil }, &recordingSender{}, nil)
	p.Start()
	if p.Running() {
		t.Fatal("zero-interval poller should not run")
	}
}
