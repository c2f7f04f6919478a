package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rustpanel-project/rustpanel/internal/events"
	"github.com/rustpanel-project/rustpanel/internal/metrics"
)

// Sender writes one outbound frame.
type Sender interface {
	Send(ctx context.Context, data []byte) error
}

// Poller issues one request immediately when the bridge connects and then
// once per interval until it disconnects. There is no backoff and no
// jitter.
type Poller struct {
	name     string
	interval time.Duration
	build    func() []byte
	sender   Sender
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	mu      sync.Mutex
	baseCtx context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewPoller creates a stopped poller.
func NewPoller(name string, interval time.Duration, build func() []byte, sender Sender, m *metrics.Metrics) *Poller {
	return &Poller{
		name:     name,
		interval: interval,
		build:    build,
		sender:   sender,
		metrics:  m,
		baseCtx:  context.Background(),
		logger:   log.With().Str("component", "poller").Str("poller", name).Logger(),
	}
}

// Name returns the poller's name.
func (p *Poller) Name() string { return p.name }

// Interval returns the tick interval.
func (p *Poller) Interval() time.Duration { return p.interval }

// Attach binds the poller to connection state events on bus. The poller
// also stops when ctx is done.
func (p *Poller) Attach(ctx context.Context, bus *events.EventBus) {
	p.mu.Lock()
	p.baseCtx = ctx
	p.mu.Unlock()

	bus.Subscribe(events.EventConnectionState, "poller_"+p.name, func(_ context.Context, e events.Event) error {
		payload, ok := e.Payload.(events.ConnectionStatePayload)
		if !ok {
			return nil
		}
		if payload.State == events.StateConnected {
			p.Start()
		} else {
			p.Stop()
		}
		return nil
	})

	go func() {
		<-ctx.Done()
		p.Stop()
	}()
}

// Start begins polling. It is a no-op if already running.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil || p.interval <= 0 {
		return
	}
	if p.baseCtx.Err() != nil {
		return
	}

	ctx, cancel := context.WithCancel(p.baseCtx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx, p.done)

	p.logger.Debug().Dur("interval", p.interval).Msg("poller started")
}

// Stop halts polling and waits for the loop to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	p.logger.Debug().Msg("poller stopped")
}

// Running reports whether the loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	p.poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	p.metrics.PollRequest(p.name)
	if err := p.sender.Send(ctx, p.build()); err != nil {
		p.logger.Warn().Err(err).Msg("poll request failed")
	}
}
