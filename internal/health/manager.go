// Package health runs periodic checks on the bridge link and the host:
// stale status data, disk utilization of the data directory and an MQTT
// heartbeat.
package health

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rustpanel-project/rustpanel/internal/config"
	"github.com/rustpanel-project/rustpanel/internal/events"
	"github.com/rustpanel-project/rustpanel/internal/monitor"
	"github.com/rustpanel-project/rustpanel/internal/telemetry"
	"github.com/rustpanel-project/rustpanel/internal/util"
)

// StatusSource reports the live server view.
type StatusSource interface {
	Status() monitor.Status
}

// Intervals controls how often each check runs. Zero disables a check.
type Intervals struct {
	Staleness time.Duration
	Disk      time.Duration
	Heartbeat time.Duration
}

// DefaultIntervals returns the production check schedule.
func DefaultIntervals() Intervals {
	return Intervals{
		Staleness: 30 * time.Second,
		Disk:      5 * time.Minute,
		Heartbeat: time.Minute,
	}
}

// Manager runs the periodic health checks.
type Manager struct {
	cfg       *config.Config
	eventBus  *events.EventBus
	source    StatusSource
	intervals Intervals

	now       func() time.Time
	diskUsage func(path string) (*util.DiskUsage, error)

	mu          sync.Mutex
	connectedAt time.Time
	stale       bool
	diskLevel   string
}

// NewManager creates a health check manager.
func NewManager(cfg *config.Config, eventBus *events.EventBus, source StatusSource, intervals Intervals) *Manager {
	m := &Manager{
		cfg:       cfg,
		eventBus:  eventBus,
		source:    source,
		intervals: intervals,
		now:       time.Now,
		diskUsage: util.GetDiskUsage,
	}
	eventBus.Subscribe(events.EventConnectionState, "health", m.onConnectionState)
	return m
}

// Start launches the checks and blocks until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	checks := []struct {
		name     string
		interval time.Duration
		fn       func(context.Context)
	}{
		{"bridge_staleness", m.intervals.Staleness, m.checkStaleness},
		{"disk_utilization", m.intervals.Disk, m.checkDiskUtilization},
		{"heartbeat", m.intervals.Heartbeat, m.publishHeartbeat},
	}

	var wg sync.WaitGroup
	started := 0
	for _, check := range checks {
		if check.interval <= 0 {
			continue
		}
		started++

		check := check
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(check.interval)
			defer ticker.Stop()

			log.Debug().Str("check", check.name).Msg("running initial health check")
			check.fn(ctx)

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					check.fn(ctx)
				}
			}
		}()
	}

	log.Info().Int("checks", started).Msg("health check manager started")

	<-ctx.Done()
	wg.Wait()
	log.Info().Msg("health check manager stopped")
}

func (m *Manager) onConnectionState(_ context.Context, e events.Event) error {
	p, ok := e.Payload.(events.ConnectionStatePayload)
	if !ok {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.State == events.StateConnected {
		m.connectedAt = m.now()
	} else {
		m.connectedAt = time.Time{}
	}
	m.stale = false
	return nil
}

// checkStaleness warns once when a connected bridge stops delivering
// ServerInfo for three poll intervals.
func (m *Manager) checkStaleness(ctx context.Context) {
	st := m.source.Status()
	if st.State != events.StateConnected {
		return
	}

	limit := 3 * m.cfg.GetPolling().ServerInfoInterval()
	now := m.now()

	m.mu.Lock()
	last := st.UpdatedAt
	if last.IsZero() || last.Before(m.connectedAt) {
		last = m.connectedAt
	}
	if last.IsZero() {
		m.mu.Unlock()
		return
	}
	age := now.Sub(last)
	wasStale := m.stale
	m.stale = age > limit
	m.mu.Unlock()

	if age <= limit {
		if wasStale {
			log.Info().Str("address", st.Address).Msg("bridge status updates resumed")
		}
		return
	}
	if wasStale {
		return
	}

	log.Warn().
		Str("address", st.Address).
		Dur("age", age).
		Msg("no server info received from bridge")

	m.eventBus.Emit(ctx, events.Event{
		Type:   events.EventNotifyMQTT,
		Source: "health_check",
		Payload: events.MQTTPayload{
			Topic: telemetry.TopicAdmin,
			Data: map[string]interface{}{
				"action":      "stale_bridge",
				"address":     st.Address,
				"age_seconds": int64(age.Seconds()),
			},
		},
	})
}

// checkDiskUtilization monitors the volume holding the history database.
// An alert is raised when the usage level changes.
func (m *Manager) checkDiskUtilization(ctx context.Context) {
	path := filepath.Dir(m.cfg.GetDatabase().Path)
	if path == "" {
		path = "."
	}

	usage, err := m.diskUsage(path)
	if err != nil {
		log.Warn().Err(err).Msg("disk utilization check failed")
		return
	}

	log.Debug().
		Float64("used_percent", usage.UsedPercent).
		Uint64("free_gb", usage.Free).
		Msg("disk utilization")

	level := diskLevel(usage.UsedPercent)

	m.mu.Lock()
	changed := level != m.diskLevel
	m.diskLevel = level
	m.mu.Unlock()

	if level == "" || !changed {
		return
	}

	message := fmt.Sprintf("Disk usage at %.1f%% (%d GB free of %d GB total)",
		usage.UsedPercent, usage.Free, usage.Total)
	log.Warn().Str("level", level).Msg(message)

	m.eventBus.Emit(ctx, events.Event{
		Type:   events.EventNotifyMQTT,
		Source: "health_check",
		Payload: events.MQTTPayload{
			Topic: telemetry.TopicAdmin,
			Data: map[string]interface{}{
				"action":       "disk_alert",
				"level":        level,
				"message":      message,
				"used_percent": usage.UsedPercent,
			},
		},
	})
}

func diskLevel(usedPercent float64) string {
	switch {
	case usedPercent >= 100:
		return "critical"
	case usedPercent >= 95:
		return "error"
	case usedPercent >= 90:
		return "warning"
	case usedPercent >= 80:
		return "info"
	default:
		return ""
	}
}

// publishHeartbeat sends the connection summary to MQTT.
func (m *Manager) publishHeartbeat(ctx context.Context) {
	st := m.source.Status()

	data := map[string]interface{}{
		"state":     st.State.String(),
		"address":   st.Address,
		"players":   st.Players,
		"entities":  st.Entities,
		"timestamp": m.now().Unix(),
	}
	if st.Server != nil {
		data["hostname"] = st.Server.Hostname
		data["player_count"] = st.Server.PlayerCount
		data["max_players"] = st.Server.MaxPlayers
	}

	m.eventBus.Emit(ctx, events.Event{
		Type:    events.EventNotifyMQTT,
		Source:  "heartbeat",
		Payload: events.MQTTPayload{Topic: telemetry.TopicHeartbeat, Data: data},
	})
}
