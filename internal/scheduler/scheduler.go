// Package scheduler runs RustPanel's periodic work: the bridge request
// pollers and the daily status history cleanup.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rustpanel-project/rustpanel/internal/config"
	"github.com/rustpanel-project/rustpanel/internal/events"
)

// HistoryPruner deletes status samples older than a cutoff.
type HistoryPruner interface {
	PruneSamples(ctx context.Context, cutoff time.Time) (int64, error)
}

// SizeReporter reports the on-disk size of the history database.
type SizeReporter interface {
	Size() int64
}

// Scheduler manages the daily history cleanup.
type Scheduler struct {
	cfg      *config.Config
	eventBus *events.EventBus
	pruner   HistoryPruner
	size     SizeReporter
	now      func() time.Time
}

// NewScheduler creates a new task scheduler. size may be nil.
func NewScheduler(cfg *config.Config, eventBus *events.EventBus, pruner HistoryPruner, size SizeReporter) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		eventBus: eventBus,
		pruner:   pruner,
		size:     size,
		now:      time.Now,
	}
}

// Start runs scheduled tasks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().Msg("scheduler started")

	if s.cfg.GetDatabase().Enabled && s.pruner != nil {
		// clear anything that expired while we were not running
		s.runHistoryCleanup(ctx)
		go s.runHistoryCleanupLoop(ctx)
	}

	<-ctx.Done()
	log.Info().Msg("scheduler stopped")
}

// runHistoryCleanupLoop prunes history at the configured time each day.
func (s *Scheduler) runHistoryCleanupLoop(ctx context.Context) {
	for {
		nextRun := s.calculateNextCleanupTime()
		sleepDuration := nextRun.Sub(s.now())
		if sleepDuration <= 0 {
			sleepDuration = 24 * time.Hour
		}

		log.Info().
			Time("next_run", nextRun).
			Dur("sleep", sleepDuration).
			Msg("history cleanup scheduled")

		timer := time.NewTimer(sleepDuration)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.runHistoryCleanup(ctx)
		}
	}
}

// runHistoryCleanup deletes samples older than the retention window.
func (s *Scheduler) runHistoryCleanup(ctx context.Context) {
	dbCfg := s.cfg.GetDatabase()
	retention := time.Duration(dbCfg.RetentionDays) * 24 * time.Hour
	if retention <= 0 {
		return
	}
	cutoff := s.now().Add(-retention)

	deleted, err := s.pruner.PruneSamples(ctx, cutoff)
	if err != nil {
		log.Warn().Err(err).Msg("history cleanup failed")
		return
	}

	ev := log.Info().
		Int64("deleted_samples", deleted).
		Int("retention_days", dbCfg.RetentionDays)
	if s.size != nil {
		ev = ev.Str("database_size", formatBytes(s.size.Size()))
	}
	ev.Msg("history cleanup completed")

	if s.eventBus != nil && deleted > 0 {
		s.eventBus.Emit(ctx, events.Event{
			Type:   events.EventNotifyMQTT,
			Source: "scheduler",
			Payload: events.MQTTPayload{
				Topic: "admin",
				Data: map[string]interface{}{
					"action":          "history_cleanup",
					"deleted_samples": deleted,
				},
			},
		})
	}
}

// calculateNextCleanupTime returns the next time the cleanup should run.
func (s *Scheduler) calculateNextCleanupTime() time.Time {
	return nextDailyRun(s.now(), s.cfg.GetDatabase().CleanupTime)
}

func nextDailyRun(now time.Time, hhmm string) time.Time {
	parts := strings.Split(hhmm, ":")

	hour, minute := 4, 0
	if len(parts) >= 2 {
		fmt.Sscanf(parts[0], "%d", &hour)
		fmt.Sscanf(parts[1], "%d", &minute)
	}

	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// formatBytes formats bytes into human-readable format.
func formatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
