package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/common"
	"github.com/ternarybob/fabrica/internal/interfaces"
)

// Service archives old completed batches on a cron schedule so default
// listings stay focused on recent work. Archival is a soft flag; nothing
// is deleted.
type Service struct {
	batches  interfaces.BatchStorage
	schedule string
	maxAge   time.Duration
	cron     *cron.Cron
	logger   arbor.ILogger
}

// NewService creates the maintenance service from configuration
func NewService(batches interfaces.BatchStorage, cfg common.MaintenanceConfig, logger arbor.ILogger) *Service {
	hours := cfg.ArchiveAfterHours
	if hours <= 0 {
		hours = 168
	}
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = "@hourly"
	}

	return &Service{
		batches:  batches,
		schedule: schedule,
		maxAge:   time.Duration(hours) * time.Hour,
		logger:   logger,
	}
}

// Start schedules the archival sweep
func (s *Service) Start() error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.schedule, s.sweep); err != nil {
		return fmt.Errorf("invalid maintenance schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()

	s.logger.Info().
		Str("schedule", s.schedule).
		Str("archive_after", s.maxAge.String()).
		Msg("Maintenance service started")
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish
func (s *Service) Stop() {
	if s.cron == nil {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("Maintenance service stopped")
}

func (s *Service) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-s.maxAge)
	archived, err := s.batches.ArchiveTerminalOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error().Err(err).Msg("Maintenance sweep failed")
		return
	}
	if archived > 0 {
		s.logger.Info().Int("archived", archived).Msg("Archived old batches")
	}
}
