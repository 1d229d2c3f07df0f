package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ubuygold/gosparklio/internal/config"
)

// QuotaPurger drops quota records nobody has touched since a point in time.
type QuotaPurger interface {
	PurgeQuotaBefore(ctx context.Context, t time.Time) (int64, error)
}

// Reviver puts throttled API keys back into service.
type Reviver interface {
	ReviveThrottled(ctx context.Context) (int64, error)
}

type Scheduler struct {
	purger  QuotaPurger
	reviver Reviver
	cfg     config.SchedulerConfig
	logger  *slog.Logger
	c       *cron.Cron
	now     func() time.Time
}

func NewScheduler(purger QuotaPurger, reviver Reviver, cfg config.SchedulerConfig, log *slog.Logger) *Scheduler {
	return &Scheduler{
		purger:  purger,
		reviver: reviver,
		cfg:     cfg,
		logger:  log.With("component", "scheduler"),
		c:       cron.New(),
		now:     time.Now,
	}
}

// Start registers the maintenance jobs and starts the cron loop.
func (s *Scheduler) Start() error {
	if _, err := s.c.AddFunc(s.cfg.QuotaPurgeSpec, func() { s.PurgeQuota(context.Background()) }); err != nil {
		return fmt.Errorf("error scheduling quota purge job: %w", err)
	}
	if _, err := s.c.AddFunc(s.cfg.RevivalSpec, func() { s.ReviveKeys(context.Background()) }); err != nil {
		return fmt.Errorf("error scheduling key revival job: %w", err)
	}
	s.c.Start()
	return nil
}

// Stop stops the cron loop and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.c.Stop().Done()
}

// PurgeQuota removes quota records older than the retention period.
func (s *Scheduler) PurgeQuota(ctx context.Context) {
	days := s.cfg.QuotaRetainDays
	if days <= 0 {
		days = 7
	}
	cutoff := s.now().AddDate(0, 0, -days)
	s.logger.Info("Running job: purging stale quota records", "before", cutoff)
	n, err := s.purger.PurgeQuotaBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("Error purging quota records", "error", err)
		return
	}
	s.logger.Info("Purged stale quota records", "count", n)
}

// ReviveKeys marks keys that ran out of quota as active again.
func (s *Scheduler) ReviveKeys(ctx context.Context) {
	s.logger.Info("Running job: reviving throttled API keys")
	if _, err := s.reviver.ReviveThrottled(ctx); err != nil {
		s.logger.Error("Error reviving API keys", "error", err)
	}
}
