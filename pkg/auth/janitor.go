package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gatehousehq/gatehouse/pkg/observability"
)

// Janitor periodically removes expired key rows so the table does not
// accumulate dead credentials. Expiry enforcement itself never depends on
// the janitor; Validate rejects expired keys regardless.
type Janitor struct {
	manager *Manager
	logger  *observability.Logger
	cron    *cron.Cron
	timeout time.Duration
}

// NewJanitor creates a janitor for the given manager
func NewJanitor(manager *Manager, logger *observability.Logger) *Janitor {
	return &Janitor{
		manager: manager,
		logger:  logger,
		cron:    cron.New(),
		timeout: time.Minute,
	}
}

// Start schedules the cleanup job. The schedule is a standard cron
// expression; an empty schedule defaults to hourly.
func (j *Janitor) Start(schedule string) error {
	if schedule == "" {
		schedule = "0 * * * *"
	}

	_, err := j.cron.AddFunc(schedule, func() {
		defer observability.RecoverPanic(j.logger, "expired key cleanup")

		ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
		defer cancel()

		if _, err := j.manager.DeleteExpired(ctx); err != nil {
			j.logger.WithError(err).Error("Expired key cleanup failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule key cleanup: %w", err)
	}

	j.cron.Start()
	j.logger.Infof("Key janitor started with schedule %q", schedule)
	return nil
}

// Stop stops the scheduler and waits for a running job to finish
func (j *Janitor) Stop(ctx context.Context) error {
	stopped := j.cron.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
