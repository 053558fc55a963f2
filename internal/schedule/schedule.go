// Package schedule triggers the recurring announcement at a configured
// cron expression and timezone.
package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler wraps one cron entry.
type Scheduler struct {
	cron *cron.Cron
	log  *zap.Logger
}

// New creates a Scheduler firing task per expr in the given timezone.
func New(expr, tz string, task func(), log *zap.Logger) (*Scheduler, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", tz, err)
	}

	c := cron.New(cron.WithLocation(loc))
	if _, err := c.AddFunc(expr, task); err != nil {
		return nil, fmt.Errorf("failed to register cron %q: %w", expr, err)
	}

	return &Scheduler{cron: c, log: log}, nil
}

// Start begins firing.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started")
}

// Stop halts firing. Running tasks finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
