package syncer

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
)

// Scheduler owns the periodic triggers: a cron-scheduled full sync and a
// more frequent outbox flush. It is an explicit, stoppable object bound to
// the engine's lifecycle rather than an ambient timer - independent engines
// (e.g. under test) never share scheduler state.
type Scheduler struct {
	engine *Engine
	cron   *cron.Cron
}

// NewScheduler creates a stopped scheduler for the engine.
func NewScheduler(engine *Engine) *Scheduler {
	return &Scheduler{
		engine: engine,
		cron:   cron.New(),
	}
}

// Start registers the periodic jobs and starts the cron loop. syncSpec and
// flushSpec are standard cron expressions (e.g. "*/15 * * * *"). An initial
// sync runs immediately, in the calling goroutine, before the timers start.
func (s *Scheduler) Start(ctx context.Context, syncSpec, flushSpec string) error {
	if _, err := s.engine.RunSyncNow(ctx); err != nil {
		s.engine.logger.Error("initial sync failed", "error", err)
	}

	if _, err := s.cron.AddFunc(syncSpec, func() {
		if _, err := s.engine.RunSyncNow(ctx); err != nil {
			s.engine.logger.Error("periodic sync failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule sync %q: %w", syncSpec, err)
	}

	if _, err := s.cron.AddFunc(flushSpec, func() {
		if _, err := s.engine.worker.ProcessOutboxNow(ctx); err != nil {
			s.engine.logger.Error("periodic outbox flush failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule flush %q: %w", flushSpec, err)
	}

	s.cron.Start()
	return nil
}

// Stop halts the timers and waits for any running scheduled job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
