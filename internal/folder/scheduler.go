package folder

import (
	"context"
	"time"

	"github.com/dl-alexandre/ocsync/internal/logging"
	"github.com/dl-alexandre/ocsync/internal/utils"
	"github.com/jonboulle/clockwork"
)

// Scheduler ticks every folder of a manager at a fixed interval and
// queues a run for each idle one.
type Scheduler struct {
	manager  *Manager
	clock    clockwork.Clock
	interval time.Duration
	logger   logging.Logger
}

func NewScheduler(manager *Manager, clock clockwork.Clock, interval time.Duration, logger logging.Logger) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = utils.DefaultPollIntervalMs * time.Millisecond
	}
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Scheduler{manager: manager, clock: clock, interval: interval, logger: logger}
}

// Run blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Debug("Poll scheduler started", logging.F("interval_ms", s.interval.Milliseconds()))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	for _, f := range s.manager.Folders() {
		f.PollTick()
		if f.IsBusy() {
			continue
		}
		if err := s.manager.Schedule(ctx, f.Alias()); err != nil {
			s.logger.Warn("Scheduling failed", logging.F("folder", f.Alias()), logging.F("error", err.Error()))
		}
	}
}
