package jobs

import (
	"context"
	"time"

	"github.com/techlabs/labforge/pkg/telemetry"
)

// Scheduler invokes a function on a fixed interval, typically the
// reconciliation sweeps. The first run happens one interval after Start, not
// immediately, so service startup is never blocked behind a sweep.
type Scheduler struct {
	interval time.Duration
	run      func(context.Context)
	logger   *telemetry.Logger
}

// NewScheduler creates a scheduler for the given function.
func NewScheduler(interval time.Duration, run func(context.Context), logger *telemetry.Logger) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = telemetry.FromContext(context.Background())
	}
	return &Scheduler{
		interval: interval,
		run:      run,
		logger:   logger.NewComponentLogger("scheduler"),
	}
}

// Start runs the schedule until the context is canceled. Blocking; run it on
// its own goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Infof("scheduler started, interval %s", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.run(ctx)
		}
	}
}

// LogProgress is the progress handle granted to running jobs; it reports to
// the job log. It implements orchestrator.ProgressReporter.
type LogProgress struct {
	Logger *telemetry.Logger
}

// Report logs one progress step.
func (p *LogProgress) Report(current, total int, label string) {
	if p.Logger == nil {
		return
	}
	p.Logger.Infof("[%d/%d] %s", current, total, label)
}
