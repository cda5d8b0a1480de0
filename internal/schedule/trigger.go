package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// StrikeFunc is invoked at each scheduled strike instant.
type StrikeFunc func(ctx context.Context, at time.Time)

// Trigger fires StrikeFunc at every schedule entry using a cron runner.
type Trigger struct {
	cron   *cron.Cron
	sched  *Scheduler
	fn     StrikeFunc
	logger *zap.Logger
}

// NewTrigger creates a Trigger bound to the scheduler's location.
func NewTrigger(sched *Scheduler, fn StrikeFunc, logger *zap.Logger) *Trigger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trigger{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(sched.Location()),
			// a strike still running when the next entry fires is skipped
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		sched:  sched,
		fn:     fn,
		logger: logger.Named("trigger"),
	}
}

// Register adds one cron job per schedule entry.
func (t *Trigger) Register(ctx context.Context) error {
	for _, spec := range t.sched.CronSpecs() {
		spec := spec
		if _, err := t.cron.AddFunc(spec, func() {
			at := time.Now().In(t.sched.Location())
			t.logger.Info("scheduled strike firing", zap.String("spec", spec), zap.Time("at", at))
			t.fn(ctx, at)
		}); err != nil {
			return fmt.Errorf("register strike %q: %w", spec, err)
		}
	}
	return nil
}

// Start starts the cron runner.
func (t *Trigger) Start() {
	t.cron.Start()
	t.logger.Info("strike trigger started", zap.Strings("schedule", t.sched.Entries()))
}

// Stop stops the cron runner and waits for a running strike to return.
func (t *Trigger) Stop() {
	<-t.cron.Stop().Done()
	t.logger.Info("strike trigger stopped")
}

// Next returns the next time the runner will fire, zero if none registered.
func (t *Trigger) Next() time.Time {
	var next time.Time
	for _, e := range t.cron.Entries() {
		if next.IsZero() || e.Next.Before(next) {
			next = e.Next
		}
	}
	return next
}
