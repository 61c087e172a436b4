// Package scheduler runs the periodic duties (clock sweep, presence resync).
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/obslog"
)

// Scheduler wraps cron with interval jobs. A job never overlaps itself and a
// panicking job does not stop the schedule.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

func New() *Scheduler {
	logger := cron.PrintfLogger(obslog.StdLogger("cron"))
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Every registers fn to run every d. cron schedules at whole-second
// resolution; shorter intervals run once per second.
func (s *Scheduler) Every(name string, d time.Duration, fn func(ctx context.Context)) error {
	if d <= 0 {
		return fmt.Errorf("scheduler: %s interval must be positive", name)
	}
	if fn == nil {
		return errors.New("scheduler: nil job")
	}
	s.cron.Schedule(cron.Every(d), cron.FuncJob(func() {
		if s.ctx.Err() != nil {
			return
		}
		fn(s.ctx)
	}))
	obslog.L().Info("scheduler_job", zap.String("name", name), zap.Duration("every", d))
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	obslog.L().Info("scheduler_started", zap.Int("jobs", len(s.cron.Entries())))
}

// Stop cancels the job context and waits for running jobs or ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		obslog.L().Info("scheduler_stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
