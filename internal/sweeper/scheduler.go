package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs the sweep once a day.
const DefaultSchedule = "@every 24h"

// Scheduler runs a Sweeper on a cron schedule for the lifetime of the process.
type Scheduler struct {
	cron    *cron.Cron
	sweeper *Sweeper
	timeout time.Duration
}

// NewScheduler registers sweeper under schedule (standard five-field cron or
// a descriptor such as "@every 24h"). A panicking cycle is recovered and
// logged; it never takes the process down.
func NewScheduler(sweeper *Sweeper, schedule string) (*Scheduler, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}

	logger := cronLogger{}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	s := &Scheduler{
		cron:    c,
		sweeper: sweeper,
		timeout: time.Hour,
	}

	if _, err := c.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins running sweeps in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("retention sweeper started",
		"dir", s.sweeper.dir,
		"retention", s.sweeper.retention.String(),
	)
}

// Stop halts the schedule and waits for a running sweep to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	res := s.sweeper.Sweep(ctx)
	slog.Info("retention sweep finished",
		"scanned", res.Scanned,
		"deleted", res.Deleted,
		"failed", res.Failed,
	)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug(msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error(msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
