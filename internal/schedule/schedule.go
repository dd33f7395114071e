// Package schedule runs periodic panel jobs on a cron schedule.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appLog "epd7in5bc/internal/log"
)

// Job is one scheduled run. ctx is canceled when the scheduler stops.
type Job func(ctx context.Context) error

// Validate reports whether spec is a standard 5-field cron expression (or a
// descriptor such as "@hourly").
func Validate(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("schedule: invalid cron spec %q: %w", spec, err)
	}
	return nil
}

// Scheduler wraps a cron.Cron bound to a context.
type Scheduler struct {
	c      *cron.Cron
	cancel context.CancelFunc
}

// Start schedules job on spec and starts the cron runner. Overlapping runs
// are skipped, and a panicking job is logged instead of crashing the daemon.
// The scheduler stops when ctx is done or Stop is called.
func Start(ctx context.Context, spec string, name string, job Job) (*Scheduler, error) {
	if err := Validate(spec); err != nil {
		return nil, err
	}

	logger := cronLogger{}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	ctx, cancel := context.WithCancel(ctx)
	_, err := c.AddFunc(spec, func() {
		start := time.Now()
		appLog.Info("scheduled job starting", "job", name)
		if err := job(ctx); err != nil {
			appLog.Error("scheduled job failed", err, "job", name, "elapsed", time.Since(start))
			return
		}
		appLog.Info("scheduled job done", "job", name, "elapsed", time.Since(start))
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("schedule: add %s: %w", name, err)
	}

	c.Start()
	s := &Scheduler{c: c, cancel: cancel}
	go func() {
		<-ctx.Done()
		s.c.Stop()
	}()

	for _, e := range c.Entries() {
		appLog.Info("job scheduled", "job", name, "spec", spec, "next", e.Next.Format(time.RFC3339))
	}
	return s, nil
}

// Next returns the next activation time, or the zero time if none.
func (s *Scheduler) Next() time.Time {
	entries := s.c.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// Stop cancels the job context and waits for a running job to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.c.Stop().Done()
}

// cronLogger routes cron's internal logging to the app logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
