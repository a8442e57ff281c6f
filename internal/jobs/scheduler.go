// Package jobs runs the platform's daily batch work: invoice generation,
// the notification and report sweep, and trial expiry.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbd888/dojo/internal/clock"
	"github.com/mbd888/dojo/internal/logging"
	"github.com/mbd888/dojo/internal/metrics"
	"github.com/mbd888/dojo/internal/traces"
	"github.com/mbd888/dojo/internal/validation"
)

var (
	ErrInvalidTime = errors.New("jobs: time must be HH:MM")
	ErrUnknownJob  = errors.New("jobs: unknown job")
)

// Job is a named unit of batch work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Func adapts a function to a Job.
func Func(name string, fn func(ctx context.Context) error) Job {
	return funcJob{name: name, fn: fn}
}

type funcJob struct {
	name string
	fn   func(ctx context.Context) error
}

func (f funcJob) Name() string                  { return f.name }
func (f funcJob) Run(ctx context.Context) error { return f.fn(ctx) }

type entry struct {
	job    Job
	minute int // after midnight
}

// Scheduler fires each job once a day at its wall-clock time in the
// configured location. Jobs never overlap: due jobs run one after another.
type Scheduler struct {
	entries []entry
	loc     *time.Location
	clock   clock.Clock
	after   func(time.Duration) <-chan time.Time

	mu       sync.Mutex // serialises runs
	stop     chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
}

// NewScheduler creates a scheduler for loc. A nil loc means UTC.
func NewScheduler(loc *time.Location, clk clock.Clock) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if clk == nil {
		clk = clock.System{Location: loc}
	}
	return &Scheduler{
		loc:   loc,
		clock: clk,
		after: time.After,
		stop:  make(chan struct{}),
	}
}

// Add schedules job daily at "HH:MM".
func (s *Scheduler) Add(at string, job Job) error {
	m, ok := validation.ParseClock(at)
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidTime, at)
	}
	s.entries = append(s.entries, entry{job: job, minute: m})
	return nil
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Next returns the next fire time after now and the jobs due then.
func (s *Scheduler) Next(now time.Time) (time.Time, []Job) {
	local := now.In(s.loc)
	var when time.Time
	var due []Job
	for _, e := range s.entries {
		t := time.Date(local.Year(), local.Month(), local.Day(), e.minute/60, e.minute%60, 0, 0, s.loc)
		if !t.After(local) {
			t = t.AddDate(0, 0, 1)
		}
		switch {
		case when.IsZero() || t.Before(when):
			when, due = t, []Job{e.job}
		case t.Equal(when):
			due = append(due, e.job)
		}
	}
	return when, due
}

// Start runs the loop until ctx is done or Stop is called. Call in a
// goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	s.running.Store(true)
	defer s.running.Store(false)

	for {
		now := s.clock.Now()
		when, due := s.Next(now)
		if len(due) == 0 {
			select {
			case <-ctx.Done():
			case <-s.stop:
			}
			return
		}
		logging.L(ctx).Debug("next scheduled run", "at", when, "jobs", len(due))
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-s.after(when.Sub(now)):
			for _, job := range due {
				_ = s.Run(ctx, job)
			}
		}
	}
}

// Stop ends the loop. It is safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// RunNamed runs a registered job immediately.
func (s *Scheduler) RunNamed(ctx context.Context, name string) error {
	for _, e := range s.entries {
		if e.job.Name() == name {
			return s.Run(ctx, e.job)
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownJob, name)
}

// Run executes job with metrics, a span and panic recovery. It waits for
// any other run in progress.
func (s *Scheduler) Run(ctx context.Context, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Run(ctx, job)
}

// Run executes job once outside any scheduler, as the CLI does.
func Run(ctx context.Context, job Job) (err error) {
	name := job.Name()
	ctx, span := traces.StartSpan(ctx, "jobs.run", traces.Job(name))
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("jobs: %s panicked: %v", name, r)
		}
		result := "success"
		if err != nil {
			result = "error"
			logging.L(ctx).Error("job failed", "job", name, "error", err)
		} else {
			logging.L(ctx).Info("job finished", "job", name, "duration", time.Since(start))
		}
		metrics.JobRunsTotal.WithLabelValues(name, result).Inc()
		metrics.JobDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		traces.End(span, err)
	}()
	return job.Run(ctx)
}
