// Package scheduler runs interval jobs and wall-clock daily jobs with
// single-flight semantics: a tick that arrives while the previous run is
// still going is skipped, never queued.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"infodigest/internal/logger"
)

// JobFunc is one scheduled unit of work. Errors are logged, never fatal to
// the scheduler.
type JobFunc func(ctx context.Context) error

type job struct {
	name     string
	run      JobFunc
	interval time.Duration // interval job when > 0
	at       []time.Time   // wall-clock times (only HH:MM matter) when set
	inFlight atomic.Bool
}

// Scheduler owns a set of jobs and drives them until its context is
// cancelled.
type Scheduler struct {
	mu       sync.Mutex
	location *time.Location
	jobs     []*job
	started  bool
	wg       sync.WaitGroup

	// now is swapped in tests.
	now func() time.Time
}

// New builds a scheduler evaluating wall-clock jobs in the given timezone.
func New(location *time.Location) *Scheduler {
	if location == nil {
		location = time.UTC
	}
	return &Scheduler{location: location, now: time.Now}
}

// AddInterval registers a job firing every interval. The first firing waits
// one full interval; nothing runs at registration time.
func (s *Scheduler) AddInterval(name string, interval time.Duration, fn JobFunc) error {
	if interval <= 0 {
		return fmt.Errorf("interval for job %q must be positive", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("cannot add job %q to a running scheduler", name)
	}
	s.jobs = append(s.jobs, &job{name: name, run: fn, interval: interval})
	return nil
}

// AddDaily registers a job firing at the given wall-clock times ("HH:MM")
// each day, in the scheduler's timezone.
func (s *Scheduler) AddDaily(name string, times []string, fn JobFunc) error {
	var parsed []time.Time
	for _, t := range times {
		at, err := time.Parse("15:04", t)
		if err != nil {
			return fmt.Errorf("invalid wall-clock time %q for job %q: expected HH:MM", t, name)
		}
		parsed = append(parsed, at)
	}
	if len(parsed) == 0 {
		return fmt.Errorf("job %q has no firing times", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("cannot add job %q to a running scheduler", name)
	}
	s.jobs = append(s.jobs, &job{name: name, run: fn, at: parsed})
	return nil
}

// Start launches all registered jobs. It returns immediately; the jobs stop
// when ctx is cancelled, and Wait blocks until they have drained.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.started = true
	jobs := s.jobs
	s.mu.Unlock()

	for _, j := range jobs {
		j := j
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if j.interval > 0 {
				s.runInterval(ctx, j)
			} else {
				s.runDaily(ctx, j)
			}
		}()
	}
}

// Wait blocks until every job loop has exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) runInterval(ctx context.Context, j *job) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	logger.Info("interval job scheduled", "job", j.name, "interval", j.interval.String())
	for {
		select {
		case <-ctx.Done():
			logger.Info("job stopped", "job", j.name)
			return
		case <-ticker.C:
			s.fireAsync(ctx, j)
		}
	}
}

// fireAsync runs the job off the tick loop so the ticker keeps draining while
// a run is in flight. Ticks arriving mid-run hit the single-flight guard and
// are skipped; a slow run never causes a queued back-to-back firing.
func (s *Scheduler) fireAsync(ctx context.Context, j *job) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.fire(ctx, j)
	}()
}

func (s *Scheduler) runDaily(ctx context.Context, j *job) {
	logger.Info("daily job scheduled", "job", j.name, "times", len(j.at))
	for {
		next := s.nextFiring(j)
		timer := time.NewTimer(next.Sub(s.now().In(s.location)))
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info("job stopped", "job", j.name)
			return
		case <-timer.C:
			s.fireAsync(ctx, j)
		}
	}
}

// nextFiring finds the soonest future wall-clock firing across the job's
// configured times.
func (s *Scheduler) nextFiring(j *job) time.Time {
	now := s.now().In(s.location)
	var next time.Time
	for _, at := range j.at {
		candidate := time.Date(now.Year(), now.Month(), now.Day(), at.Hour(), at.Minute(), 0, 0, s.location)
		if !candidate.After(now) {
			candidate = candidate.AddDate(0, 0, 1)
		}
		if next.IsZero() || candidate.Before(next) {
			next = candidate
		}
	}
	return next
}

// fire runs the job once with single-flight and panic containment.
func (s *Scheduler) fire(ctx context.Context, j *job) {
	if !j.inFlight.CompareAndSwap(false, true) {
		logger.Warn("previous run still in flight, skipping", "job", j.name)
		return
	}
	defer j.inFlight.Store(false)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("job panicked", "job", j.name, "panic", fmt.Sprint(r))
		}
	}()

	start := time.Now()
	if err := j.run(ctx); err != nil {
		logger.Error("job failed", "job", j.name, "error", err.Error(), "duration", time.Since(start).String())
		return
	}
	logger.Info("job completed", "job", j.name, "duration", time.Since(start).String())
}
