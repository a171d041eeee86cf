package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAddIntervalValidation(t *testing.T) {
	s := New(time.UTC)
	if err := s.AddInterval("bad", 0, func(ctx context.Context) error { return nil }); err == nil {
		t.Error("AddInterval must reject a zero interval")
	}
	if err := s.AddInterval("bad", -time.Second, func(ctx context.Context) error { return nil }); err == nil {
		t.Error("AddInterval must reject a negative interval")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	if err := s.AddInterval("late", time.Second, func(ctx context.Context) error { return nil }); err == nil {
		t.Error("AddInterval must reject jobs on a running scheduler")
	}
}

func TestAddDailyValidation(t *testing.T) {
	s := New(time.UTC)
	fn := func(ctx context.Context) error { return nil }

	if err := s.AddDaily("bad", []string{"25:00"}, fn); err == nil {
		t.Error("AddDaily must reject an invalid wall-clock time")
	}
	if err := s.AddDaily("bad", []string{"8am"}, fn); err == nil {
		t.Error("AddDaily must reject a non HH:MM time")
	}
	if err := s.AddDaily("bad", nil, fn); err == nil {
		t.Error("AddDaily must reject an empty time list")
	}
	if err := s.AddDaily("good", []string{"08:00", "18:30"}, fn); err != nil {
		t.Errorf("AddDaily() error = %v", err)
	}
}

func TestIntervalJobFires(t *testing.T) {
	s := New(time.UTC)
	var fired int32
	if err := s.AddInterval("tick", 20*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&fired, 1)
		return nil
	}); err != nil {
		t.Fatalf("AddInterval() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	// The first firing waits a full interval.
	time.Sleep(10 * time.Millisecond)
	if n := atomic.LoadInt32(&fired); n != 0 {
		t.Errorf("job fired %d times before the first interval elapsed", n)
	}

	time.Sleep(80 * time.Millisecond)
	cancel()
	s.Wait()

	if n := atomic.LoadInt32(&fired); n < 2 {
		t.Errorf("job fired %d times, want at least 2", n)
	}
}

func TestFailingJobKeepsScheduler(t *testing.T) {
	s := New(time.UTC)
	var fired int32
	if err := s.AddInterval("flaky", 15*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&fired, 1)
		return errors.New("boom")
	}); err != nil {
		t.Fatalf("AddInterval() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	time.Sleep(60 * time.Millisecond)
	cancel()
	s.Wait()

	if n := atomic.LoadInt32(&fired); n < 2 {
		t.Errorf("failing job fired %d times, want repeated firings", n)
	}
}

func TestIntervalOverrunSkipsTicks(t *testing.T) {
	s := New(time.UTC)
	var mu sync.Mutex
	var starts, ends []time.Time

	if err := s.AddInterval("slow", 50*time.Millisecond, func(ctx context.Context) error {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		time.Sleep(120 * time.Millisecond)
		mu.Lock()
		ends = append(ends, time.Now())
		mu.Unlock()
		return nil
	}); err != nil {
		t.Fatalf("AddInterval() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	time.Sleep(400 * time.Millisecond)
	cancel()
	s.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(ends) < 2 {
		t.Fatalf("job completed %d times, want at least 2", len(ends))
	}
	// Ticks that arrived during the 120ms run are skipped, so the next run
	// waits for a fresh tick instead of starting the moment the slow run ends.
	for i := 0; i+1 < len(starts) && i < len(ends); i++ {
		if gap := starts[i+1].Sub(ends[i]); gap < 10*time.Millisecond {
			t.Errorf("run %d started %v after the previous run ended: overrun tick was queued, not skipped", i+1, gap)
		}
	}
}

func TestFireSingleFlight(t *testing.T) {
	s := New(time.UTC)
	var running int32
	var overlapped bool
	block := make(chan struct{})
	j := &job{name: "slow", run: func(ctx context.Context) error {
		if atomic.AddInt32(&running, 1) > 1 {
			overlapped = true
		}
		<-block
		atomic.AddInt32(&running, -1)
		return nil
	}}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.fire(context.Background(), j)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(block)
	wg.Wait()

	if overlapped {
		t.Error("fire must never run the same job concurrently")
	}
}

func TestFireContainsPanic(t *testing.T) {
	s := New(time.UTC)
	j := &job{name: "panicky", run: func(ctx context.Context) error {
		panic("unexpected")
	}}
	// Must not propagate the panic.
	s.fire(context.Background(), j)
	if j.inFlight.Load() {
		t.Error("inFlight must be released after a panic")
	}
}

func TestNextFiring(t *testing.T) {
	s := New(time.UTC)
	s.now = func() time.Time {
		return time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	}

	mustParse := func(v string) time.Time {
		at, err := time.Parse("15:04", v)
		if err != nil {
			t.Fatalf("parse %q: %v", v, err)
		}
		return at
	}

	tests := []struct {
		name  string
		times []string
		want  time.Time
	}{
		{
			name:  "later today",
			times: []string{"18:30"},
			want:  time.Date(2026, 3, 15, 18, 30, 0, 0, time.UTC),
		},
		{
			name:  "already passed rolls to tomorrow",
			times: []string{"08:00"},
			want:  time.Date(2026, 3, 16, 8, 0, 0, 0, time.UTC),
		},
		{
			name:  "soonest of several wins",
			times: []string{"08:00", "14:00", "23:00"},
			want:  time.Date(2026, 3, 15, 14, 0, 0, 0, time.UTC),
		},
		{
			name:  "exactly now rolls to tomorrow",
			times: []string{"12:00"},
			want:  time.Date(2026, 3, 16, 12, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := &job{name: "daily"}
			for _, v := range tt.times {
				j.at = append(j.at, mustParse(v))
			}
			if got := s.nextFiring(j); !got.Equal(tt.want) {
				t.Errorf("nextFiring() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWaitReturnsAfterCancel(t *testing.T) {
	s := New(time.UTC)
	_ = s.AddInterval("tick", time.Hour, func(ctx context.Context) error { return nil })
	_ = s.AddDaily("daily", []string{"03:00"}, func(ctx context.Context) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait() did not return after cancellation")
	}
}
