package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinic/booking/internal/platform/lock"
)

func TestAdd_RejectsBadSchedule(t *testing.T) {
	r := NewRunner(zerolog.Nop(), nil)
	err := r.Add(Job{Name: "sweep", Schedule: "whenever", Task: func(context.Context) (int64, error) { return 0, nil }})
	if err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestAdd_RejectsDuplicateAndIncomplete(t *testing.T) {
	r := NewRunner(zerolog.Nop(), nil)
	task := func(context.Context) (int64, error) { return 0, nil }

	if err := r.Add(Job{Name: "sweep", Schedule: "@midnight", Task: task}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Add(Job{Name: "sweep", Schedule: "@midnight", Task: task}); err == nil {
		t.Error("expected error for duplicate job name")
	}
	if err := r.Add(Job{Schedule: "@midnight", Task: task}); err == nil {
		t.Error("expected error for missing name")
	}
	if err := r.Add(Job{Name: "x", Schedule: "@midnight"}); err == nil {
		t.Error("expected error for missing task")
	}
}

func TestRunNow_ReturnsResult(t *testing.T) {
	r := NewRunner(zerolog.Nop(), nil)
	_ = r.Add(Job{Name: "sweep", Schedule: "@midnight", Task: func(context.Context) (int64, error) { return 7, nil }})

	n, err := r.RunNow(context.Background(), "sweep")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 7 {
		t.Errorf("expected 7 affected, got %d", n)
	}
}

func TestRunNow_UnknownJob(t *testing.T) {
	r := NewRunner(zerolog.Nop(), nil)
	if _, err := r.RunNow(context.Background(), "nope"); !errors.Is(err, ErrUnknownJob) {
		t.Errorf("expected ErrUnknownJob, got %v", err)
	}
}

func TestRunNow_PropagatesTaskError(t *testing.T) {
	boom := errors.New("storage down")
	r := NewRunner(zerolog.Nop(), nil)
	_ = r.Add(Job{Name: "sweep", Schedule: "@midnight", Task: func(context.Context) (int64, error) { return 0, boom }})

	if _, err := r.RunNow(context.Background(), "sweep"); !errors.Is(err, boom) {
		t.Errorf("expected task error, got %v", err)
	}
	// A failed run must not wedge the job.
	if _, err := r.RunNow(context.Background(), "sweep"); errors.Is(err, ErrAlreadyRunning) {
		t.Error("job still marked running after failure")
	}
}

func TestRunNow_NeverOverlaps(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var runs int32

	r := NewRunner(zerolog.Nop(), nil)
	_ = r.Add(Job{Name: "sweep", Schedule: "@midnight", Task: func(ctx context.Context) (int64, error) {
		atomic.AddInt32(&runs, 1)
		close(started)
		<-release
		return 1, nil
	}})

	done := make(chan error, 1)
	go func() {
		_, err := r.RunNow(context.Background(), "sweep")
		done <- err
	}()
	<-started

	if _, err := r.RunNow(context.Background(), "sweep"); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning for overlapping run, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("unexpected error from first run: %v", err)
	}
	if n := atomic.LoadInt32(&runs); n != 1 {
		t.Errorf("expected exactly one run, got %d", n)
	}
}

func TestRunNow_SkipsWhenLockHeld(t *testing.T) {
	locker := lock.NewLocal()
	held, ok, _ := locker.TryAcquire(context.Background(), "job:sweep", time.Minute)
	if !ok {
		t.Fatal("expected to acquire lock")
	}

	var runs int32
	r := NewRunner(zerolog.Nop(), locker)
	_ = r.Add(Job{Name: "sweep", Schedule: "@midnight", Task: func(context.Context) (int64, error) {
		atomic.AddInt32(&runs, 1)
		return 0, nil
	}})

	if _, err := r.RunNow(context.Background(), "sweep"); !errors.Is(err, ErrLockHeld) {
		t.Errorf("expected ErrLockHeld, got %v", err)
	}
	if atomic.LoadInt32(&runs) != 0 {
		t.Error("task must not run while another instance holds the lock")
	}

	_ = held.Release(context.Background())
	if _, err := r.RunNow(context.Background(), "sweep"); err != nil {
		t.Fatalf("unexpected error after release: %v", err)
	}
	// The runner releases its own lease after the run.
	if _, ok, _ := locker.TryAcquire(context.Background(), "job:sweep", time.Minute); !ok {
		t.Error("expected lock to be released after run")
	}
}

func TestRun_AppliesTimeout(t *testing.T) {
	r := NewRunner(zerolog.Nop(), nil)
	_ = r.Add(Job{Name: "slow", Schedule: "@midnight", Timeout: 20 * time.Millisecond, Task: func(ctx context.Context) (int64, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	}})

	if _, err := r.RunNow(context.Background(), "slow"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestStart_RunsOnStartJobs(t *testing.T) {
	ran := make(chan struct{}, 2)
	r := NewRunner(zerolog.Nop(), nil)
	_ = r.Add(Job{Name: "sweep", Schedule: "@midnight", RunOnStart: true, Task: func(context.Context) (int64, error) {
		ran <- struct{}{}
		return 0, nil
	}})
	_ = r.Add(Job{Name: "idle", Schedule: "@midnight", Task: func(context.Context) (int64, error) {
		t.Error("job without RunOnStart must not run at start")
		return 0, nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		r.Start(ctx)
		close(stopped)
	}()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("run-on-start job did not run")
	}

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop after cancel")
	}
}

func TestLockTTL_Defaults(t *testing.T) {
	if got := (&job{Job: Job{LockTTL: time.Minute}}).lockTTL(); got != time.Minute {
		t.Errorf("expected explicit ttl, got %s", got)
	}
	if got := (&job{Job: Job{Timeout: time.Minute}}).lockTTL(); got != 2*time.Minute {
		t.Errorf("expected twice the timeout, got %s", got)
	}
	if got := (&job{}).lockTTL(); got != 10*time.Minute {
		t.Errorf("expected 10m default, got %s", got)
	}
}
