// Package jobs runs named background tasks on cron schedules. A task never
// overlaps itself: within a process an in-flight flag guards it, across
// replicas an optional lock.Locker does.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/clinic/booking/internal/platform/lock"
)

var (
	ErrAlreadyRunning = errors.New("job already running")
	ErrLockHeld       = errors.New("job is running on another instance")
	ErrUnknownJob     = errors.New("unknown job")
)

// Task does one unit of work and reports how many records it affected.
type Task func(ctx context.Context) (int64, error)

type Job struct {
	Name string
	// Schedule is a standard 5-field cron spec or a descriptor such as @midnight.
	Schedule   string
	RunOnStart bool
	// Timeout bounds a single run. Zero means no deadline.
	Timeout time.Duration
	// LockTTL is the lease length when a Locker is configured. Zero means
	// twice the timeout, or ten minutes.
	LockTTL time.Duration
	Task    Task
}

type job struct {
	Job
	running atomic.Bool
}

// Runner owns the cron scheduler and the registered jobs.
type Runner struct {
	logger zerolog.Logger
	locker lock.Locker
	cron   *cron.Cron

	mu   sync.RWMutex
	jobs map[string]*job
	base context.Context
}

// NewRunner creates a runner. locker may be nil for single-instance setups.
func NewRunner(logger zerolog.Logger, locker lock.Locker) *Runner {
	return &Runner{
		logger: logger.With().Str("component", "jobs").Logger(),
		locker: locker,
		cron:   cron.New(cron.WithLocation(time.Local)),
		jobs:   make(map[string]*job),
		base:   context.Background(),
	}
}

// Add registers j. The schedule is validated here.
func (r *Runner) Add(j Job) error {
	if j.Name == "" || j.Task == nil {
		return fmt.Errorf("job needs a name and a task")
	}
	sched, err := cron.ParseStandard(j.Schedule)
	if err != nil {
		return fmt.Errorf("job %s: invalid schedule %q: %w", j.Name, j.Schedule, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.jobs[j.Name]; dup {
		return fmt.Errorf("job %s already registered", j.Name)
	}
	jb := &job{Job: j}
	r.jobs[j.Name] = jb
	r.cron.Schedule(sched, cron.FuncJob(func() {
		r.mu.RLock()
		ctx := r.base
		r.mu.RUnlock()
		_, _ = r.run(ctx, jb, "schedule")
	}))
	return nil
}

// Start fires the run-on-start jobs, starts the scheduler and blocks until
// ctx is cancelled. In-flight runs are waited for before returning.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	r.base = ctx
	count := len(r.jobs)
	var onStart []*job
	for _, jb := range r.jobs {
		if jb.RunOnStart {
			onStart = append(onStart, jb)
		}
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, jb := range onStart {
		wg.Add(1)
		go func(jb *job) {
			defer wg.Done()
			_, _ = r.run(ctx, jb, "start")
		}(jb)
	}

	r.cron.Start()
	r.logger.Info().Int("jobs", count).Msg("job runner started")

	<-ctx.Done()
	stopped := r.cron.Stop()
	<-stopped.Done()
	wg.Wait()
	r.logger.Info().Msg("job runner stopped")
}

// RunNow runs the named job immediately on behalf of a caller and returns
// its result. It fails fast with ErrAlreadyRunning or ErrLockHeld instead of
// waiting for a concurrent run.
func (r *Runner) RunNow(ctx context.Context, name string) (int64, error) {
	r.mu.RLock()
	jb, ok := r.jobs[name]
	r.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return r.run(ctx, jb, "manual")
}

func (r *Runner) run(ctx context.Context, jb *job, trigger string) (int64, error) {
	log := r.logger.With().Str("job", jb.Name).Str("trigger", trigger).Logger()

	if !jb.running.CompareAndSwap(false, true) {
		log.Info().Msg("skipped, previous run still in progress")
		return 0, ErrAlreadyRunning
	}
	defer jb.running.Store(false)

	if jb.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, jb.Timeout)
		defer cancel()
	}

	if r.locker != nil {
		lease, ok, err := r.locker.TryAcquire(ctx, "job:"+jb.Name, jb.lockTTL())
		if err != nil {
			log.Error().Err(err).Msg("acquire job lock")
			return 0, fmt.Errorf("acquire job lock: %w", err)
		}
		if !ok {
			log.Info().Msg("skipped, lock held by another instance")
			return 0, ErrLockHeld
		}
		defer func() {
			// The run context may already be done.
			relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := lease.Release(relCtx); err != nil {
				log.Warn().Err(err).Msg("release job lock")
			}
		}()
	}

	start := time.Now()
	log.Info().Msg("job started")
	n, err := jb.Task(log.WithContext(ctx))
	dur := time.Since(start)
	if err != nil {
		log.Error().Err(err).Dur("duration", dur).Msg("job failed")
		return n, err
	}
	log.Info().Int64("affected", n).Dur("duration", dur).Msg("job finished")
	return n, nil
}

func (j *job) lockTTL() time.Duration {
	if j.LockTTL > 0 {
		return j.LockTTL
	}
	if j.Timeout > 0 {
		return 2 * j.Timeout
	}
	return 10 * time.Minute
}
