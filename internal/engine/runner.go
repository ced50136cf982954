package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Job is periodic work owned by the Runner.
type Job struct {
	Name     string
	Interval time.Duration
	// RunAtStart runs the job as soon as Run starts instead of after the
	// first interval.
	RunAtStart bool
	Run        func(ctx context.Context) error
}

// Runner is the single goroutine that mutates workflow state.
//
// Periodic jobs and submitted commands run one at a time on the Run
// goroutine, so they never race each other. A job error is logged and the
// job runs again at its next interval.
//
// Work is started with a context detached from Run's cancellation: a burn
// that is being confirmed when shutdown begins is allowed to finish. Work
// that is safe to abandon can opt back in with Interruptible. Once Run's
// context ends no further job or command is started.
type Runner struct {
	jobs   []Job
	queue  *commandQueue
	logger *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewRunner creates a runner for jobs. Jobs with a non-positive interval
// are rejected.
func NewRunner(logger *slog.Logger, jobs ...Job) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, j := range jobs {
		if j.Interval <= 0 {
			return nil, fmt.Errorf("job %q: interval must be positive", j.Name)
		}
		if j.Run == nil {
			return nil, fmt.Errorf("job %q: no run function", j.Name)
		}
	}
	return &Runner{
		jobs:   append([]Job(nil), jobs...),
		queue:  newCommandQueue(),
		logger: logger,
	}, nil
}

// Run executes jobs and commands until ctx is cancelled or Stop is called.
// Commands still queued at that point fail with ErrStopped.
func (r *Runner) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("runner already running")
	}
	r.running = true
	r.mu.Unlock()

	work := context.WithValue(context.WithoutCancel(ctx), shutdownKey{}, ctx)
	r.logger.Info("runner starting", "jobs", len(r.jobs))

	now := time.Now()
	next := make([]time.Time, len(r.jobs))
	for i, j := range r.jobs {
		if j.RunAtStart {
			next[i] = now
		} else {
			next[i] = now.Add(j.Interval)
		}
	}

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			r.logger.Info("runner stopping: context cancelled")
			r.stop()
			return nil
		}

		if cmd, ok := r.queue.TryDequeue(); ok {
			r.execute(work, cmd)
			continue
		}

		i, ok := r.nextDue(next)
		if ok && !next[i].After(time.Now()) {
			r.runJob(work, r.jobs[i])
			next[i] = time.Now().Add(r.jobs[i].Interval)
			continue
		}

		wait := time.Hour
		if ok {
			wait = max(time.Until(next[i]), 0)
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			r.logger.Info("runner stopping: context cancelled")
			r.stop()
			return nil
		case <-timer.C:
		case _, open := <-r.queue.Wait():
			if !open && r.queue.Len() == 0 {
				r.logger.Info("runner stopping: stopped")
				return nil
			}
		}
	}
}

type shutdownKey struct{}

// Interruptible derives a context from work context ctx that is also
// cancelled when the Runner shuts down. Outside a Runner it is
// context.WithCancel.
func Interruptible(ctx context.Context) (context.Context, context.CancelFunc) {
	out, cancel := context.WithCancel(ctx)
	live, ok := ctx.Value(shutdownKey{}).(context.Context)
	if !ok {
		return out, cancel
	}
	stop := context.AfterFunc(live, cancel)
	return out, func() {
		stop()
		cancel()
	}
}

// Stop closes the command queue. Run returns once it notices.
func (r *Runner) Stop() {
	r.stop()
}

func (r *Runner) stop() {
	for _, cmd := range r.queue.Close() {
		cmd.reply <- commandResult{err: ErrStopped}
	}
}

// Submit runs fn on the Runner goroutine and waits for its result.
// It returns ctx.Err() if ctx ends first; fn may still run later.
func (r *Runner) Submit(ctx context.Context, name string, fn func(ctx context.Context) (any, error)) (any, error) {
	cmd := command{
		name:  name,
		run:   fn,
		reply: make(chan commandResult, 1),
	}
	if !r.queue.Enqueue(cmd) {
		return nil, ErrStopped
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-cmd.reply:
		return res.value, res.err
	}
}

// Do is Submit with a typed result.
func Do[T any](ctx context.Context, r *Runner, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	v, err := r.Submit(ctx, name, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	out, _ := v.(T)
	return out, nil
}

// Pending reports how many commands are waiting.
func (r *Runner) Pending() int {
	return r.queue.Len()
}

func (r *Runner) execute(ctx context.Context, cmd command) {
	start := time.Now()
	v, err := cmd.run(ctx)
	if err != nil {
		r.logger.Warn("command failed", "command", cmd.name, "error", err)
	} else {
		r.logger.Debug("command done", "command", cmd.name, "took", time.Since(start))
	}
	cmd.reply <- commandResult{value: v, err: err}
}

func (r *Runner) runJob(ctx context.Context, j Job) {
	start := time.Now()
	if err := j.Run(ctx); err != nil {
		r.logger.Error("job failed", "job", j.Name, "error", err)
		return
	}
	r.logger.Debug("job done", "job", j.Name, "took", time.Since(start))
}

// nextDue returns the index of the job due soonest. Ties go to the job
// declared first.
func (r *Runner) nextDue(next []time.Time) (int, bool) {
	if len(next) == 0 {
		return 0, false
	}
	best := 0
	for i := 1; i < len(next); i++ {
		if next[i].Before(next[best]) {
			best = i
		}
	}
	return best, true
}
