package jobs

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/BookingSync/dionysus-go/internal/instrument"
	"github.com/BookingSync/dionysus-go/internal/logger"
)

// Job is one unit of async work.
type Job interface {
	Name() string
	Perform(ctx context.Context) error
}

// Enqueuer is the async job collaborator the core hands backfill work to.
type Enqueuer interface {
	Enqueue(ctx context.Context, job Job) error
}

// ErrStopped is returned when enqueueing into a stopped runner.
var ErrStopped = errors.New("jobs: runner stopped")

// Runner is an in-process worker pool. Deployments with a real job queue
// plug their own Enqueuer in instead.
type Runner struct {
	jobs    chan Job
	workers int
	errors  instrument.ErrorHandler
	log     *zap.Logger

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

func NewRunner(workers, buffer int, errHandler instrument.ErrorHandler) *Runner {
	if workers <= 0 {
		workers = 4
	}
	if buffer <= 0 {
		buffer = 64
	}
	return &Runner{
		jobs:    make(chan Job, buffer),
		workers: workers,
		errors:  errHandler,
		log:     logger.Named("jobs"),
	}
}

// Start launches the pool; workers exit when ctx is done or Stop closes the
// queue.
func (r *Runner) Start(ctx context.Context) {
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.work(ctx)
	}
}

func (r *Runner) work(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-r.jobs:
			if !ok {
				return
			}
			if err := job.Perform(ctx); err != nil {
				r.errors.CaptureException(err)
				r.log.Warn("job failed", zap.String("job", job.Name()), zap.Error(err))
			}
		}
	}
}

func (r *Runner) Enqueue(ctx context.Context, job Job) error {
	r.mu.Lock()
	stopped := r.stopped
	r.mu.Unlock()
	if stopped {
		return ErrStopped
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case r.jobs <- job:
		return nil
	}
}

// Stop closes the queue and waits for in-flight jobs.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.stopped {
		r.stopped = true
		close(r.jobs)
	}
	r.mu.Unlock()
	r.wg.Wait()
}
