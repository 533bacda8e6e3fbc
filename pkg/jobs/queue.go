// Package jobs provides the in-process background job runtime: a named-job
// queue drained by a fixed worker pool, plus a periodic scheduler for the
// reconciliation sweeps.
//
// Dispatch is by job name with string arguments, mirroring how external task
// queues address work. Delivery is at-least-once within the process lifetime;
// there is no ordering guarantee across job types and no automatic retry.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/techlabs/labforge/pkg/telemetry"
)

// Handler executes one job. A returned error marks the job failed; the queue
// logs it and moves on.
type Handler func(ctx context.Context, job *Job) error

// Job is one unit of queued work.
type Job struct {
	// ID is the unique identifier for this job instance.
	ID string

	// Name selects the registered handler.
	Name string

	// Args are the handler's positional string arguments.
	Args []string

	// EnqueuedAt is when the job entered the queue.
	EnqueuedAt time.Time
}

// Arg returns the i-th argument, or "" when absent.
func (j *Job) Arg(i int) string {
	if i < 0 || i >= len(j.Args) {
		return ""
	}
	return j.Args[i]
}

// Queue is a fixed-pool in-process job queue. It implements
// orchestrator.JobQueue.
type Queue struct {
	workers int
	buffer  chan *Job
	logger  *telemetry.Logger
	metrics *telemetry.Metrics

	mu       sync.RWMutex
	handlers map[string]Handler
	started  bool

	inFlight atomic.Int32
	wg       sync.WaitGroup
}

// NewQueue creates a job queue with the given worker count and buffer size.
func NewQueue(workers, bufferSize int, logger *telemetry.Logger, metrics *telemetry.Metrics) *Queue {
	if workers <= 0 {
		workers = 4
	}
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if logger == nil {
		logger = telemetry.FromContext(context.Background())
	}
	return &Queue{
		workers:  workers,
		buffer:   make(chan *Job, bufferSize),
		logger:   logger.NewComponentLogger("jobs"),
		metrics:  metrics,
		handlers: make(map[string]Handler),
	}
}

// Register binds a handler to a job name. Registration after Start is not
// supported.
func (q *Queue) Register(name string, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		panic("jobs: Register called after Start")
	}
	q.handlers[name] = handler
}

// Enqueue schedules the named job. Unknown names and a full buffer are
// rejected with an error so callers can surface the drop.
func (q *Queue) Enqueue(name string, args ...string) error {
	q.mu.RLock()
	_, known := q.handlers[name]
	q.mu.RUnlock()
	if !known {
		return fmt.Errorf("unknown job name: %s", name)
	}

	job := &Job{
		ID:         uuid.New().String(),
		Name:       name,
		Args:       args,
		EnqueuedAt: time.Now().UTC(),
	}

	select {
	case q.buffer <- job:
		q.metrics.SetQueuedJobs(float64(len(q.buffer)))
		q.logger.WithJob(name, job.ID).Debug("job enqueued")
		return nil
	default:
		return fmt.Errorf("job buffer full, %s dropped", name)
	}
}

// Start launches the worker pool. Workers run until the context is canceled;
// Wait blocks until they have drained.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
	q.logger.Infof("job queue started with %d workers", q.workers)
}

// Wait blocks until all workers have exited.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// Pending returns the number of queued plus in-flight jobs. One-shot callers
// poll it to drain the queue before exiting.
func (q *Queue) Pending() int {
	return len(q.buffer) + int(q.inFlight.Load())
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-q.buffer:
			q.inFlight.Add(1)
			q.metrics.SetQueuedJobs(float64(len(q.buffer)))
			q.runJob(ctx, job)
			q.inFlight.Add(-1)
		}
	}
}

// runJob executes one job, converting panics into logged failures so a bad
// handler never kills a worker.
func (q *Queue) runJob(ctx context.Context, job *Job) {
	logger := q.logger.WithJob(job.Name, job.ID)

	q.mu.RLock()
	handler := q.handlers[job.Name]
	q.mu.RUnlock()
	if handler == nil {
		logger.Error("no handler registered")
		return
	}

	timer := telemetry.NewTimer()
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("job panicked: %v", r)
		}
	}()

	logger.Debug("job started")
	if err := handler(ctx, job); err != nil {
		logger.WithError(err).Errorf("job failed after %s", timer.Duration())
		return
	}
	logger.Infof("job completed in %s", timer.Duration())
}
