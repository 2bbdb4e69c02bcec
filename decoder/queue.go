package decoder

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// jobTimeout bounds a single decode once a worker has picked it up. It is
// the only deadline an in-flight job sees; Stop does not cancel it.
const jobTimeout = 5 * time.Minute

var (
	// ErrQueueFull is returned by Put when the queue is at capacity.
	ErrQueueFull = errors.New("decoder: queue full")
	// ErrQueueClosed is returned by Put after Stop.
	ErrQueueClosed = errors.New("decoder: queue closed")
)

// QueueStats is a point-in-time snapshot of queue activity.
type QueueStats struct {
	Queued    int
	InFlight  int64
	Submitted uint64
	Dropped   uint64
	Completed uint64
}

// Queue is a bounded FIFO of decode jobs shared by every recorder and served
// by a fixed number of workers.
//
// Purpose: decouple segment recording from decoding without unbounded growth.
// Key aspects: Put never blocks; a full queue rejects the job and the caller
// owns cleanup. Jobs are delivered in submission order.
// Upstream: skimmer.Recorder.SegmentClosed.
// Downstream: Job.Owner.Decode, then Job.Unlink.
type Queue struct {
	jobs    chan Job
	workers int

	mu     sync.RWMutex
	closed bool
	cancel context.CancelFunc
	wg     sync.WaitGroup

	inFlight  atomic.Int64
	submitted atomic.Uint64
	dropped   atomic.Uint64
	completed atomic.Uint64
}

// NewQueue creates a queue holding at most maxSize pending jobs.
func NewQueue(maxSize, workers int) *Queue {
	if maxSize <= 0 {
		maxSize = 1
	}
	if workers <= 0 {
		workers = 1
	}
	return &Queue{jobs: make(chan Job, maxSize), workers: workers}
}

// Start launches the worker pool. Workers stop picking up jobs when ctx is
// cancelled or Stop is called; a job already being decoded keeps running
// with a context detached from ctx and finishes normally.
func (q *Queue) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	q.mu.Lock()
	q.cancel = cancel
	q.mu.Unlock()
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
}

// Put enqueues job without blocking.
func (q *Queue) Put(job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.jobs <- job:
		q.submitted.Add(1)
		return nil
	default:
		q.dropped.Add(1)
		return ErrQueueFull
	}
}

// Len reports the number of jobs waiting for a worker.
func (q *Queue) Len() int {
	return len(q.jobs)
}

// Cap reports the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.jobs)
}

// Stats returns current counters.
func (q *Queue) Stats() QueueStats {
	return QueueStats{
		Queued:    len(q.jobs),
		InFlight:  q.inFlight.Load(),
		Submitted: q.submitted.Load(),
		Dropped:   q.dropped.Load(),
		Completed: q.completed.Load(),
	}
}

// Stop rejects further submissions, waits for in-flight decodes and removes
// the segment files of jobs that never reached a worker.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	cancel := q.cancel
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	q.wg.Wait()

	discarded := 0
	for {
		select {
		case job := <-q.jobs:
			job.Unlink()
			discarded++
		default:
			if discarded > 0 {
				log.Printf("Decoder: discarded %d queued job(s) on shutdown", discarded)
			}
			return
		}
	}
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	for {
		// Prefer shutdown over picking up more work.
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case job := <-q.jobs:
			q.run(ctx, id, job)
		}
	}
}

func (q *Queue) run(ctx context.Context, id int, job Job) {
	q.inFlight.Add(1)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Decoder: worker %d panic decoding %s: %v", id, job.File, r)
		}
		job.Unlink()
		q.inFlight.Add(-1)
		q.completed.Add(1)
	}()
	if job.Owner == nil {
		log.Printf("Decoder: worker %d dropping %s: job has no owner", id, job.File)
		return
	}
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), jobTimeout)
	defer cancel()
	job.Owner.Decode(jobCtx, job)
}
