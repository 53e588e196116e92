// Package dispatch runs panel operations on background workers so the
// interactive caller never blocks on network I/O. Work is submitted to a
// single FIFO queue and picked up by a small worker pool; each task gets a
// correlation id that its completion callback receives back.
package dispatch

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultWorkers is the pool size used when the caller does not choose one.
const DefaultWorkers = 2

// Task is one unit of background work. The context is live for the whole
// dispatcher lifetime, including the drain during Close.
type Task func(ctx context.Context) (any, error)

// Result is handed to the completion callback. ID matches the correlation
// id Submit returned.
type Result struct {
	ID    string
	Value any
	Err   error
}

// Callback receives a task result on the worker goroutine that ran it.
type Callback func(Result)

type job struct {
	id       string
	task     Task
	callback Callback
}

// Dispatcher owns the task queue and its workers.
type Dispatcher struct {
	queue  *jobQueue
	logger zerolog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
	ctx    context.Context

	closeOnce sync.Once
}

// New starts a dispatcher with the given pool size. Values below one fall
// back to DefaultWorkers.
func New(workers int, logger zerolog.Logger) *Dispatcher {
	if workers < 1 {
		workers = DefaultWorkers
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		queue:  newJobQueue(),
		logger: logger,
		cancel: cancel,
		ctx:    ctx,
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.worker()
	}
	return d
}

// Submit queues a task and returns its correlation id. After Close the
// task is not queued and ok is false.
func (d *Dispatcher) Submit(task Task, callback Callback) (id string, ok bool) {
	id = uuid.New().String()
	if !d.queue.enqueue(job{id: id, task: task, callback: callback}) {
		return "", false
	}
	d.logger.Debug().Str("task_id", id).Msg("Task queued")
	return id, true
}

// Len reports how many tasks are waiting for a worker.
func (d *Dispatcher) Len() int {
	return d.queue.len()
}

// Close stops accepting tasks, lets the workers finish everything already
// queued, and waits for them to exit. Safe to call more than once.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.queue.close()
		d.wg.Wait()
		d.cancel()
	})
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		j, ok := d.queue.dequeue()
		if !ok {
			return
		}
		value, err := j.task(d.ctx)
		if err != nil {
			d.logger.Debug().Str("task_id", j.id).Err(err).Msg("Task failed")
		}
		if j.callback != nil {
			j.callback(Result{ID: j.id, Value: value, Err: err})
		}
	}
}

// jobQueue is an unbounded FIFO shared by the workers. Unbounded so a
// burst of UI actions never blocks the caller; the worker pool bounds
// actual concurrency.
type jobQueue struct {
	mu     sync.Mutex
	jobs   []job
	closed bool
	// Buffered size 1: coalesces wakeups, closed by close()
	signal chan struct{}
}

func newJobQueue() *jobQueue {
	return &jobQueue{
		jobs:   make([]job, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

func (q *jobQueue) enqueue(j job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.jobs = append(q.jobs, j)
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// dequeue blocks until a job is available. Returns false once the queue is
// closed and drained.
func (q *jobQueue) dequeue() (job, bool) {
	for {
		q.mu.Lock()
		if len(q.jobs) > 0 {
			j := q.jobs[0]
			// Zero the slot so the backing array does not pin the task
			// closure after it is consumed.
			q.jobs[0] = job{}
			if len(q.jobs) == 1 {
				q.jobs = q.jobs[:0]
			} else {
				q.jobs = q.jobs[1:]
				// More work waiting: wake another worker, the signal
				// send in enqueue coalesces.
				if !q.closed {
					select {
					case q.signal <- struct{}{}:
					default:
					}
				}
			}
			q.mu.Unlock()
			return j, true
		}
		if q.closed {
			q.mu.Unlock()
			return job{}, false
		}
		q.mu.Unlock()

		<-q.signal
	}
}

func (q *jobQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

func (q *jobQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
