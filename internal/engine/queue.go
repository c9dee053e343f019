package engine

import "sync"

// task is a unit of work for the engine loop, tagged with the generation
// that scheduled it.
type task struct {
	gen  int64
	name string
	fn   func()
}

// taskQueue is a thread-safe FIFO queue of tasks.
//
// The queue is unbounded so backend callbacks never block on a busy engine.
// It uses a channel for signaling so Run can wait on a context as well.
type taskQueue struct {
	mu     sync.Mutex
	tasks  []task
	closed bool
	signal chan struct{} // buffered, size 1
}

func newTaskQueue() *taskQueue {
	return &taskQueue{
		tasks:  make([]task, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a task to the back of the queue.
// Safe from any goroutine. Returns false if the queue is closed.
func (q *taskQueue) Enqueue(t task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.tasks = append(q.tasks, t)

	// Non-blocking; the buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes the front task without blocking.
func (q *taskQueue) TryDequeue() (task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return task{}, false
	}

	t := q.tasks[0]

	// Release the closure for GC.
	q.tasks[0] = task{}

	if len(q.tasks) == 1 {
		q.tasks = q.tasks[:0]
	} else {
		q.tasks = q.tasks[1:]
	}

	return t, true
}

// Wait returns a channel that signals when tasks may be available. The
// channel is closed by Close.
func (q *taskQueue) Wait() <-chan struct{} {
	return q.signal
}

// Close stops accepting tasks, drops the queued ones and wakes waiters.
func (q *taskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	q.tasks = nil
	close(q.signal)
}
