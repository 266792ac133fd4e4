package syncer

import "sync"

const taskQueueSize = 64

// taskQueue runs submitted functions one at a time, in submission order, on
// a single worker goroutine.
type taskQueue struct {
	ch   chan func()
	done chan struct{}

	mu     sync.RWMutex
	closed bool
}

func newTaskQueue() *taskQueue {
	q := &taskQueue{
		ch:   make(chan func(), taskQueueSize),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *taskQueue) run() {
	defer close(q.done)
	for fn := range q.ch {
		fn()
	}
}

// Submit queues fn. It reports false once the queue is closed. Tasks must
// not submit further tasks.
func (q *taskQueue) Submit(fn func()) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	q.ch <- fn
	return true
}

// Flush waits until every task submitted before it has run.
func (q *taskQueue) Flush() {
	done := make(chan struct{})
	if !q.Submit(func() { close(done) }) {
		return
	}
	<-done
}

// Close runs the remaining tasks and stops the worker.
func (q *taskQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()
	<-q.done
}
