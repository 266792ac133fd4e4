package syncer

import (
	"context"
	"sync"
)

type Priority int

const (
	// LowPriority requests are dropped when a save is already pending and
	// skipped once the final save has completed.
	LowPriority Priority = iota
	// MustRun requests always get a save that starts after they were made.
	MustRun
)

func (p Priority) String() string {
	if p == MustRun {
		return "must-run"
	}
	return "low"
}

// saveTicket is one pending save run. Requests that coalesce share it.
type saveTicket struct {
	trigger string
	mustRun bool
	done    chan struct{}
	err     error
}

// Wait blocks until the run covering this ticket has finished.
func (t *saveTicket) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// saveQueue serializes saves. At most one save runs and at most one waits;
// a request made while one is pending coalesces into it.
//
// Idle -> Pending -> Running -> Idle
type saveQueue struct {
	run  func(trigger string) error
	skip func(t *saveTicket) bool

	mu      sync.Mutex
	running bool
	pending *saveTicket
}

func newSaveQueue(run func(trigger string) error, skip func(t *saveTicket) bool) *saveQueue {
	return &saveQueue{run: run, skip: skip}
}

// Request enqueues a save and returns the ticket it will be covered by.
func (q *saveQueue) Request(p Priority, trigger string) *saveTicket {
	q.mu.Lock()
	defer q.mu.Unlock()

	if t := q.pending; t != nil {
		if p == MustRun && !t.mustRun {
			t.mustRun = true
			t.trigger = trigger
		}
		return t
	}

	t := &saveTicket{trigger: trigger, mustRun: p == MustRun, done: make(chan struct{})}
	q.pending = t
	if !q.running {
		q.running = true
		go q.loop()
	}
	return t
}

func (q *saveQueue) loop() {
	for {
		q.mu.Lock()
		t := q.pending
		if t == nil {
			q.running = false
			q.mu.Unlock()
			return
		}
		q.pending = nil
		q.mu.Unlock()

		if q.skip != nil && q.skip(t) {
			close(t.done)
			continue
		}
		t.err = q.run(t.trigger)
		close(t.done)
	}
}

// Busy reports whether a save is running or pending.
func (q *saveQueue) Busy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running || q.pending != nil
}
