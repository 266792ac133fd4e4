package tabs

import "sync"

type EventKind int

const (
	EventCreated EventKind = iota
	EventActivated
	EventDeactivated
	EventClosed
	EventReordered
	EventRenamed
	EventRestored
	EventLoaded
	EventDestroyed
)

var eventNames = map[EventKind]string{
	EventCreated:     "created",
	EventActivated:   "activated",
	EventDeactivated: "deactivated",
	EventClosed:      "closed",
	EventReordered:   "reordered",
	EventRenamed:     "renamed",
	EventRestored:    "restored",
	EventLoaded:      "loaded",
	EventDestroyed:   "destroyed",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return "unknown"
}

// Mutates reports whether the event changes what observers see.
func (k EventKind) Mutates() bool {
	return k != EventLoaded
}

// Event describes one change to the tab collection. From and To are set for
// EventReordered.
type Event struct {
	Kind  EventKind
	TabID int
	From  int
	To    int
}

type emitter struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(Event)
}

func (e *emitter) subscribe(fn func(Event)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.subs == nil {
		e.subs = make(map[int]func(Event))
	}
	e.nextID++
	id := e.nextID
	e.subs[id] = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, id)
			e.mu.Unlock()
		})
	}
}

func (e *emitter) emit(events []Event) {
	if len(events) == 0 {
		return
	}
	e.mu.Lock()
	fns := make([]func(Event), 0, len(e.subs))
	for id := 1; id <= e.nextID; id++ {
		if fn, ok := e.subs[id]; ok {
			fns = append(fns, fn)
		}
	}
	e.mu.Unlock()
	for _, evt := range events {
		for _, fn := range fns {
			fn(evt)
		}
	}
}
