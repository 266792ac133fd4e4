package idalloc

import (
	"sort"
	"sync"
)

// MaxReserveID bounds Reserve. Skipped ids are kept in the free pool, so an
// unbounded reservation would cost memory in proportion to the id.
const MaxReserveID = 1 << 12

// Allocator hands out small positive tab ids. Released ids are reused
// lowest-first so ids stay small and predictable.
type Allocator struct {
	mu   sync.Mutex
	next int
	free []int
	live map[int]struct{}
}

func New() *Allocator {
	return &Allocator{next: 1, live: make(map[int]struct{})}
}

// Allocate returns the smallest released id, or the next never-used id.
func (a *Allocator) Allocate() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	var id int
	if len(a.free) > 0 {
		id = a.free[0]
		a.free = a.free[1:]
	} else {
		id = a.next
		a.next++
	}
	a.live[id] = struct{}{}
	return id
}

// Release returns id to the free pool. Ids that are not live are ignored.
func (a *Allocator) Release(id int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.live[id]; !ok {
		return
	}
	delete(a.live, id)
	a.insertFree(id)
}

// Reserve claims a specific id, as needed when restoring a persisted session.
// Ids skipped over by the reservation become free. It reports false if id is
// below 1, above MaxReserveID or already live.
func (a *Allocator) Reserve(id int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if id < 1 || id > MaxReserveID {
		return false
	}
	if _, ok := a.live[id]; ok {
		return false
	}
	if id >= a.next {
		for skipped := a.next; skipped < id; skipped++ {
			a.insertFree(skipped)
		}
		a.next = id + 1
	} else {
		a.removeFree(id)
	}
	a.live[id] = struct{}{}
	return true
}

// Live returns the ids currently handed out, sorted ascending.
func (a *Allocator) Live() []int {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]int, 0, len(a.live))
	for id := range a.live {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

func (a *Allocator) insertFree(id int) {
	i := sort.SearchInts(a.free, id)
	if i < len(a.free) && a.free[i] == id {
		return
	}
	a.free = append(a.free, 0)
	copy(a.free[i+1:], a.free[i:])
	a.free[i] = id
}

func (a *Allocator) removeFree(id int) {
	i := sort.SearchInts(a.free, id)
	if i < len(a.free) && a.free[i] == id {
		a.free = append(a.free[:i], a.free[i+1:]...)
	}
}
