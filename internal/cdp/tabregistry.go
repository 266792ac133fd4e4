package cdp

import (
	"sort"
	"sync"

	"github.com/chromedp/cdproto/target"
)

// TabRegistry maps tab ids to the page targets rendering them.
type TabRegistry struct {
	targets map[int]target.ID
	mu      sync.RWMutex
}

func NewTabRegistry() *TabRegistry {
	return &TabRegistry{targets: make(map[int]target.ID)}
}

func (r *TabRegistry) Register(tabID int, targetID target.ID) {
	r.mu.Lock()
	r.targets[tabID] = targetID
	r.mu.Unlock()
}

func (r *TabRegistry) Get(tabID int) (target.ID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.targets[tabID]
	return id, ok
}

func (r *TabRegistry) Remove(tabID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.targets, tabID)
}

func (r *TabRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.targets)
}

// TabIDs returns the registered tab ids in ascending order.
func (r *TabRegistry) TabIDs() []int {
	r.mu.RLock()
	ids := make([]int, 0, len(r.targets))
	for id := range r.targets {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Ints(ids)
	return ids
}
