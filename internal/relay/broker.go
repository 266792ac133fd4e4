package relay

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dgnsrekt/tabdesk/internal/syncer"
)

const subscriberBufSize = 64

// Event is one message for observer surfaces.
type Event struct {
	Feed    string
	Payload string
}

// Broker fans out events to every connected observer surface. The last
// event of each feed is retained and replayed to new subscribers so a tab
// strip that connects late starts from the current state.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[int64]chan Event
	retained    map[string]Event
	order       []string
	nextID      atomic.Int64
	dropped     atomic.Int64
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[int64]chan Event),
		retained:    make(map[string]Event),
	}
}

// Subscribe registers a new observer. The channel is buffered; slow
// consumers have events dropped.
func (b *Broker) Subscribe() (int64, <-chan Event) {
	id := b.nextID.Add(1)
	ch := make(chan Event, subscriberBufSize)
	b.mu.Lock()
	for _, feed := range b.order {
		ch <- b.retained[feed]
	}
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(id int64) {
	b.mu.Lock()
	ch, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish retains evt and sends it to all subscribers without blocking.
func (b *Broker) Publish(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, seen := b.retained[evt.Feed]; !seen {
		b.order = append(b.order, evt.Feed)
	}
	b.retained[evt.Feed] = evt
	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

// Last returns the retained event for feed.
func (b *Broker) Last(feed string) (Event, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	evt, ok := b.retained[feed]
	return evt, ok
}

func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped counts events discarded for slow subscribers.
func (b *Broker) Dropped() int64 {
	return b.dropped.Load()
}

// SendTabsSync publishes a broadcast on the tabs-sync feed. It makes the
// broker a syncer.Observer.
func (b *Broker) SendTabsSync(p syncer.TabsSync) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("relay: encode tabs-sync: %w", err)
	}
	b.Publish(Event{Feed: syncer.FeedTabsSync, Payload: string(data)})
	return nil
}
