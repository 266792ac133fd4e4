// Package warmup preloads cached snapshots into idle tabs in the background.
package warmup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dgnsrekt/tabdesk/internal/metrics"
	"github.com/dgnsrekt/tabdesk/internal/tabs"
)

const DefaultStagger = 200 * time.Millisecond

// Loader is the part of *tabs.Manager the scheduler needs. Preload is the
// same load transition activation uses.
type Loader interface {
	Subscribe(fn func(tabs.Event)) func()
	ActiveID() (int, bool)
	WarmCandidates() []int
	HasPending(id int) bool
	Preload(ctx context.Context, id int, html string) bool
}

// Cache reads snapshots. *snapshot.Store satisfies it.
type Cache interface {
	Get(id int) []byte
}

type Options struct {
	Stagger time.Duration
	Metrics *metrics.Metrics
}

type Scheduler struct {
	loader  Loader
	cache   Cache
	stagger time.Duration
	metrics *metrics.Metrics

	mu      sync.Mutex
	queue   []int
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
	wake    chan struct{}
}

func New(loader Loader, cache Cache, opts Options) *Scheduler {
	if opts.Stagger <= 0 {
		opts.Stagger = DefaultStagger
	}
	return &Scheduler{
		loader:  loader,
		cache:   cache,
		stagger: opts.Stagger,
		metrics: opts.Metrics,
		done:    make(chan struct{}),
		wake:    make(chan struct{}, 1),
	}
}

// Start begins warming in the background: the active tab first, then every
// idle tab that has a cached snapshot, one per stagger interval. It only
// runs once.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	unsubscribe := s.loader.Subscribe(s.onEvent)

	var queue []int
	for _, id := range s.loader.WarmCandidates() {
		if s.cache.Get(id) != nil {
			queue = append(queue, id)
		}
	}
	s.mu.Lock()
	s.queue = queue
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		defer unsubscribe()
		s.run(ctx)
	}()
}

func (s *Scheduler) run(ctx context.Context) {
	if id, ok := s.loader.ActiveID(); ok {
		s.preload(ctx, id, true)
	}
	for {
		s.mu.Lock()
		remaining := len(s.queue)
		s.mu.Unlock()
		if remaining == 0 {
			slog.Debug("warmup complete")
			return
		}

		timer := time.NewTimer(s.stagger)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
			continue
		case <-timer.C:
		}

		id, ok := s.pop()
		if !ok {
			continue
		}
		s.preload(ctx, id, false)
	}
}

// preload hydrates a tab. Content restored from the session is newer than or
// equal to any snapshot, so the manager prefers it; the snapshot only fills
// tabs without pending content. An idle tab without a snapshot was never
// loaded and is left alone.
func (s *Scheduler) preload(ctx context.Context, id int, active bool) {
	html := s.cache.Get(id)
	source := "cache"
	switch {
	case s.loader.HasPending(id):
		source = "pending"
	case html == nil && !active:
		return
	case html == nil:
		source = "pending"
	}
	ok := s.loader.Preload(ctx, id, string(html))
	s.metrics.RecordPreload(source, ok)
	slog.Debug("warmup preload", "tab_id", id, "source", source, "active", active, "loaded", ok)
}

func (s *Scheduler) pop() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return 0, false
	}
	id := s.queue[0]
	s.queue = s.queue[1:]
	return id, true
}

func (s *Scheduler) onEvent(evt tabs.Event) {
	switch evt.Kind {
	case tabs.EventActivated, tabs.EventClosed:
		s.remove(evt.TabID)
	case tabs.EventDestroyed:
		s.Stop()
	}
}

func (s *Scheduler) remove(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, queued := range s.queue {
		if queued == id {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			break
		}
	}
	if len(s.queue) == 0 {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
}

// Pending returns the ids still waiting to be warmed.
func (s *Scheduler) Pending() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.queue...)
}

// Stop cancels outstanding work. It does not wait; use Wait for that.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until a started scheduler has finished or been stopped.
func (s *Scheduler) Wait() {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		<-s.done
	}
}
