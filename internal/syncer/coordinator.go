// Package syncer keeps observer surfaces and the persisted session in step
// with the tab manager.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgnsrekt/tabdesk/internal/metrics"
	"github.com/dgnsrekt/tabdesk/internal/session"
	"github.com/dgnsrekt/tabdesk/internal/tabs"
	"github.com/robfig/cron/v3"
)

const (
	DefaultBroadcastDebounce = 120 * time.Millisecond
	DefaultAutosaveDebounce  = time.Second
)

var ErrShuttingDown = errors.New("syncer: shutting down")

// TabSource is the part of *tabs.Manager the coordinator drives.
type TabSource interface {
	Subscribe(fn func(tabs.Event)) func()
	Snapshot() tabs.State
	CaptureSet() []tabs.Capture
	CapturedContent(ctx context.Context, id int) (string, error)
	Capture(ctx context.Context, id int) (string, uint64, error)
	CommitCapture(id int, incarnation uint64, write func() error) (bool, error)
	Destroy(ctx context.Context)
}

// SessionWriter persists a full session record. *session.Store satisfies it.
type SessionWriter interface {
	Save(ctx context.Context, sources []session.Source) (session.Record, error)
}

// SnapshotCache is the part of *snapshot.Store the coordinator writes to.
type SnapshotCache interface {
	Put(id int, html []byte) error
	Evict(keep map[int]struct{}) (int, error)
}

// Observer receives tab list broadcasts.
type Observer interface {
	SendTabsSync(TabsSync) error
}

type Options struct {
	BroadcastDebounce time.Duration
	AutosaveDebounce  time.Duration
	// AutosaveSchedule is a cron spec such as "@every 30s". Empty disables
	// periodic saves.
	AutosaveSchedule string
	Metrics          *metrics.Metrics
}

type Coordinator struct {
	tabs    TabSource
	store   SessionWriter
	cache   SnapshotCache
	metrics *metrics.Metrics

	tasks     *taskQueue
	saves     *saveQueue
	broadcast *debouncer
	autosave  *debouncer
	schedule  *cron.Cron

	obsMu     sync.RWMutex
	nextObsID int
	observers map[int]Observer

	unsubscribe  func()
	closing      atomic.Bool
	finalSaved   atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error
}

func New(source TabSource, store SessionWriter, cache SnapshotCache, opts Options) (*Coordinator, error) {
	if opts.BroadcastDebounce <= 0 {
		opts.BroadcastDebounce = DefaultBroadcastDebounce
	}
	if opts.AutosaveDebounce <= 0 {
		opts.AutosaveDebounce = DefaultAutosaveDebounce
	}

	c := &Coordinator{
		tabs:      source,
		store:     store,
		cache:     cache,
		metrics:   opts.Metrics,
		tasks:     newTaskQueue(),
		observers: make(map[int]Observer),
	}
	c.saves = newSaveQueue(c.runSave, c.skipSave)
	c.broadcast = newDebouncer(opts.BroadcastDebounce, func() {
		c.tasks.Submit(c.broadcastNow)
	})
	c.autosave = newDebouncer(opts.AutosaveDebounce, func() {
		c.tasks.Submit(func() { c.requestAutosave("debounce") })
	})

	if opts.AutosaveSchedule != "" {
		c.schedule = cron.New()
		if _, err := c.schedule.AddFunc(opts.AutosaveSchedule, func() {
			c.tasks.Submit(func() { c.requestAutosave("schedule") })
		}); err != nil {
			c.tasks.Close()
			return nil, fmt.Errorf("syncer: invalid autosave schedule %q: %w", opts.AutosaveSchedule, err)
		}
		c.schedule.Start()
	}

	c.unsubscribe = source.Subscribe(c.onEvent)
	return c, nil
}

// AddObserver registers o for broadcasts and returns a function that
// removes it.
func (c *Coordinator) AddObserver(o Observer) func() {
	c.obsMu.Lock()
	c.nextObsID++
	id := c.nextObsID
	c.observers[id] = o
	c.obsMu.Unlock()
	return func() {
		c.obsMu.Lock()
		delete(c.observers, id)
		c.obsMu.Unlock()
	}
}

func (c *Coordinator) onEvent(evt tabs.Event) {
	if c.closing.Load() {
		return
	}
	if evt.Kind == tabs.EventDeactivated {
		id := evt.TabID
		c.tasks.Submit(func() { c.captureSnapshot(context.Background(), id) })
	}
	if evt.Kind.Mutates() {
		c.broadcast.Trigger()
		c.autosave.Trigger()
	}
}

// Broadcast schedules a debounced broadcast outside the event path, for
// example after an observer connects.
func (c *Coordinator) Broadcast() {
	if c.closing.Load() {
		return
	}
	c.broadcast.Trigger()
}

func (c *Coordinator) broadcastNow() {
	st := c.tabs.Snapshot()
	payload, anomaly := BuildTabsSync(st)

	c.obsMu.RLock()
	observers := make([]Observer, 0, len(c.observers))
	for _, o := range c.observers {
		observers = append(observers, o)
	}
	c.obsMu.RUnlock()

	failed := 0
	for _, o := range observers {
		if err := o.SendTabsSync(payload); err != nil {
			failed++
			slog.Debug("tabs-sync delivery failed", "error", err)
		}
	}

	loaded := 0
	for _, info := range st.Tabs {
		if info.State == tabs.Loaded {
			loaded++
		}
	}
	c.metrics.SetTabs(len(st.Tabs), loaded)
	c.metrics.RecordBroadcast(anomaly, failed)
	slog.Debug("tabs-sync broadcast", "tabs", len(payload.Tabs), "active_index", payload.ActiveTabIndex, "observers", len(observers))
}

func (c *Coordinator) requestAutosave(trigger string) {
	if c.closing.Load() || c.finalSaved.Load() {
		return
	}
	c.saves.Request(LowPriority, trigger)
}

// SaveNow runs a must-run save and waits for it.
func (c *Coordinator) SaveNow(ctx context.Context) error {
	if c.closing.Load() {
		return ErrShuttingDown
	}
	return c.saves.Request(MustRun, "manual").Wait(ctx)
}

func (c *Coordinator) skipSave(t *saveTicket) bool {
	if !t.mustRun && c.finalSaved.Load() {
		slog.Debug("auto-save suppressed after final save", "trigger", t.trigger)
		return true
	}
	return false
}

// runSave fixes the set of tabs first, then lets the store resolve their
// content concurrently. A tab closed mid-save keeps whatever was read.
func (c *Coordinator) runSave(trigger string) error {
	start := time.Now()
	captures := c.tabs.CaptureSet()
	sources := make([]session.Source, 0, len(captures))
	for _, cp := range captures {
		src := session.Source{
			ID:       cp.ID,
			Title:    cp.Title,
			URL:      cp.URL,
			Active:   cp.Active,
			Fallback: cp.Fallback,
		}
		if cp.Loaded {
			id := cp.ID
			src.Read = func(ctx context.Context) (string, error) {
				return c.tabs.CapturedContent(ctx, id)
			}
		}
		sources = append(sources, src)
	}

	_, err := c.store.Save(context.Background(), sources)
	elapsed := time.Since(start)
	c.metrics.RecordSave(trigger, err, elapsed)
	if err != nil {
		slog.Error("session save failed", "trigger", trigger, "error", err)
		return err
	}
	slog.Debug("session saved", "trigger", trigger, "tabs", len(sources), "elapsed", elapsed)
	return nil
}

// captureSnapshot writes a tab's content into the cache. The content is read
// without any lock held, so the write only happens if the id still belongs to
// the tab it was read from.
func (c *Coordinator) captureSnapshot(ctx context.Context, id int) {
	content, incarnation, err := c.tabs.Capture(ctx, id)
	if err != nil {
		if errors.Is(err, tabs.ErrTabNotFound) || errors.Is(err, tabs.ErrSurfaceGone) {
			slog.Debug("snapshot capture skipped", "tab_id", id, "reason", err)
			return
		}
		slog.Warn("snapshot capture failed", "tab_id", id, "error", err)
		c.metrics.RecordCapture(err)
		return
	}
	if content == "" {
		return
	}
	stored, err := c.tabs.CommitCapture(id, incarnation, func() error {
		return c.cache.Put(id, []byte(content))
	})
	if !stored {
		slog.Debug("snapshot capture discarded, tab is gone or its id was reused", "tab_id", id)
		return
	}
	c.metrics.RecordCapture(err)
	if err != nil {
		slog.Warn("snapshot write failed", "tab_id", id, "error", err)
	}
}

// Shutdown runs the shutdown handshake once: timers stop, exactly one final
// save runs after any save already in flight, loaded tabs are captured into
// the cache, entries for dead ids are evicted and the manager is destroyed.
// The returned error is for logging only; callers exit normally regardless.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.shutdownOnce.Do(func() {
		c.shutdownErr = c.shutdown(ctx)
	})
	return c.shutdownErr
}

func (c *Coordinator) shutdown(ctx context.Context) error {
	slog.Info("sync coordinator shutting down")
	c.closing.Store(true)
	c.unsubscribe()
	c.broadcast.Stop()
	c.autosave.Stop()
	if c.schedule != nil {
		stopped := c.schedule.Stop()
		select {
		case <-stopped.Done():
		case <-ctx.Done():
		}
	}
	c.tasks.Flush()

	var errs []error
	if err := c.saves.Request(MustRun, "shutdown").Wait(ctx); err != nil {
		slog.Error("final session save failed", "error", err)
		errs = append(errs, fmt.Errorf("final save: %w", err))
	}
	c.finalSaved.Store(true)

	keep := make(map[int]struct{})
	for _, cp := range c.tabs.CaptureSet() {
		keep[cp.ID] = struct{}{}
		if cp.Loaded {
			c.captureSnapshot(ctx, cp.ID)
		}
	}
	evicted, err := c.cache.Evict(keep)
	c.metrics.RecordEvictions(evicted)
	if err != nil {
		slog.Warn("snapshot eviction failed", "error", err)
		errs = append(errs, fmt.Errorf("evict snapshots: %w", err))
	}

	c.tabs.Destroy(ctx)
	c.tasks.Close()
	slog.Info("sync coordinator stopped", "evicted", evicted, "kept", len(keep))
	return errors.Join(errs...)
}
