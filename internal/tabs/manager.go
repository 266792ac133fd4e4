package tabs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

const (
	DefaultMaxTabs      = 7
	DefaultChromeHeight = 40
)

// ErrTabNotFound is returned by read operations on ids that are not live.
var ErrTabNotFound = errors.New("tabs: tab not found")

type LoadState int

const (
	Unloaded LoadState = iota
	Loading
	Loaded
)

func (s LoadState) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	default:
		return "unknown"
	}
}

// Info is a read-only view of one tab.
type Info struct {
	ID     int       `json:"id"`
	Title  string    `json:"title"`
	URL    string    `json:"url,omitempty"`
	Active bool      `json:"isActive"`
	State  LoadState `json:"-"`
}

// State is a consistent view of the whole collection. ActiveIndex is -1 when
// the collection is empty.
type State struct {
	Tabs        []Info
	ActiveIndex int
}

// Capture describes a tab whose content is about to be persisted. Fallback is
// the last content known without asking the surface.
type Capture struct {
	ID       int
	Title    string
	URL      string
	Active   bool
	Loaded   bool
	Fallback string
}

// Seed is a tab restored from a persisted session.
type Seed struct {
	ID      int
	Title   string
	URL     string
	Content string
	Active  bool
}

type Options struct {
	MaxTabs      int
	ChromeHeight int
	Invalidator  Invalidator
}

type tab struct {
	id    int
	title string
	url   string
	// incarnation tells apart successive tabs that were given the same id.
	incarnation uint64

	state    LoadState
	gen      uint64
	surface  Surface
	attached bool

	pending     string
	hasPending  bool
	lastContent string
}

// Manager owns the tab collection and every surface in it.
//
// opMu serializes mutating operations so that dependent surface calls
// (detach before destroy, release after destroy) never interleave. mu guards
// the collection itself and is never held across a surface call.
type Manager struct {
	opMu sync.Mutex
	mu   sync.Mutex

	ids     IDAllocator
	factory SurfaceFactory
	window  Window
	opts    Options

	tabs         []*tab
	activeID     int
	destroyed    bool
	unhook       func()
	incarnations uint64

	events emitter
}

// NewManager returns an empty manager. It subscribes to window events when
// window is non-nil.
func NewManager(ids IDAllocator, factory SurfaceFactory, window Window, opts Options) *Manager {
	if opts.MaxTabs <= 0 {
		opts.MaxTabs = DefaultMaxTabs
	}
	if opts.ChromeHeight < 0 {
		opts.ChromeHeight = 0
	}
	m := &Manager{
		ids:     ids,
		factory: factory,
		window:  window,
		opts:    opts,
	}
	if window != nil {
		m.unhook = window.Subscribe(m.onWindowEvent)
	}
	return m
}

// Subscribe registers fn for change events. Events are delivered after the
// operation that caused them has released the manager's locks, in the
// goroutine that called the operation.
func (m *Manager) Subscribe(fn func(Event)) func() {
	return m.events.subscribe(fn)
}

type createConfig struct {
	activate   bool
	content    string
	hasContent bool
	url        string
}

type CreateOption func(*createConfig)

// WithoutActivation leaves the current active tab in place, unless there is
// none.
func WithoutActivation() CreateOption {
	return func(c *createConfig) { c.activate = false }
}

// WithContent sets the document the tab is hydrated with on first load.
func WithContent(html string) CreateOption {
	return func(c *createConfig) {
		c.content = html
		c.hasContent = true
	}
}

func WithURL(url string) CreateOption {
	return func(c *createConfig) { c.url = url }
}

// CreateTab appends a new Unloaded tab and, unless WithoutActivation is
// given, activates it. It returns false when the tab cap is reached or the
// manager has been destroyed.
func (m *Manager) CreateTab(ctx context.Context, title string, opts ...CreateOption) (Info, bool) {
	cfg := createConfig{activate: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	m.opMu.Lock()
	m.mu.Lock()
	if m.destroyed || len(m.tabs) >= m.opts.MaxTabs {
		full := !m.destroyed
		m.mu.Unlock()
		m.opMu.Unlock()
		if full {
			slog.Info("tab limit reached", "max_tabs", m.opts.MaxTabs)
		}
		return Info{}, false
	}
	t := &tab{
		id:          m.ids.Allocate(),
		title:       title,
		url:         cfg.url,
		incarnation: m.nextIncarnation(),
		pending:     cfg.content,
		hasPending:  cfg.hasContent,
	}
	t.lastContent = t.pending
	m.tabs = append(m.tabs, t)
	activate := cfg.activate || m.activeID == 0
	m.mu.Unlock()

	// A recycled id must not serve the previous holder's snapshot.
	m.invalidate(t.id)

	events := []Event{{Kind: EventCreated, TabID: t.id}}
	if activate {
		events = append(events, m.activate(ctx, t.id)...)
	}
	info, _ := m.info(t.id)
	m.opMu.Unlock()

	m.events.emit(events)
	return info, true
}

// SetActiveTab makes id the active tab, loading its surface on first use.
// It is a no-op for unknown ids, the already active and loaded tab and a
// destroyed manager. Activating the active tab again retries a load that
// failed.
func (m *Manager) SetActiveTab(ctx context.Context, id int) bool {
	m.opMu.Lock()
	events := m.activate(ctx, id)
	m.opMu.Unlock()
	m.events.emit(events)
	return len(events) > 0
}

// SetActiveIndex activates the tab at index in strip order.
func (m *Manager) SetActiveIndex(ctx context.Context, index int) bool {
	id, ok := m.idAt(index)
	if !ok {
		return false
	}
	return m.SetActiveTab(ctx, id)
}

// activate must be called with opMu held.
func (m *Manager) activate(ctx context.Context, id int) []Event {
	m.mu.Lock()
	_, t := m.find(id)
	if m.destroyed || t == nil {
		m.mu.Unlock()
		return nil
	}
	if m.activeID == id {
		ticket, load := m.beginLoad(t, "")
		m.mu.Unlock()
		if !load {
			return nil
		}
		return m.load(ctx, ticket)
	}

	var events []Event
	var prev *tab
	var prevSurface Surface
	if _, prev = m.find(m.activeID); prev != nil {
		events = append(events, Event{Kind: EventDeactivated, TabID: prev.id})
		if prev.attached {
			prevSurface = prev.surface
			prev.attached = false
		}
	}
	m.activeID = id
	events = append(events, Event{Kind: EventActivated, TabID: id})
	ticket, load := m.beginLoad(t, "")
	m.mu.Unlock()

	if prevSurface != nil {
		logSurfaceErr(prev.id, "detach", prevSurface.Detach(ctx))
	}
	if load {
		return append(events, m.load(ctx, ticket)...)
	}
	m.present(ctx)
	return events
}

// load runs an activation load to completion. It must be called with opMu
// held.
func (m *Manager) load(ctx context.Context, ticket loadTicket) []Event {
	s, err := m.hydrate(ctx, ticket)
	if loaded, ok := m.finishLoad(ctx, ticket, s, err); ok {
		return []Event{loaded}
	}
	return nil
}

// ReorderTabs moves the tab at from to position to. Out-of-range indices are
// ignored; they usually mean a drag raced a close.
func (m *Manager) ReorderTabs(from, to int) bool {
	m.opMu.Lock()
	m.mu.Lock()
	n := len(m.tabs)
	if m.destroyed || from < 0 || from >= n || to < 0 || to >= n || from == to {
		m.mu.Unlock()
		m.opMu.Unlock()
		return false
	}
	t := m.tabs[from]
	m.tabs = append(m.tabs[:from], m.tabs[from+1:]...)
	m.tabs = append(m.tabs[:to], append([]*tab{t}, m.tabs[to:]...)...)
	m.mu.Unlock()
	m.opMu.Unlock()

	m.events.emit([]Event{{Kind: EventReordered, TabID: t.id, From: from, To: to}})
	return true
}

// Rename changes a tab's title. It reports false when nothing changed.
func (m *Manager) Rename(id int, title string) bool {
	m.opMu.Lock()
	m.mu.Lock()
	_, t := m.find(id)
	if m.destroyed || t == nil || t.title == title {
		m.mu.Unlock()
		m.opMu.Unlock()
		return false
	}
	t.title = title
	m.mu.Unlock()
	m.opMu.Unlock()

	m.events.emit([]Event{{Kind: EventRenamed, TabID: id}})
	return true
}

// CloseTab removes a tab and destroys its surface. Closing an unknown or
// already closed tab is a no-op. When the active tab closes, its right
// neighbour becomes active, else its left neighbour.
func (m *Manager) CloseTab(ctx context.Context, id int) bool {
	m.opMu.Lock()
	m.mu.Lock()
	idx, t := m.find(id)
	if m.destroyed || t == nil {
		m.mu.Unlock()
		m.opMu.Unlock()
		return false
	}
	m.tabs = append(m.tabs[:idx], m.tabs[idx+1:]...)
	next := 0
	if m.activeID == id {
		m.activeID = 0
		switch {
		case idx < len(m.tabs):
			next = m.tabs[idx].id
		case idx > 0:
			next = m.tabs[idx-1].id
		}
	}
	surface := t.surface
	t.surface = nil
	t.attached = false
	t.state = Unloaded
	m.mu.Unlock()

	m.teardown(ctx, id, surface)
	m.invalidate(id)
	m.ids.Release(id)

	events := []Event{{Kind: EventClosed, TabID: id}}
	if next != 0 {
		events = append(events, m.activate(ctx, next)...)
	}
	m.opMu.Unlock()

	m.events.emit(events)
	return true
}

// CloseTabByIndex closes the tab at index in strip order.
func (m *Manager) CloseTabByIndex(ctx context.Context, index int) bool {
	id, ok := m.idAt(index)
	if !ok {
		return false
	}
	return m.CloseTab(ctx, id)
}

// Destroy tears down every tab and makes the manager inert. It is safe to
// call more than once.
func (m *Manager) Destroy(ctx context.Context) {
	m.opMu.Lock()
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		m.opMu.Unlock()
		return
	}
	m.destroyed = true
	doomed := m.tabs
	m.tabs = nil
	m.activeID = 0
	unhook := m.unhook
	m.unhook = nil
	m.mu.Unlock()

	if unhook != nil {
		unhook()
	}
	for _, t := range doomed {
		m.teardown(ctx, t.id, t.surface)
		m.ids.Release(t.id)
	}
	m.opMu.Unlock()

	slog.Info("tab manager destroyed", "tabs", len(doomed))
	m.events.emit([]Event{{Kind: EventDestroyed}})
}

// Restore seeds an empty manager from a persisted session. Persisted ids are
// kept when they can be reserved so cached snapshots stay addressable; a
// seed whose id is taken or out of range gets a fresh id, and any snapshot
// under that fresh id is invalidated. Surfaces are not created; the active
// tab loads on warmup or first use.
func (m *Manager) Restore(ctx context.Context, seeds []Seed) int {
	m.opMu.Lock()
	m.mu.Lock()
	if m.destroyed || len(m.tabs) > 0 {
		m.mu.Unlock()
		m.opMu.Unlock()
		return 0
	}
	if len(seeds) > m.opts.MaxTabs {
		slog.Warn("restored session exceeds tab limit", "max_tabs", m.opts.MaxTabs, "dropped", len(seeds)-m.opts.MaxTabs)
		seeds = seeds[:m.opts.MaxTabs]
	}

	// Reserve every persisted id before allocating replacements, so a
	// replacement never takes an id another seed still owns.
	ids := make([]int, len(seeds))
	for i, seed := range seeds {
		if m.ids.Reserve(seed.ID) {
			ids[i] = seed.ID
		}
	}
	var reassigned []int
	for i, seed := range seeds {
		if ids[i] == 0 {
			ids[i] = m.ids.Allocate()
			reassigned = append(reassigned, ids[i])
			slog.Warn("restored tab id unusable, reassigned", "persisted_id", seed.ID, "tab_id", ids[i])
		}
	}

	active := 0
	for i, seed := range seeds {
		m.tabs = append(m.tabs, &tab{
			id:          ids[i],
			title:       seed.Title,
			url:         seed.URL,
			incarnation: m.nextIncarnation(),
			pending:     seed.Content,
			hasPending:  true,
			lastContent: seed.Content,
		})
		if seed.Active && active == 0 {
			active = ids[i]
		}
	}
	if active == 0 && len(m.tabs) > 0 {
		active = m.tabs[0].id
	}
	m.activeID = active
	n := len(m.tabs)
	m.mu.Unlock()

	for _, id := range reassigned {
		m.invalidate(id)
	}
	m.opMu.Unlock()

	if n > 0 {
		m.events.emit([]Event{{Kind: EventRestored, TabID: active}})
	}
	return n
}

// Preload loads a tab's surface in the background. The tab's pending content
// (restored from the session or given at creation) takes precedence; html,
// usually a cached snapshot, is used only for a tab without any. It goes
// through the same transition as activation and does not block other
// operations while the surface is created. If the load fails after the tab
// was activated, the activation load runs instead.
func (m *Manager) Preload(ctx context.Context, id int, html string) bool {
	m.mu.Lock()
	_, t := m.find(id)
	if m.destroyed || t == nil {
		m.mu.Unlock()
		return false
	}
	ticket, ok := m.beginLoad(t, html)
	m.mu.Unlock()
	if !ok {
		return false
	}

	s, err := m.hydrate(ctx, ticket)

	m.opMu.Lock()
	evt, loaded := m.finishLoad(ctx, ticket, s, err)
	var events []Event
	switch {
	case loaded:
		events = []Event{evt}
	case err != nil && m.isActive(id):
		// Activation skipped its own load while this one was in flight.
		events = m.activate(context.WithoutCancel(ctx), id)
	}
	m.opMu.Unlock()
	m.events.emit(events)
	return loaded
}

func (m *Manager) isActive(id int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.destroyed && m.activeID == id
}

type loadTicket struct {
	id   int
	gen  uint64
	html string
}

// beginLoad must be called with mu held.
func (m *Manager) beginLoad(t *tab, html string) (loadTicket, bool) {
	if t.state != Unloaded {
		return loadTicket{}, false
	}
	t.state = Loading
	t.gen++
	if t.hasPending {
		html = t.pending
	}
	return loadTicket{id: t.id, gen: t.gen, html: html}, true
}

func (m *Manager) hydrate(ctx context.Context, ticket loadTicket) (Surface, error) {
	s, err := m.factory.NewSurface(ctx, ticket.id)
	if err != nil {
		return nil, fmt.Errorf("tabs: create surface for tab %d: %w", ticket.id, err)
	}
	if ticket.html == "" {
		return s, nil
	}
	if err := s.Load(ctx, ticket.html); err != nil {
		logSurfaceErr(ticket.id, "destroy", s.Destroy(ctx))
		return nil, fmt.Errorf("tabs: hydrate tab %d: %w", ticket.id, err)
	}
	return s, nil
}

// finishLoad re-validates a load after the surface exists. It must be called
// with opMu held. A surface whose tab was closed, reloaded or torn down in
// the meantime is destroyed.
func (m *Manager) finishLoad(ctx context.Context, ticket loadTicket, s Surface, loadErr error) (Event, bool) {
	m.mu.Lock()
	_, t := m.find(ticket.id)
	valid := !m.destroyed && t != nil && t.gen == ticket.gen && t.state == Loading
	if loadErr != nil {
		if valid {
			t.state = Unloaded
		}
		m.mu.Unlock()
		slog.Warn("tab load failed", "tab_id", ticket.id, "error", loadErr)
		return Event{}, false
	}
	if !valid {
		m.mu.Unlock()
		slog.Debug("discarding surface for stale load", "tab_id", ticket.id)
		m.teardown(ctx, ticket.id, s)
		return Event{}, false
	}
	t.surface = s
	t.state = Loaded
	t.pending = ""
	t.hasPending = false
	if ticket.html != "" {
		t.lastContent = ticket.html
	}
	active := m.activeID == t.id
	m.mu.Unlock()

	if active {
		m.present(ctx)
	}
	return Event{Kind: EventLoaded, TabID: ticket.id}, true
}

// present attaches the active surface if needed and sizes it to the window.
// It must be called with opMu held.
func (m *Manager) present(ctx context.Context) {
	m.mu.Lock()
	_, t := m.find(m.activeID)
	if m.destroyed || t == nil || t.state != Loaded || t.surface == nil {
		m.mu.Unlock()
		return
	}
	s := t.surface
	attach := !t.attached
	t.attached = true
	bounds, haveBounds := m.layoutBounds()
	id := t.id
	m.mu.Unlock()

	if attach {
		logSurfaceErr(id, "attach", s.Attach(ctx))
	}
	if haveBounds {
		logSurfaceErr(id, "set_bounds", s.SetBounds(ctx, bounds))
	}
}

func (m *Manager) layoutBounds() (Bounds, bool) {
	if m.window == nil {
		return Bounds{}, false
	}
	b := m.window.ContentBounds()
	chrome := m.opts.ChromeHeight
	b.Y += chrome
	b.Height -= chrome
	if b.Height < 0 {
		b.Height = 0
	}
	return b, true
}

func (m *Manager) onWindowEvent(evt WindowEvent) {
	slog.Debug("window event", "kind", evt.Kind.String())
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.present(context.Background())
}

// teardown detaches then destroys a surface. Detach always runs first.
func (m *Manager) teardown(ctx context.Context, id int, s Surface) {
	if s == nil {
		return
	}
	logSurfaceErr(id, "detach", s.Detach(ctx))
	logSurfaceErr(id, "destroy", s.Destroy(ctx))
}

func (m *Manager) invalidate(id int) {
	if m.opts.Invalidator == nil {
		return
	}
	if err := m.opts.Invalidator.Delete(id); err != nil {
		slog.Warn("snapshot invalidation failed", "tab_id", id, "error", err)
	}
}

func logSurfaceErr(id int, op string, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, ErrSurfaceGone) || errors.Is(err, context.Canceled) {
		slog.Debug("surface already gone", "tab_id", id, "op", op)
		return
	}
	slog.Warn("surface operation failed", "tab_id", id, "op", op, "error", err)
}

// CapturedContent returns the current content of a tab: read from the live
// surface when the tab is loaded, else the last content it was given.
func (m *Manager) CapturedContent(ctx context.Context, id int) (string, error) {
	content, _, err := m.Capture(ctx, id)
	return content, err
}

// Capture is CapturedContent plus the incarnation of the tab the content was
// read from. Pass both to CommitCapture.
func (m *Manager) Capture(ctx context.Context, id int) (string, uint64, error) {
	m.mu.Lock()
	_, t := m.find(id)
	if t == nil {
		m.mu.Unlock()
		return "", 0, fmt.Errorf("%w: %d", ErrTabNotFound, id)
	}
	incarnation := t.incarnation
	if t.state != Loaded || t.surface == nil {
		content := t.lastContent
		m.mu.Unlock()
		return content, incarnation, nil
	}
	s := t.surface
	m.mu.Unlock()

	content, err := s.Content(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("tabs: read tab %d: %w", id, err)
	}

	m.mu.Lock()
	if _, t := m.find(id); t != nil && t.surface == s {
		t.lastContent = content
	}
	m.mu.Unlock()
	return content, incarnation, nil
}

// CommitCapture runs write, typically a snapshot cache write, only while id
// still names the tab incarnation a Capture returned. write runs under the
// collection lock, which closing and recycling an id also take, so a write
// that runs always lands before that id is invalidated. It reports whether
// write ran and returns its error.
func (m *Manager) CommitCapture(id int, incarnation uint64, write func() error) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, t := m.find(id)
	if m.destroyed || t == nil || t.incarnation != incarnation {
		return false, nil
	}
	return true, write()
}

// HasPending reports whether a tab still holds content that has not been
// loaded into a surface.
func (m *Manager) HasPending(id int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, t := m.find(id)
	return t != nil && t.hasPending
}

func (m *Manager) nextIncarnation() uint64 {
	m.incarnations++
	return m.incarnations
}

// CaptureSet fixes the set of tabs to persist, in strip order.
func (m *Manager) CaptureSet() []Capture {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Capture, 0, len(m.tabs))
	for _, t := range m.tabs {
		out = append(out, Capture{
			ID:       t.id,
			Title:    t.title,
			URL:      t.url,
			Active:   t.id == m.activeID,
			Loaded:   t.state == Loaded,
			Fallback: t.lastContent,
		})
	}
	return out
}

// WarmCandidates lists Unloaded tabs other than the active one, in strip
// order.
func (m *Manager) WarmCandidates() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []int
	for _, t := range m.tabs {
		if t.state == Unloaded && t.id != m.activeID {
			out = append(out, t.id)
		}
	}
	return out
}

// Snapshot returns the tabs in strip order with the active index.
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := State{Tabs: make([]Info, 0, len(m.tabs)), ActiveIndex: -1}
	for i, t := range m.tabs {
		st.Tabs = append(st.Tabs, m.infoLocked(t))
		if t.id == m.activeID {
			st.ActiveIndex = i
		}
	}
	return st
}

// ActiveID returns the active tab id, or false when there is none.
func (m *Manager) ActiveID() (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeID, m.activeID != 0
}

// Len returns the number of live tabs.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tabs)
}

// Get returns the tab with id, or false when it is not live.
func (m *Manager) Get(id int) (Info, bool) {
	return m.info(id)
}

// Destroyed reports whether Destroy has run.
func (m *Manager) Destroyed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.destroyed
}

func (m *Manager) info(id int) (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, t := m.find(id)
	if t == nil {
		return Info{}, false
	}
	return m.infoLocked(t), true
}

func (m *Manager) infoLocked(t *tab) Info {
	return Info{ID: t.id, Title: t.title, URL: t.url, Active: t.id == m.activeID, State: t.state}
}

func (m *Manager) idAt(index int) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.tabs) {
		return 0, false
	}
	return m.tabs[index].id, true
}

// find must be called with mu held.
func (m *Manager) find(id int) (int, *tab) {
	if id == 0 {
		return -1, nil
	}
	for i, t := range m.tabs {
		if t.id == id {
			return i, t
		}
	}
	return -1, nil
}
