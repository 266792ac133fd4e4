package tabs_test

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/tabdesk/internal/idalloc"
	"github.com/dgnsrekt/tabdesk/internal/tabs"
	"github.com/dgnsrekt/tabdesk/internal/tabs/tabstest"
)

type harness struct {
	mgr     *tabs.Manager
	ids     *idalloc.Allocator
	factory *tabstest.Factory
	window  *tabstest.Window
	cache   *fakeInvalidator
}

type fakeInvalidator struct {
	deleted []int
}

func (f *fakeInvalidator) Delete(id int) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func newHarness(t *testing.T, opts tabs.Options) *harness {
	t.Helper()
	h := &harness{
		ids:     idalloc.New(),
		factory: tabstest.NewFactory(),
		window:  tabstest.NewWindow(1200, 800),
		cache:   &fakeInvalidator{},
	}
	if opts.Invalidator == nil {
		opts.Invalidator = h.cache
	}
	h.mgr = tabs.NewManager(h.ids, h.factory, h.window, opts)
	return h
}

func (h *harness) create(t *testing.T, title string, opts ...tabs.CreateOption) tabs.Info {
	t.Helper()
	info, ok := h.mgr.CreateTab(context.Background(), title, opts...)
	if !ok {
		t.Fatalf("CreateTab(%q) = false; want true", title)
	}
	return info
}

func titles(st tabs.State) []string {
	out := make([]string, 0, len(st.Tabs))
	for _, info := range st.Tabs {
		out = append(out, info.Title)
	}
	return out
}

func activeCount(st tabs.State) int {
	n := 0
	for _, info := range st.Tabs {
		if info.Active {
			n++
		}
	}
	return n
}

func TestReorderThenCloseActivatesNeighbour(t *testing.T) {
	h := newHarness(t, tabs.Options{})
	ctx := context.Background()
	h.create(t, "A")
	h.create(t, "B")
	c := h.create(t, "C")

	if !h.mgr.ReorderTabs(0, 2) {
		t.Fatal("ReorderTabs(0, 2) = false; want true")
	}
	st := h.mgr.Snapshot()
	if got, want := titles(st), []string{"B", "C", "A"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("order after reorder = %v; want %v", got, want)
	}
	if id, _ := h.mgr.ActiveID(); id != c.ID {
		t.Fatalf("active after reorder = %d; want %d (C)", id, c.ID)
	}

	if !h.mgr.CloseTab(ctx, c.ID) {
		t.Fatal("CloseTab(C) = false; want true")
	}
	st = h.mgr.Snapshot()
	if got, want := titles(st), []string{"B", "A"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("order after close = %v; want %v", got, want)
	}
	if st.ActiveIndex != 1 || !st.Tabs[1].Active {
		t.Fatalf("active index = %d; want 1 (A)", st.ActiveIndex)
	}
	if n := activeCount(st); n != 1 {
		t.Fatalf("active tabs = %d; want 1", n)
	}
}

func TestCloseRightmostActivatesLeftNeighbour(t *testing.T) {
	h := newHarness(t, tabs.Options{})
	a := h.create(t, "A")
	b := h.create(t, "B")

	h.mgr.CloseTab(context.Background(), b.ID)
	if id, _ := h.mgr.ActiveID(); id != a.ID {
		t.Fatalf("active = %d; want %d", id, a.ID)
	}
}

func TestCloseInactiveTabKeepsActive(t *testing.T) {
	h := newHarness(t, tabs.Options{})
	a := h.create(t, "A")
	b := h.create(t, "B")

	h.mgr.CloseTab(context.Background(), a.ID)
	if id, _ := h.mgr.ActiveID(); id != b.ID {
		t.Fatalf("active = %d; want %d", id, b.ID)
	}
}

func TestCloseLastTabLeavesEmptyCollection(t *testing.T) {
	h := newHarness(t, tabs.Options{})
	a := h.create(t, "A")

	h.mgr.CloseTab(context.Background(), a.ID)
	st := h.mgr.Snapshot()
	if len(st.Tabs) != 0 || st.ActiveIndex != -1 {
		t.Fatalf("Snapshot() = %+v; want empty with ActiveIndex -1", st)
	}
	if _, ok := h.mgr.ActiveID(); ok {
		t.Fatal("ActiveID() ok = true; want false")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	h := newHarness(t, tabs.Options{})
	ctx := context.Background()
	a := h.create(t, "A")
	h.create(t, "B")

	if !h.mgr.CloseTab(ctx, a.ID) {
		t.Fatal("first CloseTab() = false; want true")
	}
	if h.mgr.CloseTab(ctx, a.ID) {
		t.Fatal("second CloseTab() = true; want false")
	}
	if h.mgr.CloseTab(ctx, 99) {
		t.Fatal("CloseTab(unknown) = true; want false")
	}
	if h.mgr.CloseTabByIndex(ctx, 5) {
		t.Fatal("CloseTabByIndex(5) = true; want false")
	}
	if h.mgr.Len() != 1 {
		t.Fatalf("Len() = %d; want 1", h.mgr.Len())
	}
}

func TestCloseDetachesBeforeDestroyAndReleasesIDAfter(t *testing.T) {
	h := newHarness(t, tabs.Options{})
	ctx := context.Background()
	a := h.create(t, "A")

	h.mgr.CloseTab(ctx, a.ID)

	entries := h.factory.Journal.Entries()
	want := []string{"create 1", "attach 1", "detach 1", "destroy 1"}
	if !reflect.DeepEqual(entries, want) {
		t.Fatalf("surface calls = %v; want %v", entries, want)
	}
	if got := h.ids.Live(); len(got) != 0 {
		t.Fatalf("live ids after close = %v; want none", got)
	}

	b := h.create(t, "B")
	if b.ID != a.ID {
		t.Fatalf("recycled id = %d; want %d", b.ID, a.ID)
	}
	if got := h.cache.deleted; !reflect.DeepEqual(got, []int{1, 1, 1}) {
		t.Fatalf("invalidated ids = %v; want [1 1 1] (create, close, recreate)", got)
	}
}

func TestMaxTabsCap(t *testing.T) {
	h := newHarness(t, tabs.Options{MaxTabs: 7})
	for i := 0; i < 7; i++ {
		h.create(t, "tab", tabs.WithoutActivation())
	}
	before := h.mgr.Snapshot()

	if _, ok := h.mgr.CreateTab(context.Background(), "eighth"); ok {
		t.Fatal("8th CreateTab() = true; want false")
	}
	if after := h.mgr.Snapshot(); !reflect.DeepEqual(before, after) {
		t.Fatalf("state changed after rejected create:\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestReorderOutOfRangeIsNoop(t *testing.T) {
	h := newHarness(t, tabs.Options{})
	h.create(t, "A")
	h.create(t, "B")
	before := h.mgr.Snapshot()

	cases := [][2]int{{-1, 0}, {0, 2}, {2, 0}, {1, 1}}
	for _, c := range cases {
		if h.mgr.ReorderTabs(c[0], c[1]) {
			t.Fatalf("ReorderTabs(%d, %d) = true; want false", c[0], c[1])
		}
	}
	if after := h.mgr.Snapshot(); !reflect.DeepEqual(before, after) {
		t.Fatalf("state changed after no-op reorders: %+v", after)
	}
}

func TestSurfacesAreCreatedLazily(t *testing.T) {
	h := newHarness(t, tabs.Options{})
	ctx := context.Background()
	h.create(t, "A")
	b := h.create(t, "B", tabs.WithoutActivation(), tabs.WithContent("<p>b</p>"))

	if s := h.factory.Latest(b.ID); s != nil {
		t.Fatal("inactive tab has a surface; want none until activation")
	}
	if b.State != tabs.Unloaded {
		t.Fatalf("state = %v; want unloaded", b.State)
	}

	if !h.mgr.SetActiveTab(ctx, b.ID) {
		t.Fatal("SetActiveTab(B) = false; want true")
	}
	s := h.factory.Latest(b.ID)
	if s == nil {
		t.Fatal("activated tab has no surface")
	}
	if got := s.HTML(); got != "<p>b</p>" {
		t.Fatalf("hydrated content = %q; want pending content", got)
	}
	if !s.Attached() {
		t.Fatal("active surface not attached")
	}
	if info, _ := h.mgr.Get(b.ID); info.State != tabs.Loaded {
		t.Fatalf("state = %v; want loaded", info.State)
	}
}

func TestSwitchDetachesWithoutDestroying(t *testing.T) {
	h := newHarness(t, tabs.Options{})
	ctx := context.Background()
	a := h.create(t, "A")
	b := h.create(t, "B")

	sa := h.factory.Latest(a.ID)
	if sa.Attached() || sa.Destroyed() {
		t.Fatalf("previous surface attached=%v destroyed=%v; want detached and alive", sa.Attached(), sa.Destroyed())
	}

	h.mgr.SetActiveTab(ctx, a.ID)
	if got := len(h.factory.Created()); got != 2 {
		t.Fatalf("surfaces created = %d; want 2 (reactivation reuses the surface)", got)
	}
	if !sa.Attached() || h.factory.Latest(b.ID).Attached() {
		t.Fatal("attach state did not follow the active tab")
	}
}

func TestSetActiveTabNoops(t *testing.T) {
	h := newHarness(t, tabs.Options{})
	ctx := context.Background()
	a := h.create(t, "A")

	if h.mgr.SetActiveTab(ctx, a.ID) {
		t.Fatal("SetActiveTab(already active) = true; want false")
	}
	if h.mgr.SetActiveTab(ctx, 42) {
		t.Fatal("SetActiveTab(unknown) = true; want false")
	}
	if h.mgr.SetActiveIndex(ctx, 3) {
		t.Fatal("SetActiveIndex(out of range) = true; want false")
	}
}

func TestLayoutSubtractsChromeAndFollowsResize(t *testing.T) {
	h := newHarness(t, tabs.Options{ChromeHeight: 40})
	a := h.create(t, "A")
	s := h.factory.Latest(a.ID)

	got, ok := s.LastBounds()
	want := tabs.Bounds{X: 0, Y: 40, Width: 1200, Height: 760}
	if !ok || got != want {
		t.Fatalf("bounds = %+v; want %+v", got, want)
	}

	h.window.Resize(800, 600)
	got, _ = s.LastBounds()
	want = tabs.Bounds{X: 0, Y: 40, Width: 800, Height: 560}
	if got != want {
		t.Fatalf("bounds after resize = %+v; want %+v", got, want)
	}

	h.window.Emit(tabs.WindowEnterFullscreen)
	if got, _ := s.LastBounds(); got != want {
		t.Fatalf("bounds after fullscreen = %+v; want %+v", got, want)
	}
}

func TestDestroyIsIdempotentAndInert(t *testing.T) {
	h := newHarness(t, tabs.Options{})
	ctx := context.Background()
	h.create(t, "A")
	h.create(t, "B")

	h.mgr.Destroy(ctx)
	h.mgr.Destroy(ctx)

	if h.factory.Live() != 0 {
		t.Fatalf("live surfaces = %d; want 0", h.factory.Live())
	}
	for _, entry := range h.factory.Journal.Entries() {
		if strings.HasPrefix(entry, "destroy-attached") {
			t.Fatalf("surface destroyed while attached: %v", h.factory.Journal.Entries())
		}
	}
	if h.window.Subscribers() != 0 {
		t.Fatalf("window subscribers = %d; want 0", h.window.Subscribers())
	}
	if _, ok := h.mgr.CreateTab(ctx, "C"); ok {
		t.Fatal("CreateTab() after Destroy = true; want false")
	}
	if h.mgr.Len() != 0 || !h.mgr.Destroyed() {
		t.Fatalf("Len() = %d destroyed=%v; want 0 and true", h.mgr.Len(), h.mgr.Destroyed())
	}
}

func TestRestoreKeepsIDsAndDefersLoading(t *testing.T) {
	h := newHarness(t, tabs.Options{})
	n := h.mgr.Restore(context.Background(), []tabs.Seed{
		{ID: 2, Title: "B", Content: "b"},
		{ID: 5, Title: "A", Content: "a", Active: true},
	})
	if n != 2 {
		t.Fatalf("Restore() = %d; want 2", n)
	}
	st := h.mgr.Snapshot()
	if st.Tabs[0].ID != 2 || st.Tabs[1].ID != 5 {
		t.Fatalf("ids = [%d %d]; want [2 5]", st.Tabs[0].ID, st.Tabs[1].ID)
	}
	if st.ActiveIndex != 1 {
		t.Fatalf("ActiveIndex = %d; want 1", st.ActiveIndex)
	}
	if len(h.factory.Created()) != 0 {
		t.Fatal("Restore() created surfaces; want none")
	}
	if len(h.cache.deleted) != 0 {
		t.Fatalf("Restore() invalidated %v; cached snapshots must survive restore", h.cache.deleted)
	}
	if got := h.create(t, "new"); got.ID != 1 {
		t.Fatalf("next id = %d; want 1 (gap below restored ids)", got.ID)
	}
}

func TestPreloadDoesNotAttachInactiveTab(t *testing.T) {
	h := newHarness(t, tabs.Options{})
	ctx := context.Background()
	h.create(t, "A")
	b := h.create(t, "B", tabs.WithoutActivation())

	if !h.mgr.Preload(ctx, b.ID, "<p>warm</p>") {
		t.Fatal("Preload() = false; want true")
	}
	s := h.factory.Latest(b.ID)
	if s.Attached() {
		t.Fatal("preloaded inactive surface is attached")
	}
	if s.HTML() != "<p>warm</p>" {
		t.Fatalf("preloaded content = %q", s.HTML())
	}
	if h.mgr.Preload(ctx, b.ID, "again") {
		t.Fatal("Preload() of a loaded tab = true; want false")
	}

	h.mgr.SetActiveTab(ctx, b.ID)
	if len(h.factory.Created()) != 2 {
		t.Fatalf("surfaces = %d; want 2 (activation reuses preloaded surface)", len(h.factory.Created()))
	}
	if !s.Attached() {
		t.Fatal("preloaded surface not attached on activation")
	}
}

func TestPreloadOfClosedTabDestroysOrphanSurface(t *testing.T) {
	h := newHarness(t, tabs.Options{})
	ctx := context.Background()
	h.create(t, "A")
	b := h.create(t, "B", tabs.WithoutActivation())

	entered, release := h.factory.Hold()
	done := make(chan bool, 1)
	go func() {
		done <- h.mgr.Preload(ctx, b.ID, "<p>warm</p>")
	}()
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("Preload() never reached surface creation")
	}

	if !h.mgr.CloseTab(ctx, b.ID) {
		t.Fatal("CloseTab() during preload = false; want true")
	}
	release()

	select {
	case loaded := <-done:
		if loaded {
			t.Fatal("Preload() of closed tab = true; want false")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Preload() did not return")
	}
	if s := h.factory.Latest(b.ID); s == nil || !s.Destroyed() {
		t.Fatal("orphan surface was not destroyed")
	}
	if _, ok := h.mgr.Get(b.ID); ok {
		t.Fatal("closed tab reappeared after preload")
	}
}

func TestActivationFailureLeavesTabUnloaded(t *testing.T) {
	h := newHarness(t, tabs.Options{})
	h.factory.LoadErr = errors.New("renderer crashed")

	a, ok := h.mgr.CreateTab(context.Background(), "A", tabs.WithContent("x"))
	if !ok {
		t.Fatal("CreateTab() = false; want true")
	}
	if a.State != tabs.Unloaded {
		t.Fatalf("state = %v; want unloaded after failed hydrate", a.State)
	}
	if h.factory.Live() != 0 {
		t.Fatal("failed surface not destroyed")
	}
}

func TestCapturedContent(t *testing.T) {
	h := newHarness(t, tabs.Options{})
	ctx := context.Background()
	a := h.create(t, "A", tabs.WithContent("v1"))
	b := h.create(t, "B", tabs.WithoutActivation(), tabs.WithContent("pending"))

	h.factory.Latest(a.ID).SetContent("v2")
	if got, err := h.mgr.CapturedContent(ctx, a.ID); err != nil || got != "v2" {
		t.Fatalf("CapturedContent(A) = %q, %v; want %q", got, err, "v2")
	}
	if got, err := h.mgr.CapturedContent(ctx, b.ID); err != nil || got != "pending" {
		t.Fatalf("CapturedContent(B) = %q, %v; want %q", got, err, "pending")
	}
	if _, err := h.mgr.CapturedContent(ctx, 77); !errors.Is(err, tabs.ErrTabNotFound) {
		t.Fatalf("CapturedContent(unknown) error = %v; want ErrTabNotFound", err)
	}

	set := h.mgr.CaptureSet()
	if len(set) != 2 || set[0].Fallback != "v2" || !set[0].Loaded || set[1].Loaded {
		t.Fatalf("CaptureSet() = %+v", set)
	}
}

func TestEventsAreEmittedInOrder(t *testing.T) {
	h := newHarness(t, tabs.Options{})
	ctx := context.Background()
	var rec tabstest.Recorder
	unsubscribe := h.mgr.Subscribe(rec.Record)

	a := h.create(t, "A")
	b := h.create(t, "B")
	h.mgr.Rename(b.ID, "B2")
	h.mgr.ReorderTabs(1, 0)
	h.mgr.CloseTab(ctx, b.ID)
	unsubscribe()
	h.mgr.CloseTab(ctx, a.ID)

	want := []tabs.EventKind{
		tabs.EventCreated, tabs.EventActivated, tabs.EventLoaded,
		tabs.EventCreated, tabs.EventDeactivated, tabs.EventActivated, tabs.EventLoaded,
		tabs.EventRenamed,
		tabs.EventReordered,
		tabs.EventClosed, tabs.EventActivated,
	}
	if got := rec.Kinds(); !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v; want %v", got, want)
	}
}

func TestWarmCandidatesExcludeActiveAndLoaded(t *testing.T) {
	h := newHarness(t, tabs.Options{})
	h.mgr.Restore(context.Background(), []tabs.Seed{
		{ID: 1, Title: "A"},
		{ID: 2, Title: "B", Active: true},
		{ID: 3, Title: "C"},
	})
	h.mgr.Preload(context.Background(), 3, "c")

	if got := h.mgr.WarmCandidates(); !reflect.DeepEqual(got, []int{1}) {
		t.Fatalf("WarmCandidates() = %v; want [1]", got)
	}
}

func TestActivatingFailedActiveTabRetriesLoad(t *testing.T) {
	h := newHarness(t, tabs.Options{})
	ctx := context.Background()
	h.factory.LoadErr = errors.New("renderer crashed")
	a, _ := h.mgr.CreateTab(ctx, "A", tabs.WithContent("x"))

	h.factory.LoadErr = nil
	if !h.mgr.SetActiveTab(ctx, a.ID) {
		t.Fatal("SetActiveTab(active, unloaded) = false; want a retried load")
	}
	info, _ := h.mgr.Get(a.ID)
	if info.State != tabs.Loaded {
		t.Fatalf("state = %v; want loaded", info.State)
	}
	if s := h.factory.Latest(a.ID); s == nil || !s.Attached() || s.HTML() != "x" {
		t.Fatal("retried load did not attach a hydrated surface")
	}
}

func TestFailedPreloadOfActivatedTabFallsBackToActivationLoad(t *testing.T) {
	h := newHarness(t, tabs.Options{})
	h.mgr.Restore(context.Background(), []tabs.Seed{
		{ID: 1, Title: "A", Content: "a", Active: true},
		{ID: 2, Title: "B", Content: "b"},
	})

	entered, release := h.factory.Hold()
	defer release()
	preloadCtx, cancel := context.WithCancel(context.Background())
	done := make(chan bool, 1)
	go func() {
		done <- h.mgr.Preload(preloadCtx, 2, "")
	}()
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("Preload() never reached surface creation")
	}

	if !h.mgr.SetActiveTab(context.Background(), 2) {
		t.Fatal("SetActiveTab(2) = false; want true")
	}
	cancel()
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("activation load never started after the preload failed")
	}
	release()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Preload() did not return")
	}
	info, _ := h.mgr.Get(2)
	if !info.Active || info.State != tabs.Loaded {
		t.Fatalf("tab 2 = %+v; want active and loaded", info)
	}
	if s := h.factory.Latest(2); s == nil || !s.Attached() || s.HTML() != "b" {
		t.Fatal("active tab has no attached hydrated surface")
	}
	if live := h.factory.Live(); live != 1 {
		t.Fatalf("live surfaces = %d; want 1", live)
	}
}

func TestRestoreReassignsUnusableIDs(t *testing.T) {
	h := newHarness(t, tabs.Options{})
	n := h.mgr.Restore(context.Background(), []tabs.Seed{
		{ID: 1_000_000_000_000, Title: "huge", Content: "h"},
		{ID: 1, Title: "one", Content: "1", Active: true},
		{ID: 1, Title: "dup", Content: "d"},
	})
	if n != 3 {
		t.Fatalf("Restore() = %d; want 3", n)
	}
	st := h.mgr.Snapshot()
	got := []int{st.Tabs[0].ID, st.Tabs[1].ID, st.Tabs[2].ID}
	if want := []int{2, 1, 3}; !reflect.DeepEqual(got, want) {
		t.Fatalf("ids = %v; want %v (persisted ids kept, others reassigned)", got, want)
	}
	if want := []int{2, 3}; !reflect.DeepEqual(h.cache.deleted, want) {
		t.Fatalf("invalidated = %v; want %v", h.cache.deleted, want)
	}
}

func TestCommitCaptureRejectsRecycledID(t *testing.T) {
	h := newHarness(t, tabs.Options{})
	ctx := context.Background()
	h.create(t, "keep")
	old := h.create(t, "old", tabs.WithContent("old-doc"))

	content, incarnation, err := h.mgr.Capture(ctx, old.ID)
	if err != nil || content != "old-doc" {
		t.Fatalf("Capture() = %q, %v; want %q", content, err, "old-doc")
	}
	h.mgr.CloseTab(ctx, old.ID)
	fresh := h.create(t, "fresh", tabs.WithoutActivation())
	if fresh.ID != old.ID {
		t.Fatalf("fresh id = %d; want recycled %d", fresh.ID, old.ID)
	}

	ran, err := h.mgr.CommitCapture(old.ID, incarnation, func() error {
		t.Fatal("write ran for a recycled id")
		return nil
	})
	if ran || err != nil {
		t.Fatalf("CommitCapture() = %v, %v; want false, nil", ran, err)
	}

	_, current, _ := h.mgr.Capture(ctx, fresh.ID)
	ran, err = h.mgr.CommitCapture(fresh.ID, current, func() error { return nil })
	if !ran || err != nil {
		t.Fatalf("CommitCapture(current) = %v, %v; want true, nil", ran, err)
	}
}
