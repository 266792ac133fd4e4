package controller

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgnsrekt/tabdesk/internal/config"
	"github.com/dgnsrekt/tabdesk/internal/idalloc"
	"github.com/dgnsrekt/tabdesk/internal/session"
	"github.com/dgnsrekt/tabdesk/internal/snapshot"
	"github.com/dgnsrekt/tabdesk/internal/syncer"
	"github.com/dgnsrekt/tabdesk/internal/tabs"
	"github.com/dgnsrekt/tabdesk/internal/tabs/tabstest"
)

type fakeSaver struct {
	calls atomic.Int32
	err   error
}

func (f *fakeSaver) SaveNow(context.Context) error {
	f.calls.Add(1)
	return f.err
}

type harness struct {
	svc      *Service
	mgr      *tabs.Manager
	saver    *fakeSaver
	sessions *session.Store
	quits    *atomic.Int32
}

func newHarness(t *testing.T, opts tabs.Options) *harness {
	t.Helper()
	cache, err := snapshot.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("snapshot.NewStore() failed: %v", err)
	}
	sessions, err := session.NewStore(t.TempDir(), session.Options{})
	if err != nil {
		t.Fatalf("session.NewStore() failed: %v", err)
	}
	h := &harness{
		mgr:      tabs.NewManager(idalloc.New(), tabstest.NewFactory(), tabstest.NewWindow(800, 600), opts),
		saver:    &fakeSaver{},
		sessions: sessions,
		quits:    &atomic.Int32{},
	}
	h.svc = NewService(Deps{
		Tabs:     h.mgr,
		Saver:    h.saver,
		Sessions: sessions,
		Cache:    cache,
		Quit:     func() { h.quits.Add(1) },
	})
	return h
}

func (h *harness) titles() []string {
	var out []string
	for _, info := range h.mgr.Snapshot().Tabs {
		out = append(out, info.Title)
	}
	return out
}

func (h *harness) activeTitle() string {
	st := h.mgr.Snapshot()
	if st.ActiveIndex < 0 {
		return ""
	}
	return st.Tabs[st.ActiveIndex].Title
}

func intp(i int) *int { return &i }

func codeOf(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}

func TestRequireNonEmpty(t *testing.T) {
	s := &Service{}
	if err := s.requireNonEmpty("A", "title"); err != nil {
		t.Fatalf("requireNonEmpty() = %v; want nil", err)
	}

	if err := s.requireNonEmpty("   ", "title"); err == nil {
		t.Fatalf("requireNonEmpty() = nil; want validation error")
	} else if got, ok := err.(*CodedError); !ok {
		t.Fatalf("requireNonEmpty() = %T; want *CodedError", err)
	} else if got.Code != CodeValidation {
		t.Fatalf("requireNonEmpty() code = %q; want %q", got.Code, CodeValidation)
	} else if got.Message != "title is required" {
		t.Fatalf("requireNonEmpty() message = %q; want %q", got.Message, "title is required")
	}
}

func TestNewTab_DefaultTitleAndLimit(t *testing.T) {
	h := newHarness(t, tabs.Options{MaxTabs: 2})
	ctx := context.Background()

	info, err := h.svc.NewTab(ctx, NewTabOptions{Title: "  "})
	if err != nil {
		t.Fatalf("NewTab() error = %v", err)
	}
	if info.Title != defaultTitle || !info.Active {
		t.Fatalf("NewTab() = %+v; want active %q", info, defaultTitle)
	}
	if _, err := h.svc.NewTab(ctx, NewTabOptions{Title: "B", Inactive: true}); err != nil {
		t.Fatalf("NewTab(B) error = %v", err)
	}
	if h.activeTitle() != defaultTitle {
		t.Fatalf("active = %q; inactive create must not switch", h.activeTitle())
	}

	_, err = h.svc.NewTab(ctx, NewTabOptions{Title: "C"})
	if codeOf(err) != CodeTabLimit {
		t.Fatalf("NewTab() past cap error = %v; want %s", err, CodeTabLimit)
	}
}

func TestNewTab_AfterDestroyIsShuttingDown(t *testing.T) {
	h := newHarness(t, tabs.Options{})
	h.mgr.Destroy(context.Background())
	_, err := h.svc.NewTab(context.Background(), NewTabOptions{Title: "A"})
	if codeOf(err) != CodeShuttingDown {
		t.Fatalf("NewTab() after Destroy error = %v; want %s", err, CodeShuttingDown)
	}
}

func TestGetTab_NotFound(t *testing.T) {
	h := newHarness(t, tabs.Options{})
	if _, err := h.svc.GetTab(42); codeOf(err) != CodeTabNotFound {
		t.Fatalf("GetTab(42) error = %v; want %s", err, CodeTabNotFound)
	}
}

func TestNavigationWraps(t *testing.T) {
	h := newHarness(t, tabs.Options{})
	ctx := context.Background()
	for _, title := range []string{"A", "B", "C"} {
		if _, err := h.svc.NewTab(ctx, NewTabOptions{Title: title}); err != nil {
			t.Fatalf("NewTab(%s) error = %v", title, err)
		}
	}

	steps := []struct {
		name string
		do   func() bool
		want string
	}{
		{"next from last wraps", func() bool { return h.svc.NextTab(ctx) }, "A"},
		{"prev from first wraps", func() bool { return h.svc.PrevTab(ctx) }, "C"},
		{"first", func() bool { return h.svc.FirstTab(ctx) }, "A"},
		{"next", func() bool { return h.svc.NextTab(ctx) }, "B"},
		{"last", func() bool { return h.svc.LastTab(ctx) }, "C"},
	}
	for _, step := range steps {
		if !step.do() {
			t.Fatalf("%s: applied = false; want true", step.name)
		}
		if got := h.activeTitle(); got != step.want {
			t.Fatalf("%s: active = %q; want %q", step.name, got, step.want)
		}
	}
}

func TestNavigationSingleTabIsNoop(t *testing.T) {
	h := newHarness(t, tabs.Options{})
	ctx := context.Background()
	if h.svc.NextTab(ctx) || h.svc.PrevTab(ctx) {
		t.Fatal("navigation on empty collection applied")
	}
	_, _ = h.svc.NewTab(ctx, NewTabOptions{Title: "A"})
	if h.svc.NextTab(ctx) {
		t.Fatal("NextTab() with one tab applied")
	}
}

func TestDispatch(t *testing.T) {
	h := newHarness(t, tabs.Options{})
	ctx := context.Background()

	for _, title := range []string{"A", "B", "C"} {
		res, err := h.svc.Dispatch(ctx, Intent{Name: IntentNewTab, Title: title})
		if err != nil || !res.Applied || res.Tab == nil || res.Tab.Title != title {
			t.Fatalf("Dispatch(new-tab %s) = %+v, %v", title, res, err)
		}
	}

	if res, err := h.svc.Dispatch(ctx, Intent{Name: IntentReorderTabs, From: intp(0), To: intp(2)}); err != nil || !res.Applied {
		t.Fatalf("Dispatch(reorder) = %+v, %v", res, err)
	}
	if got := h.titles(); len(got) != 3 || got[0] != "B" || got[1] != "C" || got[2] != "A" {
		t.Fatalf("titles = %v; want [B C A]", got)
	}

	if res, _ := h.svc.Dispatch(ctx, Intent{Name: IntentSwitchTab, Index: intp(9)}); res.Applied {
		t.Fatal("Dispatch(switch-tab 9) applied; want no-op")
	}
	if _, err := h.svc.Dispatch(ctx, Intent{Name: IntentSwitchTab}); codeOf(err) != CodeValidation {
		t.Fatalf("Dispatch(switch-tab no index) error = %v; want validation", err)
	}

	if res, err := h.svc.Dispatch(ctx, Intent{Name: IntentRenameTab, Index: intp(0), Title: "Bee"}); err != nil || !res.Applied {
		t.Fatalf("Dispatch(rename-tab) = %+v, %v", res, err)
	}
	if _, err := h.svc.Dispatch(ctx, Intent{Name: IntentRenameTab, Index: intp(0)}); codeOf(err) != CodeValidation {
		t.Fatalf("Dispatch(rename-tab no title) error = %v; want validation", err)
	}

	// C is active; closing without an index closes it and activates the
	// right neighbour.
	if res, err := h.svc.Dispatch(ctx, Intent{Name: IntentCloseTab}); err != nil || !res.Applied {
		t.Fatalf("Dispatch(close-tab) = %+v, %v", res, err)
	}
	if got := h.titles(); len(got) != 2 || got[0] != "Bee" || got[1] != "A" {
		t.Fatalf("titles after close = %v; want [Bee A]", got)
	}
	if h.activeTitle() != "A" {
		t.Fatalf("active after close = %q; want A", h.activeTitle())
	}

	if _, err := h.svc.Dispatch(ctx, Intent{Name: "fly-away"}); codeOf(err) != CodeValidation {
		t.Fatalf("Dispatch(unknown) error = %v; want validation", err)
	}
}

func TestShortcutUsesKeymap(t *testing.T) {
	h := newHarness(t, tabs.Options{})
	ctx := context.Background()

	if _, err := h.svc.Shortcut(ctx, "Ctrl+T"); err != nil {
		t.Fatalf("Shortcut(Ctrl+T) error = %v", err)
	}
	if _, err := h.svc.Shortcut(ctx, "cmd+t"); err != nil {
		t.Fatalf("Shortcut(cmd+t) error = %v", err)
	}
	if n := h.mgr.Len(); n != 2 {
		t.Fatalf("tabs = %d; want 2", n)
	}

	res, err := h.svc.Shortcut(ctx, "CmdOrCtrl+1")
	if err != nil || !res.Applied || res.Intent != IntentFirstTab {
		t.Fatalf("Shortcut(CmdOrCtrl+1) = %+v, %v", res, err)
	}
	res, err = h.svc.Shortcut(ctx, "CmdOrCtrl+2")
	if err != nil || !res.Applied || res.Intent != IntentSwitchTab {
		t.Fatalf("Shortcut(CmdOrCtrl+2) = %+v, %v", res, err)
	}
	if st := h.mgr.Snapshot(); st.ActiveIndex != 1 {
		t.Fatalf("active index = %d; want 1", st.ActiveIndex)
	}

	res, err = h.svc.Shortcut(ctx, "Ctrl+Alt+Z")
	if err != nil || res.Applied {
		t.Fatalf("Shortcut(unbound) = %+v, %v; want no-op", res, err)
	}

	res, err = h.svc.Shortcut(ctx, "Ctrl+S")
	if err != nil || res.Save == nil || !res.Save.Success {
		t.Fatalf("Shortcut(Ctrl+S) = %+v, %v", res, err)
	}
	if h.saver.calls.Load() != 1 {
		t.Fatalf("saves = %d; want 1", h.saver.calls.Load())
	}
}

func TestCloseAppCallsQuitOnce(t *testing.T) {
	h := newHarness(t, tabs.Options{})
	if !h.svc.CloseApp() {
		t.Fatal("CloseApp() = false; want true")
	}
	if h.svc.CloseApp() {
		t.Fatal("second CloseApp() = true; want false")
	}
	deadline := time.Now().Add(time.Second)
	for h.quits.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := h.quits.Load(); n != 1 {
		t.Fatalf("quit calls = %d; want 1", n)
	}
}

func TestSaveTabsReportsFailure(t *testing.T) {
	h := newHarness(t, tabs.Options{})
	h.saver.err = errors.New("disk full")
	if got := h.svc.SaveTabs(context.Background()); got.Success || got.Error != "disk full" {
		t.Fatalf("SaveTabs() = %+v; want failure", got)
	}
	h.saver.err = syncer.ErrShuttingDown
	if got := h.svc.SaveTabs(context.Background()); got.Success || got.Error != "shutting down" {
		t.Fatalf("SaveTabs() = %+v; want shutting down", got)
	}
}

func TestLoadTabsDegradesToEmpty(t *testing.T) {
	h := newHarness(t, tabs.Options{})

	got := h.svc.LoadTabs()
	if !got.Success || got.Tabs == nil || len(got.Tabs) != 0 || got.Error != "" {
		t.Fatalf("LoadTabs() with no file = %+v; want empty success", got)
	}

	if err := os.WriteFile(h.sessions.Path(), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	got = h.svc.LoadTabs()
	if !got.Success || len(got.Tabs) != 0 || got.Error == "" {
		t.Fatalf("LoadTabs() malformed = %+v; want empty success with error", got)
	}

	if got := h.svc.ClearTabs(); !got.Success {
		t.Fatalf("ClearTabs() = %+v; want success", got)
	}
	if got := h.svc.StoragePath(); !got.Success || filepath.Base(got.Path) != filepath.Base(h.sessions.Path()) {
		t.Fatalf("StoragePath() = %+v", got)
	}
}

func TestCacheStats(t *testing.T) {
	cache, err := snapshot.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("snapshot.NewStore() failed: %v", err)
	}
	if err := cache.Put(1, []byte("12345")); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	svc := NewService(Deps{Cache: cache})
	got, err := svc.CacheStats()
	if err != nil || got.Bytes != 5 || got.Dir != cache.Dir() {
		t.Fatalf("CacheStats() = %+v, %v; want 5 bytes", got, err)
	}
}

func TestHandleMessage(t *testing.T) {
	h := newHarness(t, tabs.Options{})
	ctx := context.Background()

	decode := func(t *testing.T, raw []byte) intentReply {
		t.Helper()
		var r intentReply
		if err := json.Unmarshal(raw, &r); err != nil {
			t.Fatalf("reply %s is not JSON: %v", raw, err)
		}
		return r
	}

	raw, err := h.svc.HandleMessage(ctx, []byte(`{"id":"r1","intent":"new-tab","title":"Notes"}`))
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	r := decode(t, raw)
	if r.Type != "intent-result" || r.ID != "r1" || !r.OK || r.Result == nil || r.Result.Tab.Title != "Notes" {
		t.Fatalf("reply = %s", raw)
	}

	raw, _ = h.svc.HandleMessage(ctx, []byte(`{"id":"r2","intent":"switch-tab"}`))
	if r := decode(t, raw); r.OK || r.Code != CodeValidation || r.ID != "r2" {
		t.Fatalf("reply = %s; want validation failure", raw)
	}

	raw, _ = h.svc.HandleMessage(ctx, []byte(`nope`))
	if r := decode(t, raw); r.OK || r.Code != CodeValidation {
		t.Fatalf("reply = %s; want validation failure", raw)
	}
}

func TestNewServiceDefaultsKeymap(t *testing.T) {
	svc := NewService(Deps{})
	if _, ok := svc.keymap.Lookup("CmdOrCtrl+Q"); !ok {
		t.Fatal("default keymap missing close-app binding")
	}
	custom := &config.Keymap{}
	if NewService(Deps{Keymap: custom}).keymap != custom {
		t.Fatal("custom keymap not used")
	}
}
