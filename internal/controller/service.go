package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dgnsrekt/tabdesk/internal/config"
	"github.com/dgnsrekt/tabdesk/internal/session"
	"github.com/dgnsrekt/tabdesk/internal/syncer"
	"github.com/dgnsrekt/tabdesk/internal/tabs"
)

const defaultTitle = "Untitled"

// TabManager is the part of *tabs.Manager intents drive.
type TabManager interface {
	CreateTab(ctx context.Context, title string, opts ...tabs.CreateOption) (tabs.Info, bool)
	SetActiveTab(ctx context.Context, id int) bool
	SetActiveIndex(ctx context.Context, index int) bool
	ReorderTabs(from, to int) bool
	CloseTab(ctx context.Context, id int) bool
	CloseTabByIndex(ctx context.Context, index int) bool
	Rename(id int, title string) bool
	Snapshot() tabs.State
	ActiveID() (int, bool)
	Get(id int) (tabs.Info, bool)
	Destroyed() bool
}

// Saver runs a must-run save. *syncer.Coordinator satisfies it.
type Saver interface {
	SaveNow(ctx context.Context) error
}

// SessionStore is the read side of *session.Store.
type SessionStore interface {
	Load() ([]session.Entry, error)
	Clear() error
	Path() string
}

// CacheInfo reports snapshot cache usage. *snapshot.Store satisfies it.
type CacheInfo interface {
	Dir() string
	SizeOnDisk() (int64, error)
}

type Deps struct {
	Tabs     TabManager
	Saver    Saver
	Sessions SessionStore
	Cache    CacheInfo
	Keymap   *config.Keymap
	// Quit starts the shutdown handshake. It is called at most once.
	Quit func()
}

// Service turns intents and persistence requests into tab manager calls.
type Service struct {
	tabs     TabManager
	saver    Saver
	sessions SessionStore
	cache    CacheInfo
	keymap   *config.Keymap

	quitOnce sync.Once
	quit     func()
}

func NewService(deps Deps) *Service {
	keymap := deps.Keymap
	if keymap == nil {
		keymap = config.DefaultKeymap()
	}
	return &Service{
		tabs:     deps.Tabs,
		saver:    deps.Saver,
		sessions: deps.Sessions,
		cache:    deps.Cache,
		keymap:   keymap,
		quit:     deps.Quit,
	}
}

func (s *Service) requireNonEmpty(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return &CodedError{Code: CodeValidation, Message: fieldName + " is required"}
	}
	return nil
}

func (s *Service) ListTabs() tabs.State {
	return s.tabs.Snapshot()
}

func (s *Service) GetTab(id int) (tabs.Info, error) {
	info, ok := s.tabs.Get(id)
	if !ok {
		return tabs.Info{}, newError(CodeTabNotFound, fmt.Sprintf("tab %d not found", id), nil)
	}
	return info, nil
}

type NewTabOptions struct {
	Title    string
	URL      string
	Content  string
	Inactive bool
}

// NewTab creates a tab. Reaching the tab cap is reported as TAB_LIMIT so
// the caller can tell the user.
func (s *Service) NewTab(ctx context.Context, opts NewTabOptions) (tabs.Info, error) {
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		title = defaultTitle
	}
	var createOpts []tabs.CreateOption
	if opts.Inactive {
		createOpts = append(createOpts, tabs.WithoutActivation())
	}
	if opts.Content != "" {
		createOpts = append(createOpts, tabs.WithContent(opts.Content))
	}
	if u := strings.TrimSpace(opts.URL); u != "" {
		createOpts = append(createOpts, tabs.WithURL(u))
	}

	info, ok := s.tabs.CreateTab(ctx, title, createOpts...)
	if !ok {
		if s.tabs.Destroyed() {
			return tabs.Info{}, newError(CodeShuttingDown, "tab manager is shutting down", nil)
		}
		return tabs.Info{}, newError(CodeTabLimit, "maximum number of tabs reached", nil)
	}
	return info, nil
}

func (s *Service) SwitchTab(ctx context.Context, index int) bool {
	return s.tabs.SetActiveIndex(ctx, index)
}

func (s *Service) ActivateTab(ctx context.Context, id int) bool {
	return s.tabs.SetActiveTab(ctx, id)
}

func (s *Service) CloseTab(ctx context.Context, index int) bool {
	return s.tabs.CloseTabByIndex(ctx, index)
}

func (s *Service) CloseTabByID(ctx context.Context, id int) bool {
	return s.tabs.CloseTab(ctx, id)
}

// CloseActiveTab closes whichever tab is active.
func (s *Service) CloseActiveTab(ctx context.Context) bool {
	id, ok := s.tabs.ActiveID()
	if !ok {
		return false
	}
	return s.tabs.CloseTab(ctx, id)
}

func (s *Service) ReorderTabs(from, to int) bool {
	return s.tabs.ReorderTabs(from, to)
}

func (s *Service) RenameTab(index int, title string) (bool, error) {
	if err := s.requireNonEmpty(title, "title"); err != nil {
		return false, err
	}
	st := s.tabs.Snapshot()
	if index < 0 || index >= len(st.Tabs) {
		return false, nil
	}
	return s.tabs.Rename(st.Tabs[index].ID, strings.TrimSpace(title)), nil
}

// step activates the tab delta positions from the active one, wrapping at
// both ends.
func (s *Service) step(ctx context.Context, delta int) bool {
	st := s.tabs.Snapshot()
	n := len(st.Tabs)
	if n < 2 || st.ActiveIndex < 0 {
		return false
	}
	next := ((st.ActiveIndex+delta)%n + n) % n
	return s.tabs.SetActiveIndex(ctx, next)
}

func (s *Service) NextTab(ctx context.Context) bool { return s.step(ctx, 1) }

func (s *Service) PrevTab(ctx context.Context) bool { return s.step(ctx, -1) }

func (s *Service) FirstTab(ctx context.Context) bool {
	return s.tabs.SetActiveIndex(ctx, 0)
}

func (s *Service) LastTab(ctx context.Context) bool {
	return s.tabs.SetActiveIndex(ctx, len(s.tabs.Snapshot().Tabs)-1)
}

// CloseApp starts the shutdown handshake. Repeated calls are ignored.
func (s *Service) CloseApp() bool {
	if s.quit == nil {
		return false
	}
	started := false
	s.quitOnce.Do(func() {
		slog.Info("close-app requested")
		started = true
		go s.quit()
	})
	return started
}

type SaveResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type LoadResult struct {
	Success bool            `json:"success"`
	Tabs    []session.Entry `json:"tabs"`
	Error   string          `json:"error,omitempty"`
}

type PathResult struct {
	Success bool   `json:"success"`
	Path    string `json:"path"`
}

// SaveTabs runs a manual save. Failures are reported in the result, never
// returned as errors.
func (s *Service) SaveTabs(ctx context.Context) SaveResult {
	if err := s.saver.SaveNow(ctx); err != nil {
		if errors.Is(err, syncer.ErrShuttingDown) {
			return SaveResult{Error: "shutting down"}
		}
		return SaveResult{Error: err.Error()}
	}
	return SaveResult{Success: true}
}

// LoadTabs reads the persisted session. A missing file is an empty
// session; a malformed one is reported in Error and still yields an empty
// list.
func (s *Service) LoadTabs() LoadResult {
	entries, err := s.sessions.Load()
	if entries == nil {
		entries = []session.Entry{}
	}
	if err != nil {
		slog.Warn("load-tabs degraded to empty session", "error", err)
		return LoadResult{Success: true, Tabs: entries, Error: err.Error()}
	}
	return LoadResult{Success: true, Tabs: entries}
}

// ClearTabs deletes the persisted session. Failures are logged and
// reported in Error but the request still succeeds.
func (s *Service) ClearTabs() SaveResult {
	if err := s.sessions.Clear(); err != nil {
		slog.Warn("clear-tabs failed", "error", err)
		return SaveResult{Success: true, Error: err.Error()}
	}
	return SaveResult{Success: true}
}

func (s *Service) StoragePath() PathResult {
	return PathResult{Success: true, Path: s.sessions.Path()}
}

type CacheStats struct {
	Dir   string `json:"dir"`
	Bytes int64  `json:"bytes"`
}

func (s *Service) CacheStats() (CacheStats, error) {
	size, err := s.cache.SizeOnDisk()
	if err != nil {
		return CacheStats{}, newError(CodeStorage, "snapshot cache size unavailable", err)
	}
	return CacheStats{Dir: s.cache.Dir(), Bytes: size}, nil
}
