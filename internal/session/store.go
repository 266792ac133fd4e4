package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// FormatVersion is written into every record.
const FormatVersion = 1

const fileName = "session.json"

// ErrMalformed reports a session file that exists but cannot be parsed.
var ErrMalformed = errors.New("session: malformed record")

// Entry is one persisted tab.
type Entry struct {
	ID       int    `json:"id"`
	Title    string `json:"title"`
	URL      string `json:"url,omitempty"`
	Content  string `json:"content"`
	IsActive bool   `json:"isActive"`
}

// Record is the whole persisted session. It is always rewritten in full.
type Record struct {
	Version int       `json:"version"`
	SavedAt time.Time `json:"savedAt"`
	Tabs    []Entry   `json:"tabs"`
}

// Source describes a tab to be saved. Read resolves its current content;
// Fallback is persisted when Read fails or runs past the content timeout.
type Source struct {
	ID       int
	Title    string
	URL      string
	Active   bool
	Fallback string
	Read     func(ctx context.Context) (string, error)
}

// Options tune a Store.
type Options struct {
	// ContentTimeout bounds each Source.Read. Zero means no bound.
	ContentTimeout time.Duration
}

// Store persists the session record to a single JSON file.
type Store struct {
	path           string
	contentTimeout time.Duration
	now            func() time.Time

	mu sync.Mutex
}

// NewStore constructs a Store rooted at dir.
func NewStore(dir string, opts Options) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("session: directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("session: mkdir %s: %w", dir, err)
	}
	return &Store{
		path:           filepath.Join(dir, fileName),
		contentTimeout: opts.ContentTimeout,
		now:            time.Now,
	}, nil
}

// Path returns the location of the session file.
func (s *Store) Path() string { return s.path }

// Save resolves the content of every source concurrently and writes the
// resulting record. The set of tabs is fixed by sources; a tab closed while
// its content is being read is still saved with whatever was read.
func (s *Store) Save(ctx context.Context, sources []Source) (Record, error) {
	entries := make([]Entry, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		entries[i] = Entry{
			ID:       src.ID,
			Title:    src.Title,
			URL:      src.URL,
			IsActive: src.Active,
		}
		g.Go(func() error {
			entries[i].Content = s.resolve(gctx, src)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return Record{}, fmt.Errorf("session: save: %w", err)
	}

	rec := Record{
		Version: FormatVersion,
		SavedAt: s.now().UTC(),
		Tabs:    normalize(entries),
	}
	if err := s.Write(rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *Store) resolve(ctx context.Context, src Source) string {
	if src.Read == nil {
		return src.Fallback
	}
	readCtx := ctx
	if s.contentTimeout > 0 {
		var cancel context.CancelFunc
		readCtx, cancel = context.WithTimeout(ctx, s.contentTimeout)
		defer cancel()
	}

	type result struct {
		content string
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		content, err := src.Read(readCtx)
		ch <- result{content: content, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			slog.Warn("session content read failed, using last known content", "tab_id", src.ID, "error", r.err)
			return src.Fallback
		}
		return r.content
	case <-readCtx.Done():
		slog.Warn("session content read timed out, using last known content", "tab_id", src.ID, "timeout", s.contentTimeout)
		return src.Fallback
	}
}

// Write replaces the session file with rec.
func (s *Store) Write(rec Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("session: marshal: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("session: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "session-*.json")
	if err != nil {
		return fmt.Errorf("session: create temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("session: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("session: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("session: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("session: rename: %w", err)
	}
	slog.Debug("session saved", "path", s.path, "tabs", len(rec.Tabs))
	return nil
}

// Load reads the persisted tabs. A missing file yields no tabs and no error.
// A malformed file yields no tabs and an error wrapping ErrMalformed so the
// caller can start with a clean session.
func (s *Store) Load() ([]Entry, error) {
	s.mu.Lock()
	data, err := os.ReadFile(s.path)
	s.mu.Unlock()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Debug("session load miss", "path", s.path)
			return nil, nil
		}
		return nil, fmt.Errorf("session: read: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		slog.Error("session file is malformed", "path", s.path, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if rec.Version > FormatVersion {
		slog.Warn("session file written by a newer version", "path", s.path, "version", rec.Version)
	}
	tabs := normalize(rec.Tabs)
	slog.Debug("session load ok", "path", s.path, "tabs", len(tabs))
	return tabs, nil
}

// Clear deletes the session file. A missing file is success.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("session: clear: %w", err)
	}
	return nil
}

// normalize enforces at most one active entry; with none marked, the first
// entry becomes active.
func normalize(entries []Entry) []Entry {
	if len(entries) == 0 {
		return []Entry{}
	}
	out := make([]Entry, len(entries))
	copy(out, entries)
	found := false
	for i := range out {
		if out[i].IsActive && !found {
			found = true
			continue
		}
		out[i].IsActive = false
	}
	if !found {
		out[0].IsActive = true
	}
	return out
}
