package snapshot

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

const (
	entryExt  = ".html"
	tmpPrefix = ".snap-"
)

// Store is a disk cache of rendered tab content, one file per tab id.
// It knows nothing about what a tab contains, only its id; callers must
// Delete an entry before its id is handed to a different document.
type Store struct {
	dir string
	mu  sync.RWMutex
}

// NewStore creates a Store and ensures the directory exists.
func NewStore(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("snapshot store: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot store: mkdir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the cache directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) pathFor(id int) string {
	return filepath.Join(s.dir, strconv.Itoa(id)+entryExt)
}

// Put replaces the cached content for id.
func (s *Store) Put(id int, html []byte) error {
	if id < 1 {
		return fmt.Errorf("invalid tab id: %d", id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, tmpPrefix+"*")
	if err != nil {
		return fmt.Errorf("snapshot store: create temp: %w", err)
	}
	if _, err := tmp.Write(html); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("snapshot store: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("snapshot store: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.pathFor(id)); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("snapshot store: rename: %w", err)
	}
	slog.Debug("snapshot cached", "tab_id", id, "bytes", len(html))
	return nil
}

// Get returns the cached content for id, or nil on a miss. Read failures are
// logged and reported as a miss.
func (s *Store) Get(id int) []byte {
	if id < 1 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.pathFor(id))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("snapshot read failed", "tab_id", id, "error", err)
		}
		return nil
	}
	return data
}

// Delete removes the entry for id. A missing entry is not an error.
func (s *Store) Delete(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.pathFor(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("snapshot store: delete %d: %w", id, err)
	}
	return nil
}

// Evict deletes every entry whose id is not in keep, along with temp files
// left behind by interrupted writes. It returns the number of entries removed.
func (s *Store) Evict(keep map[int]struct{}) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("snapshot store: read dir: %w", err)
	}

	removed := 0
	var firstErr error
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, tmpPrefix) {
			if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
				slog.Debug("snapshot temp cleanup failed", "file", name, "error", err)
			}
			continue
		}
		id, ok := parseEntryName(name)
		if !ok {
			continue
		}
		if _, live := keep[id]; live {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			slog.Warn("snapshot evict failed", "tab_id", id, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		removed++
	}
	slog.Debug("snapshot cache evicted", "removed", removed, "kept", len(keep))
	return removed, firstErr
}

// SizeOnDisk sums the size of all cache entries.
func (s *Store) SizeOnDisk() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("snapshot store: read dir: %w", err)
	}
	var total int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := parseEntryName(e.Name()); !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total, nil
}

func parseEntryName(name string) (int, bool) {
	base, found := strings.CutSuffix(name, entryExt)
	if !found {
		return 0, false
	}
	id, err := strconv.Atoi(base)
	if err != nil || id < 1 {
		return 0, false
	}
	return id, true
}
