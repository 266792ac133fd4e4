// Package storage keeps an append-only JSONL journal of tab events for
// diagnostics.
package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/tabdesk/internal/tabs"
)

const defaultJournalBuffer = 256

// JournalRecord is one line of the journal.
type JournalRecord struct {
	Time  time.Time `json:"time"`
	Kind  string    `json:"kind"`
	TabID int       `json:"tabId,omitempty"`
	From  int       `json:"from,omitempty"`
	To    int       `json:"to,omitempty"`
}

// Journal writes tab events asynchronously. Record never blocks the
// caller; records are dropped when the buffer is full.
type Journal struct {
	path    string
	writeCh chan JournalRecord
	done    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Int64

	closeOnce sync.Once
	mu        sync.Mutex
	logger    *lumberjack.Logger
}

func NewJournal(path string, maxSizeMB int) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("journal: create dir: %w", err)
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	j := &Journal{
		path:    path,
		writeCh: make(chan JournalRecord, defaultJournalBuffer),
		done:    make(chan struct{}),
		logger: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSizeMB,
			MaxBackups: 5,
			MaxAge:     30,
		},
	}
	j.wg.Add(1)
	go j.writeLoop()
	return j, nil
}

func (j *Journal) Path() string { return j.path }

// Dropped reports how many records were discarded because the buffer was
// full or the journal was closed.
func (j *Journal) Dropped() int64 { return j.dropped.Load() }

// Record queues a manager event. It matches the tabs.Manager subscriber
// signature.
func (j *Journal) Record(evt tabs.Event) {
	rec := JournalRecord{Time: time.Now().UTC(), Kind: evt.Kind.String(), TabID: evt.TabID}
	if evt.Kind == tabs.EventReordered {
		rec.From, rec.To = evt.From, evt.To
	}
	select {
	case <-j.done:
		j.dropped.Add(1)
		return
	default:
	}
	select {
	case j.writeCh <- rec:
	default:
		j.dropped.Add(1)
		slog.Warn("journal buffer full, dropping record", "kind", rec.Kind)
	}
}

// Close flushes queued records and closes the file.
func (j *Journal) Close() error {
	var err error
	j.closeOnce.Do(func() {
		close(j.done)
		j.wg.Wait()

		j.mu.Lock()
		defer j.mu.Unlock()
		err = j.logger.Close()
	})
	return err
}

func (j *Journal) writeLoop() {
	defer j.wg.Done()
	for {
		select {
		case rec := <-j.writeCh:
			j.write(rec)
		case <-j.done:
			for {
				select {
				case rec := <-j.writeCh:
					j.write(rec)
				default:
					return
				}
			}
		}
	}
}

func (j *Journal) write(rec JournalRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		slog.Error("journal marshal failed", "error", err)
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := j.logger.Write(append(data, '\n')); err != nil {
		slog.Error("journal write failed", "error", err, "path", j.path)
	}
}
