// Package tabstest provides in-memory surfaces and windows for exercising
// tabs.Manager without a browser.
package tabstest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dgnsrekt/tabdesk/internal/tabs"
)

// Journal records surface calls across every surface of a factory, in order.
type Journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *Journal) add(format string, args ...any) {
	j.mu.Lock()
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
	j.mu.Unlock()
}

func (j *Journal) Entries() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

type Surface struct {
	ID      int
	journal *Journal

	mu        sync.Mutex
	html      string
	attached  bool
	destroyed bool
	bounds    []tabs.Bounds
	loadErr   error

	contentGate    chan struct{}
	contentEntered chan struct{}
}

func (s *Surface) Load(_ context.Context, html string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return tabs.ErrSurfaceGone
	}
	if s.loadErr != nil {
		return s.loadErr
	}
	s.html = html
	s.journal.add("load %d", s.ID)
	return nil
}

func (s *Surface) Content(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return "", tabs.ErrSurfaceGone
	}
	html := s.html
	gate, entered := s.contentGate, s.contentEntered
	s.mu.Unlock()

	if gate != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return html, nil
}

// HoldContent makes Content block after it has read the document, the way a
// slow renderer round trip does. The read value is returned once release is
// called, even if the surface was destroyed meanwhile.
func (s *Surface) HoldContent() (entered <-chan struct{}, release func()) {
	gate := make(chan struct{})
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.contentGate = gate
	s.contentEntered = ch
	s.mu.Unlock()
	var once sync.Once
	return ch, func() { once.Do(func() { close(gate) }) }
}

// SetContent simulates the user editing the document.
func (s *Surface) SetContent(html string) {
	s.mu.Lock()
	s.html = html
	s.mu.Unlock()
}

func (s *Surface) Attach(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return tabs.ErrSurfaceGone
	}
	s.attached = true
	s.journal.add("attach %d", s.ID)
	return nil
}

func (s *Surface) Detach(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return tabs.ErrSurfaceGone
	}
	s.attached = false
	s.journal.add("detach %d", s.ID)
	return nil
}

func (s *Surface) SetBounds(_ context.Context, b tabs.Bounds) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return tabs.ErrSurfaceGone
	}
	s.bounds = append(s.bounds, b)
	return nil
}

func (s *Surface) Destroy(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return tabs.ErrSurfaceGone
	}
	if s.attached {
		s.journal.add("destroy-attached %d", s.ID)
	}
	s.destroyed = true
	s.journal.add("destroy %d", s.ID)
	return nil
}

func (s *Surface) HTML() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.html
}

func (s *Surface) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached
}

func (s *Surface) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

// LastBounds returns the most recent bounds, or false if none were set.
func (s *Surface) LastBounds() (tabs.Bounds, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.bounds) == 0 {
		return tabs.Bounds{}, false
	}
	return s.bounds[len(s.bounds)-1], true
}

// Factory creates fake surfaces. Hold blocks surface creation until the
// returned release function is called.
type Factory struct {
	Journal Journal
	// LoadErr makes every new surface fail to hydrate.
	LoadErr error

	mu      sync.Mutex
	created []*Surface
	gate    chan struct{}
	entered chan int
}

func NewFactory() *Factory {
	return &Factory{}
}

var errFactoryCanceled = errors.New("tabstest: surface creation canceled")

func (f *Factory) NewSurface(ctx context.Context, id int) (tabs.Surface, error) {
	f.mu.Lock()
	gate, entered := f.gate, f.entered
	f.mu.Unlock()
	if gate != nil {
		entered <- id
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, errFactoryCanceled
		}
	}

	s := &Surface{ID: id, journal: &f.Journal, loadErr: f.LoadErr}
	f.mu.Lock()
	f.created = append(f.created, s)
	f.mu.Unlock()
	f.Journal.add("create %d", id)
	return s, nil
}

// Hold makes NewSurface block. Each blocked call sends its tab id on the
// returned channel before waiting.
func (f *Factory) Hold() (entered <-chan int, release func()) {
	gate := make(chan struct{})
	ch := make(chan int, 16)
	f.mu.Lock()
	f.gate = gate
	f.entered = ch
	f.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			f.gate = nil
			f.entered = nil
			f.mu.Unlock()
			close(gate)
		})
	}
}

func (f *Factory) Created() []*Surface {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Surface(nil), f.created...)
}

// Latest returns the most recently created surface for id.
func (f *Factory) Latest(id int) *Surface {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.created) - 1; i >= 0; i-- {
		if f.created[i].ID == id {
			return f.created[i]
		}
	}
	return nil
}

// Live counts surfaces that have not been destroyed.
func (f *Factory) Live() int {
	n := 0
	for _, s := range f.Created() {
		if !s.Destroyed() {
			n++
		}
	}
	return n
}

type Window struct {
	mu     sync.Mutex
	bounds tabs.Bounds
	nextID int
	subs   map[int]func(tabs.WindowEvent)
}

func NewWindow(width, height int) *Window {
	return &Window{
		bounds: tabs.Bounds{Width: width, Height: height},
		subs:   make(map[int]func(tabs.WindowEvent)),
	}
}

func (w *Window) ContentBounds() tabs.Bounds {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.bounds
}

func (w *Window) Subscribe(fn func(tabs.WindowEvent)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextID++
	id := w.nextID
	w.subs[id] = fn
	return func() {
		w.mu.Lock()
		delete(w.subs, id)
		w.mu.Unlock()
	}
}

func (w *Window) Subscribers() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.subs)
}

// Resize changes the content bounds and notifies subscribers.
func (w *Window) Resize(width, height int) {
	w.mu.Lock()
	w.bounds.Width = width
	w.bounds.Height = height
	w.mu.Unlock()
	w.Emit(tabs.WindowResized)
}

func (w *Window) Emit(kind tabs.WindowEventKind) {
	w.mu.Lock()
	fns := make([]func(tabs.WindowEvent), 0, len(w.subs))
	for _, fn := range w.subs {
		fns = append(fns, fn)
	}
	w.mu.Unlock()
	for _, fn := range fns {
		fn(tabs.WindowEvent{Kind: kind})
	}
}

// Recorder collects manager events.
type Recorder struct {
	mu     sync.Mutex
	events []tabs.Event
}

func (r *Recorder) Record(evt tabs.Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

func (r *Recorder) Events() []tabs.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]tabs.Event(nil), r.events...)
}

func (r *Recorder) Kinds() []tabs.EventKind {
	var out []tabs.EventKind
	for _, evt := range r.Events() {
		out = append(out, evt.Kind)
	}
	return out
}
