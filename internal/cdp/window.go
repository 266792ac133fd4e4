package cdp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	cdproto "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"

	"github.com/dgnsrekt/tabdesk/internal/tabs"
)

const defaultPollInterval = 500 * time.Millisecond

type probeFunc func(ctx context.Context) (tabs.Bounds, browser.WindowState, error)

// shellProbe reads the bounds of the window hosting the shell target.
func shellProbe(browserCtx context.Context) probeFunc {
	return func(ctx context.Context) (tabs.Bounds, browser.WindowState, error) {
		c := chromedp.FromContext(browserCtx)
		if c == nil || c.Target == nil || c.Browser == nil {
			return tabs.Bounds{}, "", fmt.Errorf("shell target not attached")
		}
		runCtx, cancel := context.WithCancel(browserCtx)
		defer cancel()
		stop := context.AfterFunc(ctx, cancel)
		defer stop()

		_, b, err := browser.GetWindowForTarget().
			WithTargetID(c.Target.TargetID).
			Do(cdproto.WithExecutor(runCtx, c.Browser))
		if err != nil {
			return tabs.Bounds{}, "", fmt.Errorf("get window bounds: %w", err)
		}
		return tabs.Bounds{Width: int(b.Width), Height: int(b.Height)}, b.WindowState, nil
	}
}

// Window polls the browser window and reports resize and fullscreen
// transitions to subscribers.
type Window struct {
	probe    probeFunc
	interval time.Duration

	mu     sync.Mutex
	bounds tabs.Bounds
	state  browser.WindowState
	nextID int
	subs   map[int]func(tabs.WindowEvent)

	cancel context.CancelFunc
	done   chan struct{}
}

func newWindow(probe probeFunc, interval time.Duration) *Window {
	return &Window{
		probe:    probe,
		interval: interval,
		subs:     make(map[int]func(tabs.WindowEvent)),
	}
}

// Start takes the initial reading and begins polling.
func (w *Window) Start(ctx context.Context) error {
	b, state, err := w.probe(ctx)
	if err != nil {
		return err
	}
	w.update(b, state)

	pollCtx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.poll(pollCtx)
	return nil
}

func (w *Window) poll(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b, state, err := w.probe(ctx)
			if err != nil {
				if ctx.Err() == nil {
					slog.Debug("window probe failed", "error", err)
				}
				continue
			}
			w.notify(w.update(b, state))
		}
	}
}

// update stores a reading and returns the transitions it implies.
func (w *Window) update(b tabs.Bounds, state browser.WindowState) []tabs.WindowEventKind {
	w.mu.Lock()
	defer w.mu.Unlock()

	var kinds []tabs.WindowEventKind
	wasFull := w.state == browser.WindowStateFullscreen
	isFull := state == browser.WindowStateFullscreen
	switch {
	case isFull && !wasFull:
		kinds = append(kinds, tabs.WindowEnterFullscreen)
	case wasFull && !isFull:
		kinds = append(kinds, tabs.WindowLeaveFullscreen)
	case b != w.bounds && w.bounds != (tabs.Bounds{}):
		kinds = append(kinds, tabs.WindowResized)
	}
	w.bounds = b
	w.state = state
	return kinds
}

func (w *Window) notify(kinds []tabs.WindowEventKind) {
	if len(kinds) == 0 {
		return
	}
	w.mu.Lock()
	fns := make([]func(tabs.WindowEvent), 0, len(w.subs))
	for _, fn := range w.subs {
		fns = append(fns, fn)
	}
	w.mu.Unlock()
	for _, kind := range kinds {
		slog.Debug("window event", "kind", kind.String())
		for _, fn := range fns {
			fn(tabs.WindowEvent{Kind: kind})
		}
	}
}

func (w *Window) ContentBounds() tabs.Bounds {
	w.mu.Lock()
	defer w.mu.Unlock()
	return tabs.Bounds{Width: w.bounds.Width, Height: w.bounds.Height}
}

func (w *Window) Subscribe(fn func(tabs.WindowEvent)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextID++
	id := w.nextID
	w.subs[id] = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			delete(w.subs, id)
			w.mu.Unlock()
		})
	}
}

// Close stops polling.
func (w *Window) Close() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
}
