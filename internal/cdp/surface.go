package cdp

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/dgnsrekt/tabdesk/internal/tabs"
)

const outerHTMLExpr = `document.documentElement ? document.documentElement.outerHTML : ""`

// Surface is one tab's page target. Attaching brings the target to the
// front; a detached target stays alive behind the attached one.
type Surface struct {
	id       int
	ctx      context.Context
	cancel   context.CancelFunc
	registry *TabRegistry

	mu       sync.Mutex
	attached bool
	gone     bool
}

// run executes actions on the target, bounded by both ctx and the target's
// lifetime.
func (s *Surface) run(ctx context.Context, actions ...chromedp.Action) error {
	s.mu.Lock()
	gone := s.gone
	s.mu.Unlock()
	if gone {
		return tabs.ErrSurfaceGone
	}

	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if s.ctx.Err() != nil {
			return tabs.ErrSurfaceGone
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (s *Surface) Load(ctx context.Context, html string) error {
	return s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		tree, err := page.GetFrameTree().Do(ctx)
		if err != nil {
			return err
		}
		return page.SetDocumentContent(tree.Frame.ID, html).Do(ctx)
	}))
}

func (s *Surface) Content(ctx context.Context) (string, error) {
	var out string
	if err := s.run(ctx, chromedp.Evaluate(outerHTMLExpr, &out)); err != nil {
		return "", err
	}
	return out, nil
}

func (s *Surface) Attach(ctx context.Context) error {
	if err := s.run(ctx, page.BringToFront()); err != nil {
		return err
	}
	s.mu.Lock()
	s.attached = true
	s.mu.Unlock()
	return nil
}

func (s *Surface) Detach(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gone {
		return tabs.ErrSurfaceGone
	}
	s.attached = false
	return nil
}

func (s *Surface) SetBounds(ctx context.Context, b tabs.Bounds) error {
	return s.run(ctx, emulation.SetDeviceMetricsOverride(int64(b.Width), int64(b.Height), 1, false))
}

// Destroy closes the page target. Later calls return tabs.ErrSurfaceGone.
func (s *Surface) Destroy(context.Context) error {
	s.mu.Lock()
	if s.gone {
		s.mu.Unlock()
		return tabs.ErrSurfaceGone
	}
	s.gone = true
	if s.attached {
		slog.Warn("destroying attached surface", "tab_id", s.id)
	}
	s.attached = false
	s.mu.Unlock()

	s.registry.Remove(s.id)
	defer s.cancel()

	// chromedp.Cancel closes the target it created.
	if err := chromedp.Cancel(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
