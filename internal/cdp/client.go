// Package cdp renders tab surfaces as Chromium page targets driven over the
// DevTools protocol.
package cdp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chromedp/chromedp"

	"github.com/dgnsrekt/tabdesk/internal/tabs"
)

// Client owns the connection to the browser and creates one page target per
// tab surface.
type Client struct {
	cdpURL   string
	registry *TabRegistry

	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

func NewClient(cdpURL string, registry *TabRegistry) *Client {
	if registry == nil {
		registry = NewTabRegistry()
	}
	return &Client{cdpURL: cdpURL, registry: registry}
}

// Connect attaches to the browser. The first target it opens hosts the
// application shell and is used to track the window.
func (c *Client) Connect(ctx context.Context) error {
	slog.Info("connecting to chromium", "url", c.cdpURL)

	c.allocCtx, c.allocCancel = chromedp.NewRemoteAllocator(context.Background(), c.cdpURL)
	c.browserCtx, c.browserCancel = chromedp.NewContext(c.allocCtx)

	stop := context.AfterFunc(ctx, c.browserCancel)
	defer stop()
	if err := chromedp.Run(c.browserCtx); err != nil {
		c.Close()
		return fmt.Errorf("failed to connect to browser: %w", err)
	}
	slog.Info("connected to chromium", "shell_target", chromedp.FromContext(c.browserCtx).Target.TargetID)
	return nil
}

// NewSurface opens a blank page target for tab id.
func (c *Client) NewSurface(ctx context.Context, id int) (tabs.Surface, error) {
	if c.browserCtx == nil {
		return nil, fmt.Errorf("cdp client not connected")
	}
	tabCtx, tabCancel := chromedp.NewContext(c.browserCtx)

	stop := context.AfterFunc(ctx, tabCancel)
	err := chromedp.Run(tabCtx)
	stop()
	if err != nil {
		tabCancel()
		return nil, fmt.Errorf("open target for tab %d: %w", id, err)
	}

	targetID := chromedp.FromContext(tabCtx).Target.TargetID
	c.registry.Register(id, targetID)
	slog.Debug("surface created", "tab_id", id, "target_id", targetID)
	return &Surface{id: id, ctx: tabCtx, cancel: tabCancel, registry: c.registry}, nil
}

// Window starts tracking the shell target's window.
func (c *Client) Window(ctx context.Context) (*Window, error) {
	if c.browserCtx == nil {
		return nil, fmt.Errorf("cdp client not connected")
	}
	w := newWindow(shellProbe(c.browserCtx), defaultPollInterval)
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

func (c *Client) Close() error {
	if n := c.registry.Count(); n > 0 {
		slog.Warn("closing cdp client with live surfaces", "count", n)
	}
	if c.browserCancel != nil {
		c.browserCancel()
	}
	if c.allocCancel != nil {
		c.allocCancel()
	}
	slog.Info("cdp client closed")
	return nil
}
