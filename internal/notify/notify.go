// Package notify forwards tab broadcasts to an HTTP webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dgnsrekt/tabdesk/internal/syncer"
)

const defaultTimeout = 2 * time.Second

// Webhook is a broadcast observer that POSTs each tabs-sync payload as
// JSON. Calls run on the coordinator's task goroutine, so every request is
// bounded by Timeout.
type Webhook struct {
	Endpoint string
	Client   *http.Client
	Timeout  time.Duration
}

func NewWebhook(endpoint string, client *http.Client) *Webhook {
	return &Webhook{Endpoint: endpoint, Client: client, Timeout: defaultTimeout}
}

func (w *Webhook) SendTabsSync(p syncer.TabsSync) error {
	body, err := json.Marshal(struct {
		Feed    string          `json:"feed"`
		Payload syncer.TabsSync `json:"payload"`
	}{Feed: syncer.FeedTabsSync, Payload: p})
	if err != nil {
		return err
	}
	timeout := w.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return Send(ctx, w.Client, w.Endpoint, "application/json", body)
}

// Send posts body to endpoint and fails on any non-2xx status.
func Send(ctx context.Context, client *http.Client, endpoint, contentType string, body []byte) error {
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", contentType)

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook notification failed: status=%d", resp.StatusCode)
	}
	return nil
}
