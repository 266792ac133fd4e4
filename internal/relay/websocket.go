package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// IntentFunc handles one inbound text message from an observer surface and
// returns the reply to send back. A nil reply sends nothing.
type IntentFunc func(ctx context.Context, msg []byte) ([]byte, error)

// Frame is the envelope for broker events sent over the WebSocket.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// WSHandler upgrades to a WebSocket that pushes broker events and accepts
// intents from the observer surface.
func WSHandler(broker *Broker, intents IntentFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			slog.Debug("websocket upgrade failed", "error", err)
			return
		}
		feedFilter := parseFeeds(r.URL.Query().Get("feeds"))

		ctx, cancel := context.WithCancel(context.Background())
		session := &wsSession{conn: conn}
		id, ch := broker.Subscribe()
		slog.Debug("observer connected", "remote", r.RemoteAddr, "subscriber", id)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			session.pump(ctx, ch, feedFilter)
		}()

		session.read(ctx, intents)

		cancel()
		broker.Unsubscribe(id)
		wg.Wait()
		_ = conn.Close()
		slog.Debug("observer disconnected", "remote", r.RemoteAddr, "subscriber", id)
	}
}

type wsSession struct {
	conn    net.Conn
	writeMu sync.Mutex
}

func (s *wsSession) write(p []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return wsutil.WriteServerText(s.conn, p)
}

func (s *wsSession) pump(ctx context.Context, ch <-chan Event, feedFilter map[string]bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if feedFilter != nil && !feedFilter[evt.Feed] {
				continue
			}
			frame, err := json.Marshal(Frame{Type: evt.Feed, Payload: json.RawMessage(evt.Payload)})
			if err != nil {
				slog.Warn("websocket frame encode failed", "feed", evt.Feed, "error", err)
				continue
			}
			if err := s.write(frame); err != nil {
				slog.Debug("websocket write failed", "error", err)
				_ = s.conn.Close()
				return
			}
		}
	}
}

func (s *wsSession) read(ctx context.Context, intents IntentFunc) {
	for {
		msg, op, err := wsutil.ReadClientData(s.conn)
		if err != nil {
			var closed wsutil.ClosedError
			if !errors.As(err, &closed) && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				slog.Debug("websocket read failed", "error", err)
			}
			return
		}
		if op != ws.OpText || intents == nil {
			continue
		}
		reply, err := intents(ctx, msg)
		if err != nil {
			slog.Warn("websocket intent failed", "error", err)
			continue
		}
		if reply == nil {
			continue
		}
		if err := s.write(reply); err != nil {
			slog.Debug("websocket reply failed", "error", err)
			return
		}
	}
}
