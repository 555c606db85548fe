package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marcus/coursesync/internal/models"
)

const (
	subscribeHandshakeTimeout = 10 * time.Second
	subscribeBuffer           = 4
)

// SnapshotFrame is one websocket message on a subscription: the full
// collection as of the server's latest write.
type SnapshotFrame struct {
	Path      string            `json:"path"`
	Documents []models.Document `json:"documents"`
}

// Subscribe opens a websocket to /v1/subscribe and forwards every snapshot
// frame until ctx is done or the connection drops. The server sends the
// current snapshot immediately after the upgrade.
func (c *Client) Subscribe(ctx context.Context, collectionPath string) (<-chan []models.Document, error) {
	if !IsCollectionPath(collectionPath) {
		return nil, fmt.Errorf("%w: %q is not a collection", ErrBadPath, collectionPath)
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/subscribe"
	u.RawQuery = url.Values{"path": {collectionPath}}.Encode()

	header := http.Header{}
	if c.UserID != "" {
		header.Set("X-User-ID", c.UserID)
	}
	dialer := websocket.Dialer{HandshakeTimeout: subscribeHandshakeTimeout}
	ws, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("subscribe %s: HTTP %d: %w", collectionPath, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("subscribe %s: %w", collectionPath, err)
	}

	out := make(chan []models.Document, subscribeBuffer)

	// unblock ReadMessage when the caller gives up
	stop := context.AfterFunc(ctx, func() {
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		ws.Close()
	})

	go func() {
		defer func() {
			stop()
			ws.Close()
			close(out)
		}()
		for {
			messageType, message, err := ws.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					slog.Debug("subscribe: read", "path", collectionPath, "err", err)
				}
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}
			var frame SnapshotFrame
			if err := json.Unmarshal(message, &frame); err != nil {
				slog.Debug("subscribe: bad frame", "path", collectionPath, "err", err)
				continue
			}
			select {
			case out <- frame.Documents:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}
