package docserver

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marcus/coursesync/internal/models"
	"github.com/marcus/coursesync/internal/remote"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
	// clients are CLIs, not browsers
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans collection snapshots out to websocket subscribers. Each
// subscriber holds at most one pending snapshot; a newer one replaces it.
type Hub struct {
	mu      sync.Mutex
	subs    map[string]map[*subscriber]struct{}
	closed  chan struct{}
	once    sync.Once
	metrics *Metrics
	ping    time.Duration
}

type subscriber struct {
	pending chan []models.Document
}

// NewHub creates a Hub. ping is the websocket keepalive interval.
func NewHub(metrics *Metrics, ping time.Duration) *Hub {
	if ping <= 0 {
		ping = 30 * time.Second
	}
	return &Hub{
		subs:    make(map[string]map[*subscriber]struct{}),
		closed:  make(chan struct{}),
		metrics: metrics,
		ping:    ping,
	}
}

// Publish lists collection and offers the result to every subscriber.
// Listing happens under the hub lock so subscribers never receive an older
// snapshot after a newer one.
func (h *Hub) Publish(collection string, list func() ([]models.Document, error)) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.subs[collection]) == 0 {
		return nil
	}
	docs, err := list()
	if err != nil {
		return err
	}
	for sub := range h.subs[collection] {
		h.offer(sub, docs)
	}
	return nil
}

// offer must be called with h.mu held; it is the only sender on pending.
func (h *Hub) offer(sub *subscriber, docs []models.Document) {
	select {
	case sub.pending <- docs:
		return
	default:
	}
	select {
	case <-sub.pending:
		h.metrics.RecordFrameDropped()
	default:
	}
	sub.pending <- docs
}

func (h *Hub) add(collection string, sub *subscriber, list func() ([]models.Document, error)) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	initial, err := list()
	if err != nil {
		return err
	}
	if h.subs[collection] == nil {
		h.subs[collection] = make(map[*subscriber]struct{})
	}
	h.subs[collection][sub] = struct{}{}
	h.offer(sub, initial)
	h.metrics.AddSubscribers(1)
	return nil
}

func (h *Hub) remove(collection string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[collection][sub]; !ok {
		return
	}
	delete(h.subs[collection], sub)
	if len(h.subs[collection]) == 0 {
		delete(h.subs, collection)
	}
	h.metrics.AddSubscribers(-1)
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.once.Do(func() { close(h.closed) })
}

// handleSubscribe upgrades to a websocket and streams snapshots of the
// collection named by ?path= until either side goes away.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	collection := r.URL.Query().Get("path")
	if !remote.IsCollectionPath(collection) {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "path must name a collection")
		return
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		logFor(r.Context()).Debug("subscribe: upgrade", "err", err)
		return
	}
	log := logFor(r.Context()).With("collection", collection)
	log.Info("subscribe: open")

	sub := &subscriber{pending: make(chan []models.Document, 1)}
	if err := s.hub.add(collection, sub, s.snapshot(collection)); err != nil {
		log.Error("subscribe: initial snapshot", "err", err)
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "snapshot failed"),
			time.Now().Add(time.Second))
		ws.Close()
		return
	}
	defer func() {
		s.hub.remove(collection, sub)
		ws.Close()
		log.Info("subscribe: closed")
	}()

	// the read side only handles control frames and notices disconnects
	done := make(chan struct{})
	ws.SetReadDeadline(time.Now().Add(2 * s.hub.ping))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(2 * s.hub.ping))
	})
	go func() {
		defer close(done)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.hub.ping)
	defer ticker.Stop()
	for {
		select {
		case docs := <-sub.pending:
			data, err := json.Marshal(remote.SnapshotFrame{Path: collection, Documents: docs})
			if err != nil {
				log.Error("subscribe: encode", "err", err)
				return
			}
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug("subscribe: write", "err", err)
				return
			}
			s.metrics.RecordFrameSent()
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug("subscribe: ping", "err", err)
				return
			}
		case <-done:
			return
		case <-s.hub.closed:
			ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			return
		case <-r.Context().Done():
			return
		}
	}
}
