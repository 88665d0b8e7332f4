// Package live implements the Live View Read Path (C8): the GET /live
// snapshot endpoint and a WebSocket push transport that fans row-level
// changes out to subscribers keyed by call_id, via the Hub implementing
// livestore.Notifier.
package live

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ClarkOhlenbusch/scam-detective-hotline/internal/livestore"
	"github.com/ClarkOhlenbusch/scam-detective-hotline/internal/observability/metrics"
)

const (
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// SnapshotStore is the subset of livestore.Store the hub needs to refresh a
// snapshot after a row-changed notification.
type SnapshotStore interface {
	GetSnapshot(ctx context.Context, callID, slug string, transcriptLimit int) (*livestore.Snapshot, error)
}

type connSet struct {
	slug  string
	conns map[*websocket.Conn]struct{}
}

// Hub is the in-process connection registry and push fan-out, taking the
// place of Postgres LISTEN/NOTIFY since the writer and the subscribers live
// in the same process (a documented single-instance scaling limit; a
// multi-instance deploy needs a shared pub/sub such as Redis instead).
type Hub struct {
	mu              sync.RWMutex
	byCall          map[string]*connSet
	store           SnapshotStore
	transcriptLimit int
	metrics         *metrics.PipelineMetrics
}

// NewHub constructs a Hub. transcriptLimit bounds the transcript slice
// refetched on every push (mirrors the HTTP snapshot's LIVE_TRANSCRIPT_LIMIT).
func NewHub(store SnapshotStore, transcriptLimit int, pm *metrics.PipelineMetrics) *Hub {
	return &Hub{
		byCall:          make(map[string]*connSet),
		store:           store,
		transcriptLimit: transcriptLimit,
		metrics:         pm,
	}
}

// Register adds conn as a subscriber for callID/slug and arms its read
// deadline and pong handler. The keepalive ping ticker runs in the owning
// handler, which calls Ping.
func (h *Hub) Register(callID, slug string, conn *websocket.Conn) {
	h.mu.Lock()
	set, ok := h.byCall[callID]
	if !ok {
		set = &connSet{slug: slug, conns: make(map[*websocket.Conn]struct{})}
		h.byCall[callID] = set
	}
	set.conns[conn] = struct{}{}
	h.mu.Unlock()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
}

// Unregister removes conn from the registry and closes it.
func (h *Hub) Unregister(callID string, conn *websocket.Conn) {
	h.mu.Lock()
	if set, ok := h.byCall[callID]; ok {
		delete(set.conns, conn)
		if len(set.conns) == 0 {
			delete(h.byCall, callID)
		}
	}
	h.mu.Unlock()
	_ = conn.Close()
}

// Ping writes a control ping to the single connection conn, called on a
// ticker from the owning handler's connection loop.
func (h *Hub) Ping(callID string, conn *websocket.Conn) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.PingMessage, nil)
}

// NotifyChanged implements livestore.Notifier. It refetches the current
// snapshot and pushes it to every subscriber of callID.
func (h *Hub) NotifyChanged(callID string) {
	h.mu.RLock()
	set, ok := h.byCall[callID]
	var conns []*websocket.Conn
	var slug string
	if ok {
		slug = set.slug
		conns = make([]*websocket.Conn, 0, len(set.conns))
		for c := range set.conns {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()
	if !ok || len(conns) == 0 {
		return
	}

	snapshot, err := h.store.GetSnapshot(context.Background(), callID, slug, h.transcriptLimit)
	if err != nil || snapshot == nil {
		return
	}

	raw, err := json.Marshal(newSnapshotDTO(snapshot))
	if err != nil {
		return
	}

	outcome := "ok"
	for _, c := range conns {
		_ = c.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.WriteMessage(websocket.TextMessage, raw); err != nil {
			outcome = "error"
		}
	}
	if h.metrics != nil {
		h.metrics.ObservePush(outcome)
	}
}
