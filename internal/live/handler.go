package live

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ClarkOhlenbusch/scam-detective-hotline/internal/coaching"
	"github.com/ClarkOhlenbusch/scam-detective-hotline/internal/livestore"
)

// Handler implements C8's HTTP surface: the snapshot GET and the WebSocket
// upgrade that subscribes a connection to a call's push updates.
type Handler struct {
	store           SnapshotStore
	hub             *Hub
	transcriptLimit int
}

// NewHandler constructs a Handler. hub may be nil, in which case the
// WebSocket route is not mounted and clients fall back to polling GET /live
// at the ~6s cadence the contract allows.
func NewHandler(store SnapshotStore, hub *Hub, transcriptLimit int) *Handler {
	return &Handler{store: store, hub: hub, transcriptLimit: transcriptLimit}
}

// Register mounts the live-view routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/live", h.handleSnapshot)
	if h.hub != nil {
		r.Get("/live/ws", h.handleWebSocket)
	}
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	callID := r.URL.Query().Get("callId")
	slug := r.URL.Query().Get("slug")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "application/json")

	if callID == "" || slug == "" {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"ok":false}`))
		return
	}

	snapshot, err := h.store.GetSnapshot(r.Context(), callID, slug, h.transcriptLimit)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"ok":false}`))
		return
	}
	if snapshot == nil {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"ok":false}`))
		return
	}

	_ = json.NewEncoder(w).Encode(newSnapshotDTO(snapshot))
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	callID := r.URL.Query().Get("callId")
	slug := r.URL.Query().Get("slug")
	if callID == "" || slug == "" {
		http.Error(w, "callId and slug required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	h.hub.Register(callID, slug, conn)
	defer h.hub.Unregister(callID, conn)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := h.hub.Ping(callID, conn); err != nil {
				return
			}
		}
	}
}

// snapshotDTO is the §4.8 GET /live JSON contract.
type snapshotDTO struct {
	OK             bool                      `json:"ok"`
	CallID         string                    `json:"callId"`
	Slug           string                    `json:"slug"`
	Status         string                    `json:"status"`
	AssistantMuted bool                      `json:"assistantMuted"`
	Analyzing      bool                      `json:"analyzing"`
	LastError      string                    `json:"lastError"`
	UpdatedAt      int64                     `json:"updatedAt"`
	Version        int64                     `json:"version"`
	Advice         *coaching.CoachingAdvice  `json:"advice"`
	Transcript     []transcriptChunkDTO      `json:"transcript"`
}

type transcriptChunkDTO struct {
	Speaker     string `json:"speaker"`
	Text        string `json:"text"`
	TimestampMs int64  `json:"timestampMs"`
	IsFinal     bool   `json:"isFinal"`
}

func newSnapshotDTO(s *livestore.Snapshot) snapshotDTO {
	chunks := make([]transcriptChunkDTO, 0, len(s.Transcript))
	for _, c := range s.Transcript {
		chunks = append(chunks, transcriptChunkDTO{
			Speaker:     c.Speaker,
			Text:        c.Text,
			TimestampMs: c.TimestampMs,
			IsFinal:     c.IsFinal,
		})
	}
	return snapshotDTO{
		OK:             true,
		CallID:         s.CallID,
		Slug:           s.Slug,
		Status:         string(s.Status),
		AssistantMuted: s.AssistantMuted,
		Analyzing:      s.Analyzing,
		LastError:      s.LastError,
		UpdatedAt:      s.UpdatedAtMs,
		Version:        s.UpdatedAtMs,
		Advice:         s.Advice,
		Transcript:     chunks,
	}
}
