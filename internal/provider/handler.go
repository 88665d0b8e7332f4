package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ClarkOhlenbusch/scam-detective-hotline/internal/apperr"
	"github.com/ClarkOhlenbusch/scam-detective-hotline/internal/observability/metrics"
	"github.com/ClarkOhlenbusch/scam-detective-hotline/internal/ratelimit"
)

// CaseLookup resolves a slug to its protected number, the subset of
// tenant.Store the call-placement handler needs.
type CaseLookup interface {
	ProtectedNumber(ctx context.Context, slug string) (string, error)
}

// Caller places an outbound monitor call, the subset of VoiceClient the
// handler needs.
type Caller interface {
	PlaceMonitorCall(ctx context.Context, protectedNumber string) (*CallResponse, error)
}

const (
	ipCallLimit        = 5
	ipCallWindowMs     = 60_000
	slugCallCooldownMs = 30_000
)

// Handler implements the POST /call collaborator (A6).
type Handler struct {
	cases   CaseLookup
	caller  Caller
	limiter ratelimit.Limiter
	metrics *metrics.PipelineMetrics
}

// NewHandler constructs a call-placement Handler.
func NewHandler(cases CaseLookup, caller Caller, limiter ratelimit.Limiter, pm *metrics.PipelineMetrics) *Handler {
	return &Handler{cases: cases, caller: caller, limiter: limiter, metrics: pm}
}

// Register mounts the call-placement route.
func (h *Handler) Register(r chi.Router) {
	r.Post("/call", h.handle)
}

type callRequestBody struct {
	Slug string `json:"slug"`
}

type callResponseBody struct {
	OK     bool   `json:"ok"`
	CallID string `json:"callId"`
	Status string `json:"status"`
}

func (h *Handler) handle(w http.ResponseWriter, r *http.Request) {
	var body callRequestBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&body); err != nil {
		writeErr(w, apperr.ErrBadRequest)
		return
	}
	slug := strings.TrimSpace(body.Slug)
	if slug == "" {
		writeErr(w, apperr.ErrBadRequest)
		return
	}

	ip := clientIP(r)
	if h.limiter != nil {
		if !h.limiter.Take("call_ip:"+ip, ipCallLimit, ipCallWindowMs) {
			if h.metrics != nil {
				h.metrics.ObserveRateLimitDenial("call_ip")
			}
			writeErr(w, apperr.ErrRateLimited)
			return
		}
		if remaining := h.limiter.TakeCooldown("call:"+slug, slugCallCooldownMs); remaining > 0 {
			if h.metrics != nil {
				h.metrics.ObserveRateLimitDenial("call_slug_cooldown")
			}
			writeErr(w, apperr.ErrRateLimited)
			return
		}
	}

	ctx := r.Context()
	protectedNumber, err := h.cases.ProtectedNumber(ctx, slug)
	if err != nil || strings.TrimSpace(protectedNumber) == "" {
		writeErr(w, apperr.ErrNotFound)
		return
	}

	resp, err := h.caller.PlaceMonitorCall(ctx, protectedNumber)
	if err != nil {
		writeErr(w, apperr.ErrInternal)
		return
	}

	callID := resp.CallControlID
	if callID == "" {
		callID = uuid.NewString()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(callResponseBody{OK: true, CallID: callID, Status: "initiated"})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		return host[:idx]
	}
	return host
}

func writeErr(w http.ResponseWriter, err *apperr.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperr.StatusCode(err))
	_, _ = w.Write([]byte(`{"ok":false,"error":"` + err.Message + `"}`))
}
