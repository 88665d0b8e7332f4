package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ClarkOhlenbusch/scam-detective-hotline/internal/apperr"
	"github.com/ClarkOhlenbusch/scam-detective-hotline/internal/observability/metrics"
	"github.com/ClarkOhlenbusch/scam-detective-hotline/internal/phone"
	"github.com/ClarkOhlenbusch/scam-detective-hotline/internal/ratelimit"
)

const (
	ipPhoneSaveLimit    = 20
	ipPhoneSaveWindowMs = 600_000
)

// CaseStore is the subset of Store the phone-save handler needs.
type CaseStore interface {
	GetCase(ctx context.Context, slug string) (*Case, error)
	UpsertCase(ctx context.Context, slug, tenantID, protectedNumber string) error
}

// Handler implements the PUT /phone collaborator (A7 wiring over A5).
type Handler struct {
	store   CaseStore
	limiter ratelimit.Limiter
	metrics *metrics.PipelineMetrics
}

// NewHandler constructs a phone-save Handler.
func NewHandler(store CaseStore, limiter ratelimit.Limiter, pm *metrics.PipelineMetrics) *Handler {
	return &Handler{store: store, limiter: limiter, metrics: pm}
}

// Register mounts the phone-save route.
func (h *Handler) Register(r chi.Router) {
	r.Put("/phone", h.handle)
}

type phoneRequestBody struct {
	Slug          string `json:"slug"`
	PhoneNumber   string `json:"phoneNumber"`
	OverrideToken string `json:"overrideToken"`
}

func (h *Handler) handle(w http.ResponseWriter, r *http.Request) {
	var body phoneRequestBody
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
	if h.limiter != nil && !h.limiter.Take("phone_ip:"+ip, ipPhoneSaveLimit, ipPhoneSaveWindowMs) {
		if h.metrics != nil {
			h.metrics.ObserveRateLimitDenial("phone_save_ip")
		}
		writeErr(w, apperr.ErrRateLimited)
		return
	}

	normalized := phone.NormalizeE164(body.PhoneNumber)
	if normalized == "" {
		writeErr(w, apperr.ErrBadRequest)
		return
	}

	ctx := r.Context()
	existing, err := h.store.GetCase(ctx, slug)
	if err != nil && !errors.Is(err, ErrNotFound) {
		writeErr(w, apperr.ErrInternal)
		return
	}
	if existing != nil && existing.ProtectedNumber != "" && existing.ProtectedNumber != normalized && strings.TrimSpace(body.OverrideToken) == "" {
		writeErr(w, apperr.ErrConflict)
		return
	}

	tenantID := slug
	if existing != nil {
		tenantID = existing.TenantID
	}
	if err := h.store.UpsertCase(ctx, slug, tenantID, normalized); err != nil {
		writeErr(w, apperr.ErrInternal)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"ok":true}`))
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
