// Package webhook implements the Webhook Ingest endpoint (C2): signature
// verification, account matching, event parsing, session/transcript
// persistence, and advice-work enqueueing, per one POST /webhook request.
package webhook

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ClarkOhlenbusch/scam-detective-hotline/internal/apperr"
	"github.com/ClarkOhlenbusch/scam-detective-hotline/internal/events"
	"github.com/ClarkOhlenbusch/scam-detective-hotline/internal/livestore"
	"github.com/ClarkOhlenbusch/scam-detective-hotline/internal/observability/metrics"
	"github.com/ClarkOhlenbusch/scam-detective-hotline/internal/session"
)

const maxBodyBytes = 1 << 20 // 1 MiB

// Store is the subset of livestore.Store the ingest handler needs.
type Store interface {
	GetSummary(ctx context.Context, callID string) (*livestore.Summary, error)
	UpsertSession(ctx context.Context, callID, slug string, status *session.Status) error
	SetStatus(ctx context.Context, callID string, status session.Status, lastError *string) error
	AppendChunk(ctx context.Context, callID, sourceEventID, speaker, text string, isFinal bool, timestampMs int64) (bool, error)
}

// Dispatcher posts advice work for a call, coalescing concurrent enqueues.
type Dispatcher interface {
	Enqueue(callID string, force bool)
}

// Handler implements C2.
type Handler struct {
	store         Store
	dispatcher    Dispatcher
	verifier      *Verifier
	accountID     string
	publicBaseURL string
	metrics       *metrics.PipelineMetrics
}

// NewHandler constructs a Handler. accountID may be empty, in which case the
// account-match check is skipped entirely (per §4.2: "if config contains an
// account id and the event contains an account id, they must match").
func NewHandler(store Store, dispatcher Dispatcher, verifier *Verifier, accountID, publicBaseURL string, pm *metrics.PipelineMetrics) *Handler {
	return &Handler{
		store:         store,
		dispatcher:    dispatcher,
		verifier:      verifier,
		accountID:     accountID,
		publicBaseURL: publicBaseURL,
		metrics:       pm,
	}
}

// Register mounts the ingest route.
func (h *Handler) Register(r chi.Router) {
	r.Post("/webhook", h.handle)
}

func (h *Handler) handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	outcome := "accepted"
	defer func() {
		if h.metrics != nil {
			h.metrics.ObserveWebhook(outcome, time.Since(start).Seconds())
		}
	}()

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		outcome = "bad_request"
		writeErr(w, apperr.ErrBadRequest)
		return
	}

	contentType := r.Header.Get("Content-Type")
	trimmed := strings.TrimSpace(string(body))
	isJSON := strings.Contains(strings.ToLower(contentType), "json") || strings.HasPrefix(trimmed, "{")

	var form url.Values
	if !isJSON {
		form, _ = url.ParseQuery(trimmed)
	}

	query := r.URL.Query()
	if !h.verifier.Verify(candidateURLs(r, h.publicBaseURL), isJSON, body, form, query.Get(BodySHA256Param), r.Header.Get(SignatureHeader)) {
		outcome = "unauthorized"
		writeErr(w, apperr.ErrUnauthorized)
		return
	}

	evt, err := events.Parse(body, contentType, query.Get("slug"))
	if err != nil {
		outcome = "bad_request"
		writeErr(w, apperr.ErrBadRequest)
		return
	}

	if h.accountID != "" && evt.AccountID != "" && evt.AccountID != h.accountID {
		outcome = "unauthorized"
		writeErr(w, apperr.ErrUnauthorized)
		return
	}

	if evt.CallID == "" {
		writeOK(w)
		return
	}

	ctx := r.Context()
	slug := strings.TrimSpace(evt.Slug)
	if slug == "" {
		if summary, err := h.store.GetSummary(ctx, evt.CallID); err == nil && summary != nil {
			slug = summary.Slug
		}
	}
	if slug == "" {
		outcome = "bad_request"
		writeErr(w, apperr.ErrBadRequest)
		return
	}

	var statusPtr *session.Status
	statusIsTerminal := false
	if evt.Status != "" {
		normalized := session.Normalize(evt.Status)
		statusPtr = &normalized
		statusIsTerminal = session.IsTerminal(normalized)
	}

	if err := h.store.UpsertSession(ctx, evt.CallID, slug, statusPtr); err != nil {
		outcome = "internal_error"
		writeErr(w, apperr.ErrInternal)
		return
	}

	if statusPtr != nil && *statusPtr == session.StatusFailed {
		lastError := "The call ended unexpectedly."
		_ = h.store.SetStatus(ctx, evt.CallID, *statusPtr, &lastError)
	}

	isFinal := false
	if evt.Transcript != nil {
		isFinal = evt.Transcript.IsFinal
		fingerprint := events.Fingerprint(evt.CallID, evt.Transcript.SourceEventID, evt.Transcript.Text)
		if _, err := h.store.AppendChunk(ctx, evt.CallID, fingerprint, string(evt.Transcript.Speaker), evt.Transcript.Text, evt.Transcript.IsFinal, evt.Transcript.TimestampMs); err != nil {
			outcome = "internal_error"
			writeErr(w, apperr.ErrInternal)
			return
		}
	}

	if h.dispatcher != nil {
		h.dispatcher.Enqueue(evt.CallID, isFinal || statusIsTerminal)
	}

	writeOK(w)
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"ok":true}`))
}

func writeErr(w http.ResponseWriter, err *apperr.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperr.StatusCode(err))
	_, _ = w.Write([]byte(`{"ok":false,"error":"` + err.Message + `"}`))
}
