package live

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/ClarkOhlenbusch/scam-detective-hotline/internal/coaching"
	"github.com/ClarkOhlenbusch/scam-detective-hotline/internal/livestore"
	"github.com/ClarkOhlenbusch/scam-detective-hotline/internal/session"
)

type fakeSnapshotStore struct {
	snapshot *livestore.Snapshot
	err      error
}

func (f *fakeSnapshotStore) GetSnapshot(ctx context.Context, callID, slug string, transcriptLimit int) (*livestore.Snapshot, error) {
	return f.snapshot, f.err
}

func TestHandleSnapshotReturnsContract(t *testing.T) {
	store := &fakeSnapshotStore{snapshot: &livestore.Snapshot{
		CallID: "CA1",
		Slug:   "case-a",
		Status: session.StatusInProgress,
		Advice: &coaching.CoachingAdvice{RiskScore: 55, RiskLevel: coaching.RiskMedium},
		Transcript: []coaching.TranscriptChunk{
			{Speaker: "caller", Text: "hello", TimestampMs: 100, IsFinal: true},
		},
	}}
	h := NewHandler(store, nil, 200)
	r := chi.NewRouter()
	h.Register(r)

	req := httptest.NewRequest(http.MethodGet, "/live?callId=CA1&slug=case-a", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-store" {
		t.Fatalf("expected no-store cache control, got %q", cc)
	}
	if !strings.Contains(rec.Body.String(), `"riskScore":55`) {
		t.Fatalf("expected advice in response body, got %s", rec.Body.String())
	}
}

func TestHandleSnapshot404WhenAbsent(t *testing.T) {
	store := &fakeSnapshotStore{snapshot: nil}
	h := NewHandler(store, nil, 200)
	r := chi.NewRouter()
	h.Register(r)

	req := httptest.NewRequest(http.MethodGet, "/live?callId=CA1&slug=case-a", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when snapshot absent, got %d", rec.Code)
	}
}

func TestHandleSnapshot404WhenQueryParamsMissing(t *testing.T) {
	store := &fakeSnapshotStore{}
	h := NewHandler(store, nil, 200)
	r := chi.NewRouter()
	h.Register(r)

	req := httptest.NewRequest(http.MethodGet, "/live", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when callId/slug missing, got %d", rec.Code)
	}
}
