package livestore

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"

	"github.com/ClarkOhlenbusch/scam-detective-hotline/internal/session"
)

type recordingNotifier struct {
	notified []string
}

func (n *recordingNotifier) NotifyChanged(callID string) {
	n.notified = append(n.notified, callID)
}

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface, *recordingNotifier) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("create pgxmock pool: %v", err)
	}
	t.Cleanup(mock.Close)
	notifier := &recordingNotifier{}
	return newWithConn(mock, notifier), mock, notifier
}

func TestUpsertSessionNotifiesOnSuccess(t *testing.T) {
	store, mock, notifier := newMockStore(t)
	mock.ExpectExec("INSERT INTO sessions").
		WithArgs("CA1", "case-a", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := store.UpsertSession(context.Background(), "CA1", "case-a", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(notifier.notified) != 1 || notifier.notified[0] != "CA1" {
		t.Fatalf("expected notifier to fire for CA1, got %v", notifier.notified)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAppendChunkDuplicateDoesNotNotify(t *testing.T) {
	store, mock, notifier := newMockStore(t)
	mock.ExpectExec("INSERT INTO transcript_chunks").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	inserted, err := store.AppendChunk(context.Background(), "CA1", "TR1:1", "caller", "hello", true, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inserted {
		t.Fatal("expected duplicate insert to report inserted=false")
	}
	if len(notifier.notified) != 0 {
		t.Fatalf("expected no notification on duplicate insert, got %v", notifier.notified)
	}
}

func TestGetSummaryPropagatesDriverError(t *testing.T) {
	store, mock, _ := newMockStore(t)
	mock.ExpectQuery("SELECT slug, status, advice").
		WillReturnError(errors.New("connection reset"))

	_, err := store.GetSummary(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected the driver error to propagate")
	}
}

func TestGetSnapshotSlugMismatchReturnsNil(t *testing.T) {
	store, mock, _ := newMockStore(t)
	rows := pgxmock.NewRows([]string{"slug", "status", "assistant_muted", "analyzing", "coalesce", "advice", "updated_at_ms"}).
		AddRow("other-slug", string(session.StatusInProgress), false, false, "", []byte(nil), float64(1000))
	mock.ExpectQuery("SELECT slug, status, assistant_muted").WillReturnRows(rows)

	snapshot, err := store.GetSnapshot(context.Background(), "CA1", "case-a", 200)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snapshot != nil {
		t.Fatalf("expected nil snapshot on slug mismatch, got %+v", snapshot)
	}
}

func TestGetChunksOrdersAscendingAfterDescendingLimit(t *testing.T) {
	store, mock, _ := newMockStore(t)
	rows := pgxmock.NewRows([]string{"id", "call_id", "source_event_id", "speaker", "text", "timestamp_ms", "is_final"}).
		AddRow(int64(1), "CA1", "a", "caller", "first", int64(100), true).
		AddRow(int64(2), "CA1", "b", "other", "second", int64(200), false)
	mock.ExpectQuery("SELECT id, call_id, source_event_id, speaker, text, timestamp_ms, is_final").
		WillReturnRows(rows)

	chunks, err := store.GetChunks(context.Background(), "CA1", 40)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 2 || chunks[0].Text != "first" {
		t.Fatalf("unexpected chunk ordering: %+v", chunks)
	}
}

func TestSetStatusReturnsNotFoundWhenNoRowAffected(t *testing.T) {
	store, mock, _ := newMockStore(t)
	mock.ExpectExec("UPDATE sessions SET").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.SetStatus(context.Background(), "missing", session.StatusEnded, nil)
	if err == nil {
		t.Fatal("expected an error when no row was affected")
	}
}
