// Package livestore implements the Live Store (C3): the Postgres-backed
// persistence for CallSession and TranscriptChunk rows, plus the
// row-changed notification hook the live push transport (A10) subscribes
// to.
package livestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ClarkOhlenbusch/scam-detective-hotline/internal/coaching"
	"github.com/ClarkOhlenbusch/scam-detective-hotline/internal/session"
)

// dbConn is the narrow subset of *pgxpool.Pool this store needs, mirroring
// the teacher's rowQuerier seam so tests can substitute a pgxmock pool.
type dbConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Notifier is told which call_id changed after every mutating write, so the
// in-process push transport (A10) can fan out to subscribers without
// Postgres LISTEN/NOTIFY.
type Notifier interface {
	NotifyChanged(callID string)
}

// Store is the concrete C3 Live Store.
type Store struct {
	db       dbConn
	notifier Notifier
}

// New constructs a Store backed by a pgxpool.Pool.
func New(pool *pgxpool.Pool, notifier Notifier) *Store {
	if pool == nil {
		panic("livestore: pgx pool required")
	}
	return &Store{db: pool, notifier: notifier}
}

func newWithConn(db dbConn, notifier Notifier) *Store {
	if db == nil {
		panic("livestore: db conn required")
	}
	return &Store{db: db, notifier: notifier}
}

func (s *Store) notify(callID string) {
	if s.notifier != nil {
		s.notifier.NotifyChanged(callID)
	}
}

// UpsertSession creates the row on first sight of a call_id, or touches
// updated_at and optionally applies a status transition on subsequent
// calls. slug is immutable once set (it is never included in the ON
// CONFLICT update clause).
func (s *Store) UpsertSession(ctx context.Context, callID, slug string, status *session.Status) error {
	var statusArg *string
	if status != nil {
		v := string(*status)
		statusArg = &v
	}
	const query = `
		INSERT INTO sessions (call_id, slug, status, updated_at)
		VALUES ($1, $2, COALESCE($3, 'unknown'), now())
		ON CONFLICT (call_id) DO UPDATE SET
			status = CASE
				WHEN sessions.status IN ('ended', 'failed') THEN sessions.status
				WHEN $3 IS NOT NULL THEN $3
				ELSE sessions.status
			END,
			updated_at = now()
	`
	if _, err := s.db.Exec(ctx, query, callID, slug, statusArg); err != nil {
		return fmt.Errorf("livestore: upsert session: %w", err)
	}
	s.notify(callID)
	return nil
}

// SetStatus applies a status transition (terminal-state-guarded, I4) and
// optionally records a user-safe last_error, used when a transition lands on
// "failed".
func (s *Store) SetStatus(ctx context.Context, callID string, status session.Status, lastError *string) error {
	const query = `
		UPDATE sessions SET
			status = CASE WHEN status IN ('ended', 'failed') THEN status ELSE $2 END,
			last_error = COALESCE($3, last_error),
			updated_at = now()
		WHERE call_id = $1
	`
	ct, err := s.db.Exec(ctx, query, callID, string(status), lastError)
	if err != nil {
		return fmt.Errorf("livestore: set status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("livestore: set status: %w", errNotFound(callID))
	}
	s.notify(callID)
	return nil
}

// SetAnalyzing flips the analyzing flag (true only while a model call is in
// flight).
func (s *Store) SetAnalyzing(ctx context.Context, callID string, analyzing bool) error {
	const query = `UPDATE sessions SET analyzing = $2, updated_at = now() WHERE call_id = $1`
	if _, err := s.db.Exec(ctx, query, callID, analyzing); err != nil {
		return fmt.Errorf("livestore: set analyzing: %w", err)
	}
	s.notify(callID)
	return nil
}

// SetAdvice persists a stabilized CoachingAdvice snapshot along with the
// last_error/analyzing side effects of the cycle that produced it.
func (s *Store) SetAdvice(ctx context.Context, callID string, advice coaching.CoachingAdvice, lastError *string, analyzing bool) error {
	raw, err := json.Marshal(advice)
	if err != nil {
		return fmt.Errorf("livestore: marshal advice: %w", err)
	}
	const query = `
		UPDATE sessions SET
			advice = $2,
			last_advice_at = now(),
			last_error = $3,
			analyzing = $4,
			updated_at = now()
		WHERE call_id = $1
	`
	if _, err := s.db.Exec(ctx, query, callID, raw, lastError, analyzing); err != nil {
		return fmt.Errorf("livestore: set advice: %w", err)
	}
	s.notify(callID)
	return nil
}

// AppendChunk inserts a transcript fragment, a no-op on a duplicate
// (call_id, source_event_id) fingerprint (O3). Returns whether a new row
// was actually inserted.
func (s *Store) AppendChunk(ctx context.Context, callID, sourceEventID, speaker, text string, isFinal bool, timestampMs int64) (bool, error) {
	const query = `
		INSERT INTO transcript_chunks (call_id, source_event_id, speaker, text, timestamp_ms, is_final)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (call_id, source_event_id) DO NOTHING
	`
	ct, err := s.db.Exec(ctx, query, callID, sourceEventID, speaker, text, timestampMs, isFinal)
	if err != nil {
		return false, fmt.Errorf("livestore: append chunk: %w", err)
	}
	inserted := ct.RowsAffected() > 0
	if inserted {
		s.notify(callID)
	}
	return inserted, nil
}

// GetChunks returns the last `limit` chunks for a call, ordered by
// insertion id ascending (I5).
func (s *Store) GetChunks(ctx context.Context, callID string, limit int) ([]coaching.TranscriptChunk, error) {
	const query = `
		SELECT id, call_id, source_event_id, speaker, text, timestamp_ms, is_final
		FROM (
			SELECT id, call_id, source_event_id, speaker, text, timestamp_ms, is_final
			FROM transcript_chunks
			WHERE call_id = $1
			ORDER BY id DESC
			LIMIT $2
		) recent
		ORDER BY id ASC
	`
	rows, err := s.db.Query(ctx, query, callID, limit)
	if err != nil {
		return nil, fmt.Errorf("livestore: get chunks: %w", err)
	}
	defer rows.Close()

	var out []coaching.TranscriptChunk
	for rows.Next() {
		var c coaching.TranscriptChunk
		if err := rows.Scan(&c.ID, &c.CallID, &c.SourceEventID, &c.Speaker, &c.Text, &c.TimestampMs, &c.IsFinal); err != nil {
			return nil, fmt.Errorf("livestore: scan chunk: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("livestore: iterate chunks: %w", err)
	}
	return out, nil
}

// Summary is the §4.3 get_summary result.
type Summary struct {
	Slug         string
	Status       session.Status
	LastAdviceAt *int64
	Advice       *coaching.CoachingAdvice
}

// GetSummary returns the minimal state the per-call worker needs each
// cycle, or nil if the session row is absent.
func (s *Store) GetSummary(ctx context.Context, callID string) (*Summary, error) {
	const query = `
		SELECT slug, status, advice, EXTRACT(EPOCH FROM last_advice_at) * 1000
		FROM sessions WHERE call_id = $1
	`
	var (
		slug, status string
		rawAdvice     []byte
		lastAdviceMs  *float64
	)
	row := s.db.QueryRow(ctx, query, callID)
	if err := row.Scan(&slug, &status, &rawAdvice, &lastAdviceMs); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("livestore: get summary: %w", err)
	}

	summary := &Summary{Slug: slug, Status: session.Status(status)}
	if lastAdviceMs != nil {
		v := int64(*lastAdviceMs)
		summary.LastAdviceAt = &v
	}
	if len(rawAdvice) > 0 {
		var advice coaching.CoachingAdvice
		if err := json.Unmarshal(rawAdvice, &advice); err == nil {
			summary.Advice = &advice
		}
	}
	return summary, nil
}

// Snapshot is the §4.8 GET /live response payload's data half.
type Snapshot struct {
	CallID         string
	Slug           string
	Status         session.Status
	AssistantMuted bool
	Analyzing      bool
	LastError      string
	UpdatedAtMs    int64
	Advice         *coaching.CoachingAdvice
	Transcript     []coaching.TranscriptChunk
}

// GetSnapshot returns the full live-view snapshot, or nil if the row is
// absent or does not match slug.
func (s *Store) GetSnapshot(ctx context.Context, callID, slug string, transcriptLimit int) (*Snapshot, error) {
	const query = `
		SELECT slug, status, assistant_muted, analyzing, COALESCE(last_error, ''), advice,
			EXTRACT(EPOCH FROM updated_at) * 1000
		FROM sessions WHERE call_id = $1
	`
	var (
		rowSlug, status, lastError string
		assistantMuted, analyzing bool
		rawAdvice                 []byte
		updatedAtMs               float64
	)
	row := s.db.QueryRow(ctx, query, callID)
	if err := row.Scan(&rowSlug, &status, &assistantMuted, &analyzing, &lastError, &rawAdvice, &updatedAtMs); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("livestore: get snapshot: %w", err)
	}
	if rowSlug != slug {
		return nil, nil
	}

	snapshot := &Snapshot{
		CallID:         callID,
		Slug:           rowSlug,
		Status:         session.Status(status),
		AssistantMuted: assistantMuted,
		Analyzing:      analyzing,
		LastError:      lastError,
		UpdatedAtMs:    int64(updatedAtMs),
	}
	if len(rawAdvice) > 0 {
		var advice coaching.CoachingAdvice
		if err := json.Unmarshal(rawAdvice, &advice); err == nil {
			snapshot.Advice = &advice
		}
	}
	chunks, err := s.GetChunks(ctx, callID, transcriptLimit)
	if err != nil {
		return nil, err
	}
	snapshot.Transcript = chunks
	return snapshot, nil
}

type notFoundError struct{ callID string }

func errNotFound(callID string) error { return &notFoundError{callID: callID} }

func (e *notFoundError) Error() string {
	return fmt.Sprintf("livestore: no session for call_id %q", e.callID)
}
