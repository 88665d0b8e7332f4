// Package tenant implements the Tenant/Case Store (A5): the minimal
// slug -> (tenant id, protected phone number) mapping that backs the
// call-placement and phone-save collaborators. The webhook ingest does not
// read it; it resolves slugs from the event, the query, or the session row.
// Out-of-core per the distilled spec, but a complete repo needs a body
// behind it.
package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a slug has no case on file.
var ErrNotFound = errors.New("tenant: case not found")

// Case is one protected-number registration.
type Case struct {
	Slug            string
	TenantID        string
	ProtectedNumber string
}

type dbConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the concrete A5 case store.
type Store struct {
	db dbConn
}

// New constructs a Store backed by a pgxpool.Pool.
func New(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("tenant: pgx pool required")
	}
	return &Store{db: pool}
}

func newWithConn(db dbConn) *Store {
	return &Store{db: db}
}

// UpsertCase creates a case on first registration or updates the protected
// number on subsequent calls; tenant_id is immutable once set.
func (s *Store) UpsertCase(ctx context.Context, slug, tenantID, protectedNumber string) error {
	const query = `
		INSERT INTO cases (slug, tenant_id, protected_number)
		VALUES ($1, $2, $3)
		ON CONFLICT (slug) DO UPDATE SET protected_number = $3
	`
	if _, err := s.db.Exec(ctx, query, slug, tenantID, protectedNumber); err != nil {
		return fmt.Errorf("tenant: upsert case: %w", err)
	}
	return nil
}

// ProtectedNumber resolves slug to its registered protected number, or
// ErrNotFound. It adapts GetCase to the narrow shape the call-placement
// collaborator consumes.
func (s *Store) ProtectedNumber(ctx context.Context, slug string) (string, error) {
	c, err := s.GetCase(ctx, slug)
	if err != nil {
		return "", err
	}
	return c.ProtectedNumber, nil
}

// GetCase returns the case for slug, or ErrNotFound.
func (s *Store) GetCase(ctx context.Context, slug string) (*Case, error) {
	const query = `SELECT slug, tenant_id, protected_number FROM cases WHERE slug = $1`
	var c Case
	row := s.db.QueryRow(ctx, query, slug)
	if err := row.Scan(&c.Slug, &c.TenantID, &c.ProtectedNumber); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("tenant: get case: %w", err)
	}
	return &c, nil
}
