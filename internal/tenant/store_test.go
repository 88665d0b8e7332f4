package tenant

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("create pgxmock pool: %v", err)
	}
	t.Cleanup(mock.Close)
	return newWithConn(mock), mock
}

func TestUpsertCaseInserts(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO cases").
		WithArgs("case-a", "tenant-1", "+14155550100").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := store.UpsertCase(context.Background(), "case-a", "tenant-1", "+14155550100"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetCasePropagatesDriverError(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT slug, tenant_id, protected_number").
		WillReturnError(errors.New("connection reset"))

	_, err := store.GetCase(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected the driver error to propagate")
	}
}

func TestGetCaseReturnsRow(t *testing.T) {
	store, mock := newMockStore(t)
	rows := pgxmock.NewRows([]string{"slug", "tenant_id", "protected_number"}).
		AddRow("case-a", "tenant-1", "+14155550100")
	mock.ExpectQuery("SELECT slug, tenant_id, protected_number").WillReturnRows(rows)

	c, err := store.GetCase(context.Background(), "case-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.TenantID != "tenant-1" || c.ProtectedNumber != "+14155550100" {
		t.Fatalf("unexpected case: %+v", c)
	}
}
