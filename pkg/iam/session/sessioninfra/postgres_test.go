package sessioninfra_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/Abraxas-365/warden/pkg/iam/session"
	"github.com/Abraxas-365/warden/pkg/iam/session/sessioninfra"
	"github.com/Abraxas-365/warden/pkg/ptrx"
	"github.com/Abraxas-365/warden/pkg/storex"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var sessionCols = []string{"id", "user_id", "scheme", "created_at", "expires_at", "ttl_ms", "revoked_at", "metadata"}

func newPostgres(t *testing.T) (*sessioninfra.PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return sessioninfra.NewPostgresRepository(sqlx.NewDb(db, "postgres"), time.Second), mock
}

func TestPostgresSessionCreateConflict(t *testing.T) {
	repo, mock := newPostgres(t)
	mock.ExpectExec("INSERT INTO sessions").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "sessions_pkey"})

	_, err := repo.Create(context.Background(), newSession("s1", time.Now(), time.Hour))
	if !storex.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestPostgresSessionRevokeIsSingleStatement(t *testing.T) {
	repo, mock := newPostgres(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE sessions SET")).
		WithArgs("s1", nil, now).
		WillReturnRows(sqlmock.NewRows(sessionCols).AddRow(
			"s1", bob.String(), "local-token", now, now.Add(time.Hour), int64(3600000), now, []byte(`{"ip":"10.0.0.1"}`),
		))

	got, err := repo.Update(context.Background(), "s1", session.Patch{RevokedAt: ptrx.Time(now)})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.RevokedAt == nil || got.TTL != time.Hour || got.Metadata["ip"] != "10.0.0.1" {
		t.Fatalf("unexpected session %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresSessionUpdateMissing(t *testing.T) {
	repo, mock := newPostgres(t)
	mock.ExpectQuery("UPDATE sessions SET").WillReturnRows(sqlmock.NewRows(sessionCols))

	_, err := repo.Update(context.Background(), "nope", session.Patch{ExpiresAt: ptrx.Time(time.Now())})
	if !storex.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPostgresListReapable(t *testing.T) {
	repo, mock := newPostgres(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE expires_at <= $1 OR revoked_at IS NOT NULL")).
		WithArgs(now, 50).
		WillReturnRows(sqlmock.NewRows(sessionCols).
			AddRow("a", bob.String(), "local-cookie", now, now.Add(-time.Minute), int64(60000), nil, []byte(`{}`)).
			AddRow("b", bob.String(), "local-cookie", now, now.Add(time.Hour), int64(3600000), now, []byte(`{}`)))

	dead, err := repo.ListReapable(context.Background(), now, 50)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(dead) != 2 || dead[0].RevokedAt != nil || dead[1].RevokedAt == nil {
		t.Fatalf("unexpected rows %+v", dead)
	}
}

func TestPostgresSessionDeleteMissing(t *testing.T) {
	repo, mock := newPostgres(t)
	mock.ExpectExec("DELETE FROM sessions").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.Delete(context.Background(), "nope"); !storex.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}
