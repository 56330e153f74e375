package sessioninfra

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Abraxas-365/warden/pkg/iam/session"
	"github.com/Abraxas-365/warden/pkg/kernel"
	"github.com/Abraxas-365/warden/pkg/storex"
	"github.com/Abraxas-365/warden/pkg/storex/storexpg"
	"github.com/jmoiron/sqlx"
)

// PostgresSchema is the DDL the Postgres backend expects.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	user_id    UUID NOT NULL,
	scheme     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	ttl_ms     BIGINT NOT NULL,
	revoked_at TIMESTAMPTZ,
	metadata   JSONB NOT NULL DEFAULT '{}'::jsonb
);
CREATE INDEX IF NOT EXISTS sessions_user_id_idx ON sessions (user_id);
CREATE INDEX IF NOT EXISTS sessions_expires_at_idx ON sessions (expires_at);
`

const sessionColumns = `id, user_id, scheme, created_at, expires_at, ttl_ms, revoked_at, metadata`

type PostgresRepository struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewPostgresRepository(db *sqlx.DB, timeout time.Duration) *PostgresRepository {
	return &PostgresRepository{db: db, timeout: timeout}
}

// ============================================================================
// Persistence model
// ============================================================================

type metadataJSON map[string]string

func (m metadataJSON) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]string(m))
}

func (m *metadataJSON) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = metadataJSON{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("metadata: unsupported type %T", src)
	}
	out := map[string]string{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("metadata: %w", err)
	}
	*m = out
	return nil
}

type sessionRow struct {
	ID        string       `db:"id"`
	UserID    string       `db:"user_id"`
	Scheme    string       `db:"scheme"`
	CreatedAt time.Time    `db:"created_at"`
	ExpiresAt time.Time    `db:"expires_at"`
	TTLMillis int64        `db:"ttl_ms"`
	RevokedAt *time.Time   `db:"revoked_at"`
	Metadata  metadataJSON `db:"metadata"`
}

func toRow(s session.Session) sessionRow {
	return sessionRow{
		ID:        s.ID.String(),
		UserID:    s.UserID.String(),
		Scheme:    s.Scheme,
		CreatedAt: s.CreatedAt.UTC(),
		ExpiresAt: s.ExpiresAt.UTC(),
		TTLMillis: s.TTL.Milliseconds(),
		RevokedAt: s.RevokedAt,
		Metadata:  metadataJSON(s.Metadata),
	}
}

func (r sessionRow) toDomain() *session.Session {
	s := &session.Session{
		ID:        kernel.SessionID(r.ID),
		UserID:    kernel.UserID(r.UserID),
		Scheme:    r.Scheme,
		CreatedAt: r.CreatedAt.UTC(),
		ExpiresAt: r.ExpiresAt.UTC(),
		TTL:       time.Duration(r.TTLMillis) * time.Millisecond,
		Metadata:  map[string]string(r.Metadata),
	}
	if r.RevokedAt != nil {
		t := r.RevokedAt.UTC()
		s.RevokedAt = &t
	}
	return s
}

// ============================================================================
// Provider
// ============================================================================

func (r *PostgresRepository) Name() string { return storexpg.BackendName }

func (r *PostgresRepository) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

func (r *PostgresRepository) Close() error { return r.db.Close() }

func (r *PostgresRepository) Get(ctx context.Context, id kernel.SessionID) (*session.Session, error) {
	return r.one(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id.String())
}

func (r *PostgresRepository) Create(ctx context.Context, s session.Session) (*session.Session, error) {
	query := `
		INSERT INTO sessions (` + sessionColumns + `)
		VALUES (:id, :user_id, :scheme, :created_at, :expires_at, :ttl_ms, :revoked_at, :metadata)`

	row := toRow(s)
	return storex.Call(ctx, storexpg.BackendName, r.timeout, func(ctx context.Context) (*session.Session, error) {
		if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
			if _, ok := storexpg.UniqueViolation(err); ok {
				return nil, storex.ErrConflict(storexpg.BackendName, "id").WithCause(err)
			}
			return nil, err
		}
		return row.toDomain(), nil
	})
}

// Update is a single statement; COALESCE keeps the columns the patch leaves
// nil.
func (r *PostgresRepository) Update(ctx context.Context, id kernel.SessionID, patch session.Patch) (*session.Session, error) {
	return r.one(ctx, `
		UPDATE sessions SET
			expires_at = COALESCE($2, expires_at),
			revoked_at = COALESCE($3, revoked_at)
		WHERE id = $1
		RETURNING `+sessionColumns,
		id.String(), utcPtr(patch.ExpiresAt), utcPtr(patch.RevokedAt))
}

func (r *PostgresRepository) Delete(ctx context.Context, id kernel.SessionID) error {
	return storex.Exec(ctx, storexpg.BackendName, r.timeout, func(ctx context.Context) error {
		res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id.String())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return storex.ErrNotFound(storexpg.BackendName)
		}
		return nil
	})
}

func (r *PostgresRepository) Exists(ctx context.Context, id kernel.SessionID) (bool, error) {
	return storex.Call(ctx, storexpg.BackendName, r.timeout, func(ctx context.Context) (bool, error) {
		var ok bool
		err := r.db.GetContext(ctx, &ok, `SELECT EXISTS (SELECT 1 FROM sessions WHERE id = $1)`, id.String())
		return ok, err
	})
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID kernel.UserID) ([]*session.Session, error) {
	return r.many(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE user_id = $1 ORDER BY created_at`, userID.String())
}

func (r *PostgresRepository) ListReapable(ctx context.Context, now time.Time, limit int) ([]*session.Session, error) {
	return r.many(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE expires_at <= $1 OR revoked_at IS NOT NULL
		ORDER BY expires_at
		LIMIT $2`, now.UTC(), limit)
}

func (r *PostgresRepository) one(ctx context.Context, query string, args ...any) (*session.Session, error) {
	return storex.Call(ctx, storexpg.BackendName, r.timeout, func(ctx context.Context) (*session.Session, error) {
		var row sessionRow
		err := r.db.GetContext(ctx, &row, query, args...)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storex.ErrNotFound(storexpg.BackendName)
		}
		if err != nil {
			return nil, err
		}
		return row.toDomain(), nil
	})
}

func (r *PostgresRepository) many(ctx context.Context, query string, args ...any) ([]*session.Session, error) {
	return storex.Call(ctx, storexpg.BackendName, r.timeout, func(ctx context.Context) ([]*session.Session, error) {
		var rows []sessionRow
		if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
			return nil, err
		}
		out := make([]*session.Session, len(rows))
		for i, row := range rows {
			out[i] = row.toDomain()
		}
		return out, nil
	})
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

var (
	_ session.Repository = (*PostgresRepository)(nil)
	_ storex.Closer      = (*PostgresRepository)(nil)
)
