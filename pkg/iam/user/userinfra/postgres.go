package userinfra

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/Abraxas-365/warden/pkg/iam/user"
	"github.com/Abraxas-365/warden/pkg/kernel"
	"github.com/Abraxas-365/warden/pkg/storex"
	"github.com/Abraxas-365/warden/pkg/storex/storexpg"
	"github.com/jmoiron/sqlx"
)

// PostgresSchema is the DDL the Postgres backend expects. Migrations are run
// out of band.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS users (
	id            UUID PRIMARY KEY,
	username      TEXT NOT NULL,
	email         TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL DEFAULT '',
	role          TEXT NOT NULL,
	identities    JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS users_username_lower_key ON users (lower(username));
CREATE INDEX IF NOT EXISTS users_email_idx ON users (email) WHERE email <> '';
CREATE TABLE IF NOT EXISTS user_identities (
	provider TEXT NOT NULL,
	subject  TEXT NOT NULL,
	user_id  UUID NOT NULL REFERENCES users (id) ON DELETE CASCADE,
	PRIMARY KEY (provider, subject)
);
CREATE INDEX IF NOT EXISTS user_identities_user_idx ON user_identities (user_id);
`

const userColumns = `id, username, email, password_hash, role, identities, created_at, updated_at`

// PostgresRepository stores users in one table. Username uniqueness is
// enforced by the lower(username) unique index. Each linked identity also
// gets a row in user_identities, whose primary key keeps a (provider,
// subject) pair on a single user.
//
// The identities column stays the read model; user_identities is written in
// the same transaction and only used for uniqueness and lookups.
type PostgresRepository struct {
	db      *sqlx.DB
	timeout time.Duration
	now     kernel.Clock
}

func NewPostgresRepository(db *sqlx.DB, timeout time.Duration) *PostgresRepository {
	return &PostgresRepository{db: db, timeout: timeout, now: kernel.SystemClock}
}

// ============================================================================
// Persistence model
// ============================================================================

type userRow struct {
	ID           string          `db:"id"`
	Username     string          `db:"username"`
	Email        string          `db:"email"`
	PasswordHash string          `db:"password_hash"`
	Role         string          `db:"role"`
	Identities   user.Identities `db:"identities"`
	CreatedAt    time.Time       `db:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"`
}

func toRow(u user.User) userRow {
	ids := u.Identities
	if ids == nil {
		ids = user.Identities{}
	}
	return userRow{
		ID:           u.ID.String(),
		Username:     u.Username,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Role:         u.Role.String(),
		Identities:   ids,
		CreatedAt:    u.CreatedAt.UTC(),
		UpdatedAt:    u.UpdatedAt.UTC(),
	}
}

func (r userRow) toDomain() (*user.User, error) {
	role, err := user.ParseRole(r.Role)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", r.ID, err)
	}
	return &user.User{
		ID:           kernel.UserID(r.ID),
		Username:     r.Username,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		Role:         role,
		Identities:   r.Identities,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}, nil
}

// ============================================================================
// Provider
// ============================================================================

func (r *PostgresRepository) Name() string { return storexpg.BackendName }

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *PostgresRepository) Close() error { return r.db.Close() }

func (r *PostgresRepository) Get(ctx context.Context, id kernel.UserID) (*user.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id.String())
}

func (r *PostgresRepository) Create(ctx context.Context, u user.User) (*user.User, error) {
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES (:id, :username, :email, :password_hash, :role, :identities, :created_at, :updated_at)`

	row := toRow(u)
	return storex.Call(ctx, storexpg.BackendName, r.timeout, func(ctx context.Context) (*user.User, error) {
		tx, err := r.db.BeginTxx(ctx, nil)
		if err != nil {
			return nil, err
		}
		defer tx.Rollback()

		if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
			return nil, mapWriteError(err)
		}
		for _, provider := range sortedProviders(u.Identities) {
			if err := linkIdentity(ctx, tx, u.ID, provider, u.Identities[provider]); err != nil {
				return nil, err
			}
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return row.toDomain()
	})
}

// Update locks the row, applies the patch in Go and writes every mutable
// column back inside one transaction.
func (r *PostgresRepository) Update(ctx context.Context, id kernel.UserID, patch user.Patch) (*user.User, error) {
	return storex.Call(ctx, storexpg.BackendName, r.timeout, func(ctx context.Context) (*user.User, error) {
		tx, err := r.db.BeginTxx(ctx, nil)
		if err != nil {
			return nil, err
		}
		defer tx.Rollback()

		var current userRow
		err = tx.GetContext(ctx, &current, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id.String())
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storex.ErrNotFound(storexpg.BackendName)
		}
		if err != nil {
			return nil, err
		}

		u, err := current.toDomain()
		if err != nil {
			return nil, err
		}
		patch.Apply(u, r.now())
		next := toRow(*u)

		_, err = tx.NamedExecContext(ctx, `
			UPDATE users SET
				username = :username,
				email = :email,
				password_hash = :password_hash,
				role = :role,
				identities = :identities,
				updated_at = :updated_at
			WHERE id = :id`, next)
		if err != nil {
			return nil, mapWriteError(err)
		}

		if patch.Link != nil {
			_, err = tx.ExecContext(ctx, `DELETE FROM user_identities WHERE user_id = $1 AND provider = $2`, id.String(), patch.Link.Provider)
			if err != nil {
				return nil, err
			}
			if err := linkIdentity(ctx, tx, id, patch.Link.Provider, patch.Link.Subject); err != nil {
				return nil, err
			}
		}
		if patch.Unlink != nil {
			_, err = tx.ExecContext(ctx, `DELETE FROM user_identities WHERE user_id = $1 AND provider = $2`, id.String(), *patch.Unlink)
			if err != nil {
				return nil, err
			}
		}

		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return u, nil
	})
}

func (r *PostgresRepository) Delete(ctx context.Context, id kernel.UserID) error {
	return storex.Exec(ctx, storexpg.BackendName, r.timeout, func(ctx context.Context) error {
		res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id.String())
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

func (r *PostgresRepository) Exists(ctx context.Context, id kernel.UserID) (bool, error) {
	return storex.Call(ctx, storexpg.BackendName, r.timeout, func(ctx context.Context) (bool, error) {
		var ok bool
		err := r.db.GetContext(ctx, &ok, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id.String())
		return ok, err
	})
}

// ============================================================================
// Lookups
// ============================================================================

func (r *PostgresRepository) FindByUsername(ctx context.Context, username string) (*user.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE lower(username) = lower($1)`, username)
}

func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (*user.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1 AND email <> '' ORDER BY created_at LIMIT 1`, email)
}

func (r *PostgresRepository) FindByIdentity(ctx context.Context, provider, subject string) (*user.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users
		WHERE id = (SELECT user_id FROM user_identities WHERE provider = $1 AND subject = $2)`, provider, subject)
}

func (r *PostgresRepository) Count(ctx context.Context) (int, error) {
	return storex.Call(ctx, storexpg.BackendName, r.timeout, func(ctx context.Context) (int, error) {
		var n int
		err := r.db.GetContext(ctx, &n, `SELECT count(*) FROM users`)
		return n, err
	})
}

func (r *PostgresRepository) findOne(ctx context.Context, query string, args ...any) (*user.User, error) {
	return storex.Call(ctx, storexpg.BackendName, r.timeout, func(ctx context.Context) (*user.User, error) {
		var row userRow
		err := r.db.GetContext(ctx, &row, query, args...)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storex.ErrNotFound(storexpg.BackendName)
		}
		if err != nil {
			return nil, err
		}
		return row.toDomain()
	})
}

func linkIdentity(ctx context.Context, tx *sqlx.Tx, id kernel.UserID, provider, subject string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO user_identities (provider, subject, user_id) VALUES ($1, $2, $3)`,
		provider, subject, id.String())
	return mapWriteError(err)
}

func sortedProviders(ids user.Identities) []string {
	out := make([]string, 0, len(ids))
	for p := range ids {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

func mapWriteError(err error) error {
	constraint, ok := storexpg.UniqueViolation(err)
	if !ok {
		return err
	}
	field := "username"
	switch constraint {
	case "users_pkey":
		field = "id"
	case "user_identities_pkey":
		field = "identity"
	}
	return storex.ErrConflict(storexpg.BackendName, field).WithCause(err)
}

var (
	_ user.Repository = (*PostgresRepository)(nil)
	_ storex.Closer   = (*PostgresRepository)(nil)
)
