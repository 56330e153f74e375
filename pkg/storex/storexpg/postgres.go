// Package storexpg holds the Postgres plumbing shared by the relational
// Users and Sessions backends.
package storexpg

import (
	"errors"

	"github.com/Abraxas-365/warden/pkg/config"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// BackendName identifies Postgres in storage errors.
const BackendName = "postgres"

// Open prepares a pool without dialing. Reachability is checked later by
// the readiness probe.
func Open(cfg config.PostgresConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return db, nil
}

const uniqueViolation = "23505"

// UniqueViolation reports whether err is a unique_violation and returns the
// violated constraint name.
func UniqueViolation(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return pqErr.Constraint, true
	}
	return "", false
}
