// Package pg holds the Postgres plumbing shared by the domain repositories:
// serializable transactions with retry, LISTEN-based subscriptions and the
// schema.
package pg

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/rencelibrando/infoma-sub004/internal/txn"
)

const (
	serializationFailure = "40001"
	deadlockDetected     = "40P01"
	exclusionViolation   = "23P01"
)

// IsContention reports whether err is a serialization failure or deadlock
// that a fresh attempt of the same transaction may not hit.
func IsContention(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == serializationFailure || pgErr.Code == deadlockDetected
}

// IsExclusionViolation reports whether err came from an EXCLUDE constraint.
func IsExclusionViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == exclusionViolation
}

// InTx runs fn in a SERIALIZABLE transaction and retries it under policy when
// Postgres aborts it for contention.
func InTx(ctx context.Context, db *sqlx.DB, policy txn.Policy, fn func(ctx context.Context, tx *sqlx.Tx) error) error {
	return txn.Run(ctx, policy, IsContention, func(ctx context.Context) error {
		tx, err := db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if err := fn(ctx, tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}

//go:embed schema.sql
var schema string

// Migrate applies the schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}
