// Package repository implements Postgres persistence for sessions, the
// usage event ledger, plan limits, and users. Repositories use plain SQL
// through the shared pool; operations that must be atomic per logical key
// run inside a transaction holding an advisory lock.
package repository

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/studyloop/backend/internal/database"
)

// querier is satisfied by both the pool and a pgx transaction, letting a
// repository method run standalone or inside a caller's transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// txKey carries an open transaction through a Serialize callback
type txKey struct{}

// withTx returns a context carrying tx for nested repository calls
func withTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// querierFrom returns the transaction bound to ctx, or the pool
func querierFrom(ctx context.Context, db *database.DB) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return db.Pool
}

// isUniqueViolation checks if an error is a unique constraint violation
func isUniqueViolation(err error) bool {
	// PostgreSQL unique violation error code is 23505
	if err == nil {
		return false
	}
	errMsg := err.Error()
	return strings.Contains(errMsg, "duplicate key") || strings.Contains(errMsg, "23505")
}
