// Package sqlrepo holds the database/sql plumbing shared by the sqlite and
// postgres drivers. Drivers supply a Dialect with their SQL text and error
// classification.
package sqlrepo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/store"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Dialect carries everything that differs between database engines.
type Dialect struct {
	Name  string
	Users UserQueries

	// IsUniqueViolation reports a unique constraint failure.
	IsUniqueViolation func(error) bool
}

// Base implements store.Store on top of a *sql.DB. Drivers embed it and add
// ApplyMigrations.
type Base struct {
	DB      *sql.DB
	Dialect *Dialect
}

func (b *Base) Users() store.Users {
	return &usersRepo{db: b.DB, d: b.Dialect}
}

func (b *Base) Close() error { return b.DB.Close() }

func (b *Base) Ping(ctx context.Context) error { return b.DB.PingContext(ctx) }

func (b *Base) Tx(ctx context.Context) (store.Tx, error) {
	tx, err := b.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &txStore{tx: tx, d: b.Dialect}, nil
}

// WithTx rolls back unless fn succeeds and the commit goes through.
func (b *Base) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := b.Tx(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback() // no-op after commit
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

type txStore struct {
	tx *sql.Tx
	d  *Dialect
}

func (t *txStore) Users() store.Users { return &usersRepo{db: t.tx, d: t.d} }

func (t *txStore) Commit() error   { return t.tx.Commit() }
func (t *txStore) Rollback() error { return t.tx.Rollback() }

// The outer DB stays open; the caller commits or rolls back.
func (t *txStore) Close() error                   { return nil }
func (t *txStore) Ping(ctx context.Context) error { return nil }
func (t *txStore) ApplyMigrations() error         { return nil }

func (t *txStore) Tx(ctx context.Context) (store.Tx, error) {
	return nil, sql.ErrTxDone
}

func (t *txStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return sql.ErrTxDone
}

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func mapStringNull(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
