package store

import (
	"context"
	"errors"

	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface implemented by the sqlite and
// postgres drivers. Repositories hang off it so a Tx exposes exactly the
// same surface.
type Store interface {
	Users() Users

	ApplyMigrations() error

	// Tx starts a read/write transaction. The caller MUST Commit or Rollback.
	Tx(ctx context.Context) (Tx, error)

	// WithTx runs fn in a transaction, committing when fn returns nil.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error
	Ping(ctx context.Context) error
}

// Tx is a transaction-scoped Store. Nested transactions are not supported.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Users interface {
	GetUserByID(ctx context.Context, id string) (domain.User, error)

	// GetUserByEmail expects an already lower-cased address.
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)

	// GetUserByProviderSubject resolves an identity-provider "sub".
	GetUserByProviderSubject(ctx context.Context, subject string) (domain.User, error)

	// CreateUser inserts u. Duplicate email or subject is ErrAlreadyExists.
	CreateUser(ctx context.Context, u domain.User) error

	// LinkProviderSubject attaches an identity-provider subject to an
	// existing user and bumps updated_at.
	LinkProviderSubject(ctx context.Context, userID, subject string) error

	// UpdateRoles replaces the user's role set.
	UpdateRoles(ctx context.Context, userID string, roles []string) error

	IsEmpty(ctx context.Context) (bool, error)
}
