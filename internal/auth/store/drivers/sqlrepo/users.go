package sqlrepo

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/domain"
	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/store"
)

// UserQueries is the SQL a dialect provides for the users table. Every
// select returns the columns in userColumns order.
type UserQueries struct {
	GetByID              string
	GetByEmail           string
	GetByProviderSubject string
	Insert               string // id, email, display_name, password_hash, roles, provider_subject, created_at, updated_at
	LinkProviderSubject  string // provider_subject, updated_at, id
	UpdateRoles          string // roles, updated_at, id
	Count                string
}

// UserColumns is the projection every users select must use.
const UserColumns = `id, email, display_name, password_hash, roles, provider_subject, created_at, updated_at`

type usersRepo struct {
	db DBTX
	d  *Dialect
}

func (r *usersRepo) get(ctx context.Context, query string, arg string) (domain.User, error) {
	var (
		u        domain.User
		hash     sql.NullString
		roles    string
		provider sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &u.Email, &u.DisplayName, &hash, &roles, &provider, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}

	u.PasswordHash = hash.String
	u.ProviderSubject = provider.String
	u.Roles = strings.Fields(roles)
	return u, nil
}

func (r *usersRepo) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	return r.get(ctx, r.d.Users.GetByID, id)
}

func (r *usersRepo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return r.get(ctx, r.d.Users.GetByEmail, email)
}

func (r *usersRepo) GetUserByProviderSubject(ctx context.Context, subject string) (domain.User, error) {
	if subject == "" {
		return domain.User{}, store.ErrNotFound
	}
	return r.get(ctx, r.d.Users.GetByProviderSubject, subject)
}

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) error {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = u.CreatedAt
	}

	_, err := r.db.ExecContext(ctx, r.d.Users.Insert,
		u.ID,
		u.Email,
		u.DisplayName,
		mapStringNull(u.PasswordHash),
		strings.Join(u.Roles, " "),
		mapStringNull(u.ProviderSubject),
		u.CreatedAt,
		u.UpdatedAt,
	)
	if err != nil && r.d.IsUniqueViolation(err) {
		return store.ErrAlreadyExists
	}
	return err
}

func (r *usersRepo) LinkProviderSubject(ctx context.Context, userID, subject string) error {
	res, err := r.db.ExecContext(ctx, r.d.Users.LinkProviderSubject, subject, time.Now().UTC(), userID)
	if err != nil {
		if r.d.IsUniqueViolation(err) {
			return store.ErrAlreadyExists
		}
		return err
	}
	return requireOneRow(res)
}

func (r *usersRepo) UpdateRoles(ctx context.Context, userID string, roles []string) error {
	res, err := r.db.ExecContext(ctx, r.d.Users.UpdateRoles, strings.Join(roles, " "), time.Now().UTC(), userID)
	if err != nil {
		return err
	}
	return requireOneRow(res)
}

func (r *usersRepo) IsEmpty(ctx context.Context) (bool, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, r.d.Users.Count).Scan(&n); err != nil {
		return false, err
	}
	return n == 0, nil
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
