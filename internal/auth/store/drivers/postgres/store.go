package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/store/drivers/sqlrepo"
)

const uniqueViolation = "23505"

var dialect = &sqlrepo.Dialect{
	Name: "postgres",
	Users: sqlrepo.UserQueries{
		GetByID:              `SELECT ` + sqlrepo.UserColumns + ` FROM users WHERE id = $1`,
		GetByEmail:           `SELECT ` + sqlrepo.UserColumns + ` FROM users WHERE email = $1`,
		GetByProviderSubject: `SELECT ` + sqlrepo.UserColumns + ` FROM users WHERE provider_subject = $1`,
		Insert: `INSERT INTO users (` + sqlrepo.UserColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		LinkProviderSubject: `UPDATE users SET provider_subject = $1, updated_at = $2 WHERE id = $3`,
		UpdateRoles:         `UPDATE users SET roles = $1, updated_at = $2 WHERE id = $3`,
		Count:               `SELECT COUNT(*) FROM users`,
	},
	IsUniqueViolation: isUniqueViolation,
}

type Store struct {
	sqlrepo.Base
}

// NewStore connects through pgx's database/sql adapter and pings once so a
// bad DSN fails at startup rather than on the first request.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return &Store{Base: sqlrepo.Base{DB: db, Dialect: dialect}}, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
