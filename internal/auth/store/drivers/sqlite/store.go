package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/KarmaCummunity/KC-MVP-server-sub002/internal/auth/store/drivers/sqlrepo"
)

var dialect = &sqlrepo.Dialect{
	Name: "sqlite",
	Users: sqlrepo.UserQueries{
		GetByID:              `SELECT ` + sqlrepo.UserColumns + ` FROM users WHERE id = ?`,
		GetByEmail:           `SELECT ` + sqlrepo.UserColumns + ` FROM users WHERE email = ?`,
		GetByProviderSubject: `SELECT ` + sqlrepo.UserColumns + ` FROM users WHERE provider_subject = ?`,
		Insert: `INSERT INTO users (` + sqlrepo.UserColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		LinkProviderSubject: `UPDATE users SET provider_subject = ?, updated_at = ? WHERE id = ?`,
		UpdateRoles:         `UPDATE users SET roles = ?, updated_at = ? WHERE id = ?`,
		Count:               `SELECT COUNT(*) FROM users`,
	},
	IsUniqueViolation: isUniqueViolation,
}

type Store struct {
	sqlrepo.Base
}

// NewStore opens a sqlite database. ":memory:" is pinned to a single
// connection because every new connection would get its own empty database.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if strings.Contains(dsn, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.ExecContext(context.Background(), `PRAGMA foreign_keys = ON;`); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{Base: sqlrepo.Base{DB: db, Dialect: dialect}}, nil
}

func isUniqueViolation(err error) bool {
	var se *msqlite.Error
	if !errors.As(err, &se) {
		return false
	}

	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		// extended codes disabled
		return strings.Contains(se.Error(), "UNIQUE")
	}
	return false
}
