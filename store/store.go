// Package store implements the persistent user store backing just-in-time
// provisioning. Users are keyed by email; the SSO core only ever looks a
// user up or inserts one if absent, it never updates or deletes.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when no user exists for the given email.
var ErrNotFound = errors.New("user not found")

const schema = `
CREATE TABLE IF NOT EXISTS users (
	email      TEXT PRIMARY KEY,
	first_name TEXT NOT NULL DEFAULT '',
	last_name  TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);`

// User is a locally provisioned account. Email is the primary identity key
// and carries the SAML subject identifier verbatim.
type User struct {
	Email     string
	FirstName string
	LastName  string
	CreatedAt time.Time
}

// Users provides lookup and insert-if-absent over the user table.
type Users struct {
	db     *sql.DB
	logger hclog.Logger
}

// Open opens (creating if necessary) the sqlite database at path and applies
// the schema. Use ":memory:" for an ephemeral store.
func Open(path string, logger hclog.Logger) (*Users, error) {
	const op = "store.Open"

	if path == "" {
		return nil, fmt.Errorf("%s: missing database path", op)
	}
	if logger == nil {
		logger = hclog.Default().Named("store")
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=10000&_fk=true")
	if err != nil {
		return nil, fmt.Errorf("%s: failed to open database: %w", op, err)
	}

	// sqlite allows a single writer; a small pool with a generous busy
	// timeout keeps concurrent first logins from failing outright.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: failed to apply schema: %w", op, err)
	}

	return &Users{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (u *Users) Close() error {
	return u.db.Close()
}

// Get returns the user with the given email, or ErrNotFound.
func (u *Users) Get(ctx context.Context, email string) (*User, error) {
	const op = "store.Users.Get"

	if email == "" {
		return nil, fmt.Errorf("%s: missing email", op)
	}

	row := u.db.QueryRowContext(ctx,
		`SELECT email, first_name, last_name, created_at FROM users WHERE email = ?`, email)

	var user User
	err := row.Scan(&user.Email, &user.FirstName, &user.LastName, &user.CreatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("%s: %q: %w", op, email, ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &user, nil
}

// CreateIfAbsent inserts the user unless one with the same email already
// exists, and returns the stored user either way. The insert relies on the
// primary key constraint, so two concurrent first logins for the same brand
// new subject converge on a single row.
func (u *Users) CreateIfAbsent(ctx context.Context, user User) (*User, bool, error) {
	const op = "store.Users.CreateIfAbsent"

	if user.Email == "" {
		return nil, false, fmt.Errorf("%s: missing email", op)
	}

	res, err := u.db.ExecContext(ctx,
		`INSERT INTO users (email, first_name, last_name, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (email) DO NOTHING`,
		user.Email, user.FirstName, user.LastName, time.Now().UTC())
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}

	stored, err := u.Get(ctx, user.Email)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}

	if inserted > 0 {
		u.logger.Info("provisioned new user", "email", user.Email)
	}

	return stored, inserted > 0, nil
}
