package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"conti/internal/core"
)

// CreateUser registers a user. Accounts of the identity provider are mirrored
// here so notifications have an address to go to.
func (r *SQLiteRepository) CreateUser(ctx context.Context, u core.User) (core.User, error) {
	u.Email = strings.TrimSpace(u.Email)
	if u.Email == "" {
		return core.User{}, core.Validationf("email is required")
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO users (email, name, created_at) VALUES (?, ?, ?)`,
		u.Email, u.Name, r.timestamp())
	if err != nil {
		if isUniqueViolation(err) {
			return core.User{}, &core.Error{Kind: core.KindConflict, Code: "EMAIL_TAKEN", Message: "email already registered"}
		}
		return core.User{}, wrap("create user", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.User{}, wrap("create user", err)
	}
	u.ID = id
	return u, nil
}

func (r *SQLiteRepository) GetUser(ctx context.Context, id int64) (core.User, error) {
	var u core.User
	err := r.db.QueryRowContext(ctx, `SELECT id, email, name FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Email, &u.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, core.ErrUserNotFound
	}
	if err != nil {
		return core.User{}, wrap("get user", err)
	}
	return u, nil
}
