package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/task-manager/internal/apperror"
	"github.com/sakif/task-manager/internal/model"
	"github.com/sakif/task-manager/internal/repository"
)

// compile-time check that *UserDB implements repository.UserRepository
var _ repository.UserRepository = (*UserDB)(nil)

// UserDB is the user-facing view of the shared connection pool.
// Obtain one through DB.Users.
type UserDB struct {
	conn *sql.DB
}

const userColumns = `id, email, nickname, first_name, last_name, password_hash,
	is_admin, can_edit, is_active, is_staff, email_verified_at, created_at, updated_at`

func scanUser(s scanner) (*model.User, error) {
	var (
		u        model.User
		verified sql.NullTime
	)
	err := s.Scan(
		&u.ID,
		&u.Email,
		&u.Nickname,
		&u.FirstName,
		&u.LastName,
		&u.PasswordHash,
		&u.IsAdmin,
		&u.CanEdit,
		&u.IsActive,
		&u.IsStaff,
		&verified,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if verified.Valid {
		t := verified.Time
		u.EmailVerifiedAt = &t
	}
	return &u, nil
}

// Create inserts a user. The email must already be normalized.
// A duplicate email returns apperror.ErrConflict.
func (db *UserDB) Create(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()

	var verified sql.NullTime
	if user.EmailVerifiedAt != nil {
		verified = sql.NullTime{Time: user.EmailVerifiedAt.UTC(), Valid: true}
	}

	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (email, nickname, first_name, last_name, password_hash,
			is_admin, can_edit, is_active, is_staff, email_verified_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.Email,
		user.Nickname,
		user.FirstName,
		user.LastName,
		user.PasswordHash,
		user.IsAdmin,
		user.CanEdit,
		user.IsActive,
		user.IsStaff,
		verified,
		now,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("user", user.Email)
		}
		return fmt.Errorf("sqlite: inserting user %s: %w", user.Email, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: reading user id: %w", err)
	}

	user.ID = id
	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

// GetByID returns apperror.ErrNotFound if no user has that id.
func (db *UserDB) GetByID(ctx context.Context, id int64) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %d: %w", id, err)
	}
	return u, nil
}

// GetByEmail matches case-insensitively (the column is COLLATE NOCASE).
func (db *UserDB) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", email)
		}
		return nil, fmt.Errorf("sqlite: getting user by email: %w", err)
	}
	return u, nil
}

// MarkVerified records the verification time and activates the account.
func (db *UserDB) MarkVerified(ctx context.Context, id int64, at time.Time) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET email_verified_at = ?, is_active = 1, updated_at = ? WHERE id = ?`,
		at.UTC(), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: verifying user %d: %w", id, err)
	}
	return expectOneRow(res, "user", id)
}

func (db *UserDB) SetActive(ctx context.Context, id int64, active bool) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET is_active = ?, updated_at = ? WHERE id = ?`,
		active, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: setting is_active on user %d: %w", id, err)
	}
	return expectOneRow(res, "user", id)
}

func expectOneRow(res sql.Result, resource string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound(resource, id)
	}
	return nil
}
