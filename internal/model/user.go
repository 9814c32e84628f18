// Package model defines the data structures used throughout the application.
package model

import (
	"strings"
	"time"
)

// User represents a registered account.
//
// Email is the login identifier. It is stored normalized (see NormalizeEmail)
// and the users table enforces uniqueness case-insensitively.
//
// The four flags are independent of each other. IsActive gates login;
// accounts are deactivated rather than deleted so their tasks survive.
//
// WHY *time.Time FOR EmailVerifiedAt?
// "Not verified yet" is a real state, distinct from any timestamp. A nil
// pointer maps to SQL NULL and to JSON null without a sentinel value.
type User struct {
	ID              int64      `json:"id"                db:"id"`
	Email           string     `json:"email"             db:"email"`
	Nickname        string     `json:"nickname"          db:"nickname"`
	FirstName       string     `json:"first_name"        db:"first_name"`
	LastName        string     `json:"last_name"         db:"last_name"`
	PasswordHash    string     `json:"-"                 db:"password_hash"`
	IsAdmin         bool       `json:"is_admin"          db:"is_admin"`
	CanEdit         bool       `json:"can_edit"          db:"can_edit"`
	IsActive        bool       `json:"is_active"         db:"is_active"`
	IsStaff         bool       `json:"is_staff"          db:"is_staff"`
	EmailVerifiedAt *time.Time `json:"email_verified_at" db:"email_verified_at"`
	CreatedAt       time.Time  `json:"created_at"        db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"        db:"updated_at"`
}

// DisplayName returns the nickname if set, otherwise "last first",
// otherwise the email address.
func (u *User) DisplayName() string {
	if n := strings.TrimSpace(u.Nickname); n != "" {
		return n
	}
	if full := strings.TrimSpace(u.LastName + " " + u.FirstName); full != "" {
		return full
	}
	return u.Email
}

// IsVerified reports whether the user has confirmed their email address.
func (u *User) IsVerified() bool {
	return u.EmailVerifiedAt != nil
}

// NormalizeEmail trims surrounding whitespace and lower-cases the address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
