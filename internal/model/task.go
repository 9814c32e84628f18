package model

import "time"

// Task is a unit of work owned by a user. Tasks form a tree through ParentID:
// a task with a nil ParentID is a root task, anything else is a subtask.
//
// The JSON tags are the API wire format, so they are snake_case and every
// field is always present (nullable references serialize as null).
//
// CompletedComment only carries meaning while IsCompleted is true. Reopening
// keeps the old comment around so completing again can show it.
type Task struct {
	ID               int64     `json:"id"                db:"id"`
	Title            string    `json:"title"             db:"title"`
	Description      string    `json:"description"       db:"description"`
	IsCompleted      bool      `json:"is_completed"      db:"is_completed"`
	IsArchived       bool      `json:"is_archived"       db:"is_archived"`
	CompletedComment string    `json:"completed_comment" db:"completed_comment"`
	CreatedAt        time.Time `json:"created_at"        db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"        db:"updated_at"`
	ParentID         *int64    `json:"parent_id"         db:"parent_id"`
	UserID           *int64    `json:"user_id"           db:"user_id"`
}

// IsRoot reports whether the task has no parent.
func (t *Task) IsRoot() bool {
	return t.ParentID == nil
}

// OwnedBy reports whether userID owns the task.
func (t *Task) OwnedBy(userID int64) bool {
	return t.UserID != nil && *t.UserID == userID
}
