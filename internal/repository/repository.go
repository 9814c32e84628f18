// Package repository declares the storage interfaces the service layer
// depends on. internal/repository/sqlite provides the implementation; the
// service tests use in-memory fakes.
package repository

import (
	"context"
	"time"

	"github.com/sakif/task-manager/internal/model"
)

// TaskRepository persists tasks.
//
// Lookups of a missing id return an error wrapping apperror.ErrNotFound.
type TaskRepository interface {
	Create(ctx context.Context, task *model.Task) error
	GetByID(ctx context.Context, id int64) (*model.Task, error)
	List(ctx context.Context, filter model.TaskFilter) ([]model.Task, error)

	// Update writes the editable fields (title, description, archived flag,
	// completion comment). It never changes completion state or parent.
	Update(ctx context.Context, task *model.Task) error

	// Delete removes the task and all of its descendants.
	Delete(ctx context.Context, id int64) error

	// Complete marks the task completed only if none of its direct subtasks
	// is open. When subtasks block it, nothing is written and the number of
	// open subtasks is returned. An empty comment keeps the stored one.
	Complete(ctx context.Context, id int64, comment string) (openSubtasks int, err error)

	// Reopen marks the task open. Reopening an open task is not an error.
	Reopen(ctx context.Context, id int64) error
}

// UserRepository persists user accounts.
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id int64) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	MarkVerified(ctx context.Context, id int64, at time.Time) error
	SetActive(ctx context.Context, id int64, active bool) error
}
