// Package service contains the business rules. Handlers call into it with
// plain values (the caller's user id is always an explicit argument) and get
// back models or *apperror.AppError values; storage goes through the
// repository interfaces.
//
//	TaskHandler (HTTP) → TaskService (rules) → repository.TaskRepository (DB)
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/sakif/task-manager/internal/apperror"
	"github.com/sakif/task-manager/internal/metrics"
	"github.com/sakif/task-manager/internal/model"
	"github.com/sakif/task-manager/internal/repository"
)

const (
	MaxTitleLength   = 200
	MaxCommentLength = 200
)

// TaskService owns the task rules: validation, ownership scoping and the
// completion guard.
//
// OWNERSHIP:
// Every method takes the id of the user acting. A task owned by someone else
// is reported as not found, never as forbidden, so ids of other users' tasks
// cannot be probed. ListAll is the only unscoped entry point and is meant for
// admins and the CLI.
type TaskService struct {
	tasks  repository.TaskRepository
	logger *slog.Logger
}

func NewTaskService(tasks repository.TaskRepository, logger *slog.Logger) *TaskService {
	return &TaskService{tasks: tasks, logger: logger}
}

// TaskInput carries the user-editable fields for Create and Update.
// ParentID is only read by Create; a task cannot be moved once created.
type TaskInput struct {
	Title            string
	Description      string
	ParentID         *int64
	IsArchived       bool
	CompletedComment string
}

// TaskDetail is a task together with its direct subtasks (newest first).
type TaskDetail struct {
	Task                  *model.Task
	Subtasks              []model.Task
	HasIncompleteSubtasks bool
}

func validateTaskInput(in *TaskInput) error {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return apperror.ValidationFailed("title", "title is required")
	}
	if utf8.RuneCountInString(in.Title) > MaxTitleLength {
		return apperror.ValidationFailed("title",
			fmt.Sprintf("title must be %d characters or fewer", MaxTitleLength))
	}
	return validateComment(in.CompletedComment)
}

func validateComment(comment string) error {
	if utf8.RuneCountInString(comment) > MaxCommentLength {
		return apperror.ValidationFailed("completed_comment",
			fmt.Sprintf("comment must be %d characters or fewer", MaxCommentLength))
	}
	return nil
}

// Create adds a task owned by ownerID. When ParentID is set the parent must
// exist and belong to the same owner.
func (s *TaskService) Create(ctx context.Context, ownerID int64, in TaskInput) (*model.Task, error) {
	if ownerID <= 0 {
		return nil, errors.New("service/task: owner id must be set")
	}
	if err := validateTaskInput(&in); err != nil {
		return nil, err
	}

	if in.ParentID != nil {
		parent, err := s.tasks.GetByID(ctx, *in.ParentID)
		if err != nil && !errors.Is(err, apperror.ErrNotFound) {
			return nil, fmt.Errorf("service/task: loading parent %d: %w", *in.ParentID, err)
		}
		if err != nil || !parent.OwnedBy(ownerID) {
			return nil, apperror.ValidationFailed("parent_id", "parent task does not exist")
		}
	}

	task := &model.Task{
		Title:            in.Title,
		Description:      in.Description,
		IsArchived:       in.IsArchived,
		CompletedComment: strings.TrimSpace(in.CompletedComment),
		ParentID:         in.ParentID,
		UserID:           &ownerID,
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("service/task: creating task: %w", err)
	}

	metrics.TasksCreatedTotal.Inc()
	s.logger.Info("task created",
		slog.Int64("id", task.ID),
		slog.Int64("owner", ownerID),
		slog.Bool("subtask", task.ParentID != nil),
	)
	return task, nil
}

// getOwned loads a task and hides it unless ownerID owns it.
func (s *TaskService) getOwned(ctx context.Context, ownerID, id int64) (*model.Task, error) {
	task, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !task.OwnedBy(ownerID) {
		return nil, apperror.NotFound("task", id)
	}
	return task, nil
}

func (s *TaskService) Get(ctx context.Context, ownerID, id int64) (*model.Task, error) {
	task, err := s.getOwned(ctx, ownerID, id)
	if err != nil {
		return nil, fmt.Errorf("service/task: getting task %d: %w", id, err)
	}
	return task, nil
}

// List returns ownerID's tasks matching filter. Any OwnerID already in the
// filter is overridden.
func (s *TaskService) List(ctx context.Context, ownerID int64, filter model.TaskFilter) ([]model.Task, error) {
	filter.OwnerID = &ownerID
	return s.ListAll(ctx, filter)
}

// ListAll applies filter without ownership scoping.
func (s *TaskService) ListAll(ctx context.Context, filter model.TaskFilter) ([]model.Task, error) {
	tasks, err := s.tasks.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("service/task: listing tasks: %w", err)
	}
	return tasks, nil
}

// Subtasks returns the direct subtasks of one of ownerID's tasks.
func (s *TaskService) Subtasks(ctx context.Context, ownerID, id int64) ([]model.Task, error) {
	if _, err := s.getOwned(ctx, ownerID, id); err != nil {
		return nil, fmt.Errorf("service/task: getting task %d: %w", id, err)
	}
	return s.List(ctx, ownerID, model.TaskFilter{ParentID: &id})
}

// Detail bundles a task with its subtasks for the detail page.
func (s *TaskService) Detail(ctx context.Context, ownerID, id int64) (*TaskDetail, error) {
	task, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	subtasks, err := s.List(ctx, ownerID, model.TaskFilter{ParentID: &id})
	if err != nil {
		return nil, err
	}

	d := &TaskDetail{Task: task, Subtasks: subtasks}
	for _, st := range subtasks {
		if !st.IsCompleted {
			d.HasIncompleteSubtasks = true
			break
		}
	}
	return d, nil
}

// Update edits title, description, archived flag and comment. Completion
// state only changes through Complete and Reopen.
func (s *TaskService) Update(ctx context.Context, ownerID, id int64, in TaskInput) (*model.Task, error) {
	if err := validateTaskInput(&in); err != nil {
		return nil, err
	}

	task, err := s.getOwned(ctx, ownerID, id)
	if err != nil {
		return nil, fmt.Errorf("service/task: getting task %d: %w", id, err)
	}

	task.Title = in.Title
	task.Description = in.Description
	task.IsArchived = in.IsArchived
	task.CompletedComment = strings.TrimSpace(in.CompletedComment)

	if err := s.tasks.Update(ctx, task); err != nil {
		return nil, fmt.Errorf("service/task: updating task %d: %w", id, err)
	}

	s.logger.Info("task updated", slog.Int64("id", id), slog.Bool("archived", task.IsArchived))
	return task, nil
}

// Delete removes the task and its whole subtree.
func (s *TaskService) Delete(ctx context.Context, ownerID, id int64) error {
	if _, err := s.getOwned(ctx, ownerID, id); err != nil {
		return fmt.Errorf("service/task: getting task %d: %w", id, err)
	}
	if err := s.tasks.Delete(ctx, id); err != nil {
		return fmt.Errorf("service/task: deleting task %d: %w", id, err)
	}

	metrics.TasksDeletedTotal.Inc()
	s.logger.Info("task deleted", slog.Int64("id", id), slog.Int64("owner", ownerID))
	return nil
}

// Complete marks the task done. It fails with a validation error on field
// "subtasks" while any direct subtask is still open, leaving the task as it
// was. An empty comment keeps the previously stored comment.
func (s *TaskService) Complete(ctx context.Context, ownerID, id int64, comment string) (*model.Task, error) {
	comment = strings.TrimSpace(comment)
	if err := validateComment(comment); err != nil {
		return nil, err
	}
	if _, err := s.getOwned(ctx, ownerID, id); err != nil {
		return nil, fmt.Errorf("service/task: getting task %d: %w", id, err)
	}

	open, err := s.tasks.Complete(ctx, id, comment)
	if err != nil {
		return nil, fmt.Errorf("service/task: completing task %d: %w", id, err)
	}
	if open > 0 {
		metrics.TaskTransitionsTotal.WithLabelValues("complete", "blocked").Inc()
		s.logger.Info("task completion blocked",
			slog.Int64("id", id),
			slog.Int("open_subtasks", open),
		)
		return nil, apperror.ValidationFailed("subtasks",
			fmt.Sprintf("cannot complete task: %d subtask(s) still open", open))
	}

	metrics.TaskTransitionsTotal.WithLabelValues("complete", "ok").Inc()
	s.logger.Info("task completed", slog.Int64("id", id))

	task, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/task: reloading task %d: %w", id, err)
	}
	return task, nil
}

// Reopen marks the task open again. It always succeeds for an owned task,
// whatever the state of its subtasks or parent.
func (s *TaskService) Reopen(ctx context.Context, ownerID, id int64) (*model.Task, error) {
	if _, err := s.getOwned(ctx, ownerID, id); err != nil {
		return nil, fmt.Errorf("service/task: getting task %d: %w", id, err)
	}
	if err := s.tasks.Reopen(ctx, id); err != nil {
		return nil, fmt.Errorf("service/task: reopening task %d: %w", id, err)
	}

	metrics.TaskTransitionsTotal.WithLabelValues("reopen", "ok").Inc()
	s.logger.Info("task reopened", slog.Int64("id", id))

	task, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/task: reloading task %d: %w", id, err)
	}
	return task, nil
}
