package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sakif/task-manager/internal/apperror"
	"github.com/sakif/task-manager/internal/model"
	"github.com/sakif/task-manager/internal/repository"
)

// compile-time check that *DB implements repository.TaskRepository
var _ repository.TaskRepository = (*DB)(nil)

const taskColumns = `id, title, description, is_completed, is_archived, completed_comment,
	created_at, updated_at, parent_id, user_id`

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (*model.Task, error) {
	var (
		t              model.Task
		parent, userID sql.NullInt64
	)
	err := s.Scan(
		&t.ID,
		&t.Title,
		&t.Description,
		&t.IsCompleted,
		&t.IsArchived,
		&t.CompletedComment,
		&t.CreatedAt,
		&t.UpdatedAt,
		&parent,
		&userID,
	)
	if err != nil {
		return nil, err
	}
	t.ParentID = int64Ptr(parent)
	t.UserID = int64Ptr(userID)
	return &t, nil
}

// Create inserts a task and fills in ID and both timestamps.
// New tasks always start open.
func (db *DB) Create(ctx context.Context, task *model.Task) error {
	now := time.Now().UTC()

	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO tasks (title, description, is_completed, is_archived, completed_comment,
			created_at, updated_at, parent_id, user_id)
		 VALUES (?, ?, 0, ?, ?, ?, ?, ?, ?)`,
		task.Title,
		task.Description,
		task.IsArchived,
		task.CompletedComment,
		now,
		now,
		nullInt64(task.ParentID),
		nullInt64(task.UserID),
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting task: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: reading task id: %w", err)
	}

	task.ID = id
	task.IsCompleted = false
	task.CreatedAt = now
	task.UpdatedAt = now
	return nil
}

// GetByID returns apperror.ErrNotFound if no task has that id.
func (db *DB) GetByID(ctx context.Context, id int64) (*model.Task, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)

	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("task", id)
		}
		return nil, fmt.Errorf("sqlite: getting task %d: %w", id, err)
	}
	return t, nil
}

// List returns the tasks matching filter, newest first.
// Always returns a non-nil slice so JSON encodes [] instead of null.
func (db *DB) List(ctx context.Context, filter model.TaskFilter) ([]model.Task, error) {
	query, args := buildTaskQuery(filter)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing tasks: %w", err)
	}
	defer rows.Close()

	tasks := []model.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning task row: %w", err)
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating task rows: %w", err)
	}

	return tasks, nil
}

// buildTaskQuery turns a filter into SQL. Only fixed clause text is
// concatenated; every user-supplied value travels as a bound argument.
func buildTaskQuery(f model.TaskFilter) (string, []any) {
	var (
		where []string
		args  []any
	)

	if f.Keyword != "" {
		pattern := "%" + escapeLike(strings.ToLower(f.Keyword)) + "%"
		where = append(where,
			`(casefold(title) LIKE ? ESCAPE '\' OR casefold(completed_comment) LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}
	if v, ok := f.Completed.Value(); ok {
		where = append(where, "is_completed = ?")
		args = append(args, v)
	}
	if v, ok := f.Archived.Value(); ok {
		where = append(where, "is_archived = ?")
		args = append(args, v)
	}
	if f.OwnerID != nil {
		where = append(where, "user_id = ?")
		args = append(args, *f.OwnerID)
	}
	switch {
	case f.ParentID != nil:
		where = append(where, "parent_id = ?")
		args = append(args, *f.ParentID)
	case f.RootsOnly:
		where = append(where, "parent_id IS NULL")
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(taskColumns)
	b.WriteString(" FROM tasks")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	// id breaks ties between tasks created in the same instant.
	b.WriteString(" ORDER BY created_at DESC, id DESC")

	return b.String(), args
}

// escapeLike escapes the LIKE wildcards so a keyword such as "50%" matches
// literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// Update writes the editable fields and refreshes updated_at.
func (db *DB) Update(ctx context.Context, task *model.Task) error {
	now := time.Now().UTC()

	res, err := db.conn.ExecContext(ctx,
		`UPDATE tasks SET title = ?, description = ?, is_archived = ?, completed_comment = ?,
			updated_at = ?
		 WHERE id = ?`,
		task.Title,
		task.Description,
		task.IsArchived,
		task.CompletedComment,
		now,
		task.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating task %d: %w", task.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("task", task.ID)
	}

	task.UpdatedAt = now
	return nil
}

// Delete removes the task and every descendant in one transaction.
//
// The recursive CTE collects the whole subtree first, so the result does not
// depend on the foreign key PRAGMA being enabled.
func (db *DB) Delete(ctx context.Context, id int64) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning delete of task %d: %w", id, err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE id = ?`, id,
	).Scan(&exists); err != nil {
		return fmt.Errorf("sqlite: checking task %d: %w", id, err)
	}
	if exists == 0 {
		return apperror.NotFound("task", id)
	}

	_, err = tx.ExecContext(ctx, `
		WITH RECURSIVE subtree(id) AS (
			SELECT id FROM tasks WHERE id = ?
			UNION ALL
			SELECT t.id FROM tasks t JOIN subtree s ON t.parent_id = s.id
		)
		DELETE FROM tasks WHERE id IN (SELECT id FROM subtree)`,
		id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: deleting task %d: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing delete of task %d: %w", id, err)
	}
	return nil
}

// Complete applies the completion guard and the state change in a single
// UPDATE, so no subtask can be reopened between the check and the write.
// Only when that UPDATE touches nothing do we look closer, inside the same
// transaction, to tell "no such task" from "blocked by open subtasks".
func (db *DB) Complete(ctx context.Context, id int64, comment string) (int, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: beginning completion of task %d: %w", id, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE tasks
		 SET is_completed = 1,
		     completed_comment = COALESCE(NULLIF(?, ''), completed_comment),
		     updated_at = ?
		 WHERE id = ?
		   AND NOT EXISTS (
		       SELECT 1 FROM tasks c WHERE c.parent_id = tasks.id AND c.is_completed = 0
		   )`,
		comment,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: completing task %d: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 1 {
		if err := tx.Commit(); err != nil {
			return 0, fmt.Errorf("sqlite: committing completion of task %d: %w", id, err)
		}
		return 0, nil
	}

	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE id = ?`, id,
	).Scan(&exists); err != nil {
		return 0, fmt.Errorf("sqlite: checking task %d: %w", id, err)
	}
	if exists == 0 {
		return 0, apperror.NotFound("task", id)
	}

	var open int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE parent_id = ? AND is_completed = 0`, id,
	).Scan(&open); err != nil {
		return 0, fmt.Errorf("sqlite: counting open subtasks of %d: %w", id, err)
	}
	return open, nil
}

// Reopen clears the completed flag. The comment is kept.
func (db *DB) Reopen(ctx context.Context, id int64) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE tasks SET is_completed = 0, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: reopening task %d: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("task", id)
	}
	return nil
}
