package taskstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SQLiteStore is a SQLite-backed task store with an injected *sql.DB,
// mirroring the conversation store's driver split between production
// and tests.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a task store, running migrations on first use.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate taskstore: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id           TEXT PRIMARY KEY,
		user_id      TEXT NOT NULL,
		title        TEXT NOT NULL,
		description  TEXT NOT NULL DEFAULT '',
		priority     TEXT NOT NULL DEFAULT 'medium',
		status       TEXT NOT NULL DEFAULT 'pending',
		due_at       TIMESTAMP,
		created_at   TIMESTAMP NOT NULL,
		updated_at   TIMESTAMP NOT NULL,
		completed_at TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_user_status ON tasks(user_id, status);
	`
	_, err := s.db.Exec(schema)
	return err
}

// rankedOrder sorts by explicit priority, then soonest due date with
// nulls last, then most recent creation.
const rankedOrder = `
	ORDER BY
		CASE priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END,
		due_at IS NULL,
		due_at ASC,
		created_at DESC
`

// Create validates fields and stores a new pending task.
func (s *SQLiteStore) Create(ctx context.Context, userID string, fields Fields) (*Task, error) {
	if err := ValidateTitle(fields.Title); err != nil {
		return nil, err
	}
	if err := ValidatePriority(fields.Priority); err != nil {
		return nil, err
	}

	priority := fields.Priority
	if priority == "" {
		priority = PriorityMedium
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate task id: %w", err)
	}

	now := time.Now().UTC()
	task := &Task{
		ID:          id.String(),
		UserID:      userID,
		Title:       strings.TrimSpace(fields.Title),
		Description: fields.Description,
		Priority:    priority,
		Status:      StatusPending,
		DueAt:       fields.DueAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, user_id, title, description, priority, status, due_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, task.ID, task.UserID, task.Title, task.Description, task.Priority, task.Status, task.DueAt, task.CreatedAt, task.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}

	return task, nil
}

// List returns the user's tasks matching the status filter in ranked order.
func (s *SQLiteStore) List(ctx context.Context, userID, filter string) ([]Task, error) {
	if err := ValidateFilter(filter); err != nil {
		return nil, err
	}

	query := `
		SELECT id, user_id, title, description, priority, status, due_at, created_at, updated_at, completed_at
		FROM tasks
		WHERE user_id = ?`
	args := []any{userID}

	switch filter {
	case FilterPending:
		query += ` AND status = ?`
		args = append(args, StatusPending)
	case FilterCompleted:
		query += ` AND status = ?`
		args = append(args, StatusCompleted)
	}
	query += rankedOrder

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// Get returns a task after verifying ownership. The user_id predicate
// is part of the query, so foreign tasks read as missing.
func (s *SQLiteStore) Get(ctx context.Context, userID, taskID string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, description, priority, status, due_at, created_at, updated_at, completed_at
		FROM tasks
		WHERE id = ? AND user_id = ?
	`, taskID, userID)

	task, err := scanTaskRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// Update applies a partial update after validating changed fields.
func (s *SQLiteStore) Update(ctx context.Context, userID, taskID string, changes Changes) (*Task, error) {
	task, err := s.Get(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}

	if changes.Title != nil {
		if err := ValidateTitle(*changes.Title); err != nil {
			return nil, err
		}
		task.Title = strings.TrimSpace(*changes.Title)
	}
	if changes.Description != nil {
		task.Description = *changes.Description
	}
	if changes.Priority != nil {
		if err := ValidatePriority(*changes.Priority); err != nil {
			return nil, err
		}
		if *changes.Priority != "" {
			task.Priority = *changes.Priority
		}
	}
	if changes.ClearDue {
		task.DueAt = nil
	} else if changes.DueAt != nil {
		task.DueAt = changes.DueAt
	}
	task.UpdatedAt = time.Now().UTC()

	_, err = s.db.ExecContext(ctx, `
		UPDATE tasks
		SET title = ?, description = ?, priority = ?, due_at = ?, updated_at = ?
		WHERE id = ? AND user_id = ?
	`, task.Title, task.Description, task.Priority, task.DueAt, task.UpdatedAt, taskID, userID)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}

	return task, nil
}

// Complete marks a task completed. Completing an already-completed task
// is a no-op that returns the current snapshot.
func (s *SQLiteStore) Complete(ctx context.Context, userID, taskID string) (*Task, error) {
	task, err := s.Get(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status == StatusCompleted {
		return task, nil
	}

	now := time.Now().UTC()
	task.Status = StatusCompleted
	task.CompletedAt = &now
	task.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND user_id = ?
	`, task.Status, task.CompletedAt, task.UpdatedAt, taskID, userID)
	if err != nil {
		return nil, fmt.Errorf("complete task: %w", err)
	}

	return task, nil
}

// Delete removes a task.
func (s *SQLiteStore) Delete(ctx context.Context, userID, taskID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM tasks WHERE id = ? AND user_id = ?
	`, taskID, userID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(rows *sql.Rows) (Task, error) {
	task, err := scanTaskRow(rows)
	if err != nil {
		return Task{}, fmt.Errorf("scan task: %w", err)
	}
	return *task, nil
}

func scanTaskRow(row rowScanner) (*Task, error) {
	var task Task
	var dueAt, completedAt sql.NullTime
	err := row.Scan(&task.ID, &task.UserID, &task.Title, &task.Description,
		&task.Priority, &task.Status, &dueAt, &task.CreatedAt, &task.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if dueAt.Valid {
		task.DueAt = &dueAt.Time
	}
	if completedAt.Valid {
		task.CompletedAt = &completedAt.Time
	}
	return &task, nil
}
