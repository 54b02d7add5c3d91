// Package taskstore is the task persistence collaborator. The agent
// core never writes tasks directly; all mutation flows through the
// tool registry, which calls this store with the user id pre-bound.
package taskstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// ErrNotFound is returned when a task does not exist or is not owned by
// the requesting user.
var ErrNotFound = errors.New("task not found")

// MaxTitleLen is the maximum task title length in characters.
const MaxTitleLen = 500

// Priority levels, ordered for ranking.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Task statuses.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
)

// Status filters for List.
const (
	FilterAll       = "all"
	FilterPending   = "pending"
	FilterCompleted = "completed"
)

// ValidationError reports a rejected field value. It is a client error:
// retrying the same input will fail the same way.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Task is a single to-do item owned by one user.
type Task struct {
	ID          string     `json:"id"`
	UserID      string     `json:"-"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Priority    string     `json:"priority"`
	Status      string     `json:"status"`
	DueAt       *time.Time `json:"due_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Fields holds the writable task attributes for creation.
type Fields struct {
	Title       string
	Description string
	Priority    string
	DueAt       *time.Time
}

// Changes holds a partial update. Nil pointers leave the field
// untouched; ClearDue removes an existing due date.
type Changes struct {
	Title       *string
	Description *string
	Priority    *string
	DueAt       *time.Time
	ClearDue    bool
}

// Store is the task persistence interface consumed by the tool registry
// and the context loader.
type Store interface {
	// Create validates fields and stores a new pending task.
	Create(ctx context.Context, userID string, fields Fields) (*Task, error)

	// List returns the user's tasks matching the status filter, ranked:
	// priority high→low, then soonest due date (nulls last), then most
	// recent creation. This ordering surfaces what the user most likely
	// means by "the task" in ambiguous references.
	List(ctx context.Context, userID, filter string) ([]Task, error)

	// Get returns a task after verifying ownership.
	Get(ctx context.Context, userID, taskID string) (*Task, error)

	// Update applies a partial update after validating changed fields.
	Update(ctx context.Context, userID, taskID string, changes Changes) (*Task, error)

	// Complete marks a task completed.
	Complete(ctx context.Context, userID, taskID string) (*Task, error)

	// Delete removes a task.
	Delete(ctx context.Context, userID, taskID string) error
}

// ValidateTitle enforces the 1–500 character title contract.
func ValidateTitle(title string) error {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if utf8.RuneCountInString(trimmed) > MaxTitleLen {
		return &ValidationError{Field: "title", Reason: fmt.Sprintf("must be at most %d characters", MaxTitleLen)}
	}
	return nil
}

// ValidatePriority checks the priority enum. Empty defaults to medium
// at creation; explicit values must be one of low, medium, high.
func ValidatePriority(priority string) error {
	switch priority {
	case "", PriorityLow, PriorityMedium, PriorityHigh:
		return nil
	default:
		return &ValidationError{Field: "priority", Reason: "must be one of low, medium, high"}
	}
}

// ValidateFilter checks the status filter enum.
func ValidateFilter(filter string) error {
	switch filter {
	case "", FilterAll, FilterPending, FilterCompleted:
		return nil
	default:
		return &ValidationError{Field: "status", Reason: "must be one of all, pending, completed"}
	}
}
