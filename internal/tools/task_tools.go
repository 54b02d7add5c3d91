package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tasklight/tasklight/internal/taskstore"
)

// TaskAPI is the slice of the task store the tools need. Defined here
// for testability.
type TaskAPI interface {
	Create(ctx context.Context, userID string, fields taskstore.Fields) (*taskstore.Task, error)
	List(ctx context.Context, userID, filter string) ([]taskstore.Task, error)
	Update(ctx context.Context, userID, taskID string, changes taskstore.Changes) (*taskstore.Task, error)
	Complete(ctx context.Context, userID, taskID string) (*taskstore.Task, error)
	Delete(ctx context.Context, userID, taskID string) error
}

// Due dates accept a full timestamp or a bare date.
var dueDateFormats = []string{time.RFC3339, "2006-01-02"}

func parseDueDate(tool, value string) (*time.Time, error) {
	for _, format := range dueDateFormats {
		if t, err := time.Parse(format, value); err == nil {
			utc := t.UTC()
			return &utc, nil
		}
	}
	return nil, &ArgumentError{Tool: tool, Reason: fmt.Sprintf("due_date %q is not RFC3339 or YYYY-MM-DD", value)}
}

// decodeArgs unmarshals the model's argument payload strictly: unknown
// fields are rejected rather than ignored, so a misspelled argument
// surfaces as a correctable error instead of being dropped.
func decodeArgs(tool string, raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &ArgumentError{Tool: tool, Reason: err.Error()}
	}
	return nil
}

func registerTaskTools(r *Registry, tasks TaskAPI) {
	r.register(&Tool{
		Name:        "create_task",
		Description: "Create a new task on the user's to-do list.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title": map[string]any{
					"type":        "string",
					"description": "Short task title (1-500 characters)",
				},
				"description": map[string]any{
					"type":        "string",
					"description": "Optional longer description",
				},
				"priority": map[string]any{
					"type":        "string",
					"enum":        []string{"low", "medium", "high"},
					"description": "Task priority (default medium)",
				},
				"due_date": map[string]any{
					"type":        "string",
					"description": "Optional due date, RFC3339 or YYYY-MM-DD",
				},
			},
			"required": []string{"title"},
		},
		Handler: func(ctx context.Context, userID string, raw json.RawMessage) (any, error) {
			var args struct {
				Title       string `json:"title"`
				Description string `json:"description"`
				Priority    string `json:"priority"`
				DueDate     string `json:"due_date"`
			}
			if err := decodeArgs("create_task", raw, &args); err != nil {
				return nil, err
			}

			fields := taskstore.Fields{
				Title:       args.Title,
				Description: args.Description,
				Priority:    args.Priority,
			}
			if args.DueDate != "" {
				due, err := parseDueDate("create_task", args.DueDate)
				if err != nil {
					return nil, err
				}
				fields.DueAt = due
			}

			task, err := tasks.Create(ctx, userID, fields)
			if err != nil {
				return nil, err
			}
			return map[string]any{"created": true, "task": task}, nil
		},
	})

	r.register(&Tool{
		Name:        "list_tasks",
		Description: "List the user's tasks, optionally filtered by status. Tasks are ordered by priority, then due date, then recency.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"status": map[string]any{
					"type":        "string",
					"enum":        []string{"all", "pending", "completed"},
					"description": "Status filter (default all)",
				},
			},
		},
		Handler: func(ctx context.Context, userID string, raw json.RawMessage) (any, error) {
			var args struct {
				Status string `json:"status"`
			}
			if err := decodeArgs("list_tasks", raw, &args); err != nil {
				return nil, err
			}

			list, err := tasks.List(ctx, userID, args.Status)
			if err != nil {
				return nil, err
			}
			if list == nil {
				list = []taskstore.Task{}
			}
			return map[string]any{"tasks": list, "count": len(list)}, nil
		},
	})

	r.register(&Tool{
		Name:        "complete_task",
		Description: "Mark a task as completed.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task_id": map[string]any{
					"type":        "string",
					"description": "The id of the task to complete",
				},
			},
			"required": []string{"task_id"},
		},
		Handler: func(ctx context.Context, userID string, raw json.RawMessage) (any, error) {
			var args struct {
				TaskID string `json:"task_id"`
			}
			if err := decodeArgs("complete_task", raw, &args); err != nil {
				return nil, err
			}
			if args.TaskID == "" {
				return nil, &ArgumentError{Tool: "complete_task", Reason: "task_id is required"}
			}

			task, err := tasks.Complete(ctx, userID, args.TaskID)
			if err != nil {
				return nil, err
			}
			return map[string]any{"task_id": task.ID, "status": task.Status}, nil
		},
	})

	r.register(&Tool{
		Name:        "update_task",
		Description: "Update fields of an existing task. Only the supplied fields change.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task_id": map[string]any{
					"type":        "string",
					"description": "The id of the task to update",
				},
				"title": map[string]any{
					"type":        "string",
					"description": "New title (1-500 characters)",
				},
				"description": map[string]any{
					"type":        "string",
					"description": "New description",
				},
				"priority": map[string]any{
					"type":        "string",
					"enum":        []string{"low", "medium", "high"},
					"description": "New priority",
				},
				"due_date": map[string]any{
					"type":        "string",
					"description": "New due date (RFC3339 or YYYY-MM-DD), or \"none\" to clear",
				},
			},
			"required": []string{"task_id"},
		},
		Handler: func(ctx context.Context, userID string, raw json.RawMessage) (any, error) {
			var args struct {
				TaskID      string  `json:"task_id"`
				Title       *string `json:"title"`
				Description *string `json:"description"`
				Priority    *string `json:"priority"`
				DueDate     *string `json:"due_date"`
			}
			if err := decodeArgs("update_task", raw, &args); err != nil {
				return nil, err
			}
			if args.TaskID == "" {
				return nil, &ArgumentError{Tool: "update_task", Reason: "task_id is required"}
			}

			changes := taskstore.Changes{
				Title:       args.Title,
				Description: args.Description,
				Priority:    args.Priority,
			}
			if args.DueDate != nil {
				if *args.DueDate == "none" || *args.DueDate == "" {
					changes.ClearDue = true
				} else {
					due, err := parseDueDate("update_task", *args.DueDate)
					if err != nil {
						return nil, err
					}
					changes.DueAt = due
				}
			}

			task, err := tasks.Update(ctx, userID, args.TaskID, changes)
			if err != nil {
				return nil, err
			}
			return map[string]any{"updated": true, "task": task}, nil
		},
	})

	r.register(&Tool{
		Name:        "delete_task",
		Description: "Delete a task permanently.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task_id": map[string]any{
					"type":        "string",
					"description": "The id of the task to delete",
				},
			},
			"required": []string{"task_id"},
		},
		Handler: func(ctx context.Context, userID string, raw json.RawMessage) (any, error) {
			var args struct {
				TaskID string `json:"task_id"`
			}
			if err := decodeArgs("delete_task", raw, &args); err != nil {
				return nil, err
			}
			if args.TaskID == "" {
				return nil, &ArgumentError{Tool: "delete_task", Reason: "task_id is required"}
			}

			if err := tasks.Delete(ctx, userID, args.TaskID); err != nil {
				return nil, err
			}
			return map[string]any{"task_id": args.TaskID, "deleted": true}, nil
		},
	})
}
