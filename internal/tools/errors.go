// Package tools provides the tool registry and execution framework.
//
// This file defines the tool error taxonomy. Client errors (bad
// arguments, missing tasks) are returned to the model as structured
// tool results so it can self-correct; store errors are surfaced to the
// orchestrator as execution failures and end the turn.
package tools

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tasklight/tasklight/internal/taskstore"
)

// ErrUnknownTool is returned when a tool call targets a name that is
// not present in the registry. This is a capability mismatch, not a
// transient failure; callers should not retry.
var ErrUnknownTool = errors.New("unknown tool")

// ArgumentError reports a tool argument payload that failed schema
// validation. Arguments are never silently coerced; the model gets the
// reason back and may retry with corrected arguments within the same
// round budget.
type ArgumentError struct {
	Tool   string
	Reason string
}

// Error implements the error interface.
func (e *ArgumentError) Error() string {
	return fmt.Sprintf("tool %s: invalid arguments: %s", e.Tool, e.Reason)
}

// IsClientError reports whether err is caused by model-supplied input
// (malformed arguments, validation failures, unowned task ids) rather
// than by infrastructure. Client errors become tool results; everything
// else fails the turn.
func IsClientError(err error) bool {
	var argErr *ArgumentError
	if errors.As(err, &argErr) {
		return true
	}
	if taskstore.IsValidation(err) {
		return true
	}
	return errors.Is(err, taskstore.ErrNotFound) || errors.Is(err, ErrUnknownTool)
}

// ErrorResult renders a client error as the structured payload returned
// to the model in place of a tool result.
func ErrorResult(err error) json.RawMessage {
	kind := "error"
	switch {
	case errors.Is(err, taskstore.ErrNotFound):
		kind = "not_found"
	case taskstore.IsValidation(err):
		kind = "validation_error"
	default:
		var argErr *ArgumentError
		if errors.As(err, &argErr) {
			kind = "validation_error"
		}
	}

	payload := map[string]any{
		"error": map[string]any{
			"type":    kind,
			"message": err.Error(),
		},
	}
	data, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		return json.RawMessage(`{"error":{"type":"error","message":"internal"}}`)
	}
	return data
}
