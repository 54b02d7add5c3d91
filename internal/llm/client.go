package llm

import (
	"context"
	"errors"
	"fmt"
)

// Client is the interface all language-model providers must implement.
// The orchestrator assumes nothing beyond "text or tool calls", so any
// provider with structured tool-calling semantics is substitutable.
type Client interface {
	// Chat sends a chat completion request with the given tool schemas
	// and returns the response.
	Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}

// TransientError marks a provider failure worth a single retry
// (timeouts, rate limits, 5xx). Everything else fails the turn.
type TransientError struct {
	Err error
}

// Error implements the error interface.
func (e *TransientError) Error() string {
	return fmt.Sprintf("transient provider error: %v", e.Err)
}

// Unwrap exposes the underlying error to errors.Is/As.
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is retryable at the orchestrator level.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
