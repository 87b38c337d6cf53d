// Package collab defines the contract used to call the external
// code-generation collaborator, with Anthropic and HTTP implementations.
package collab

import (
	"context"
	"errors"
	"fmt"
)

// Request is one task execution sent to a collaborator.
type Request struct {
	TaskID      string `json:"task_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	// Context is the task's private context.
	Context map[string]any `json:"context,omitempty"`
	// Shared is the shared context snapshot taken when the phase started.
	// Each call gets its own copy.
	Shared map[string]any `json:"shared,omitempty"`
	// PriorFailure holds the previous attempt's error on a retry.
	PriorFailure string `json:"prior_failure,omitempty"`
	// Attempt is 1 for the first call.
	Attempt int `json:"attempt"`
}

// Response is a successful collaborator reply.
type Response struct {
	Output string `json:"output"`
	// Context holds keys the collaborator wants merged into the shared context.
	Context map[string]any `json:"context,omitempty"`
}

// Collaborator performs a task's work. Implementations must return promptly
// once ctx is done.
type Collaborator interface {
	Call(ctx context.Context, req Request) (Response, error)
}

// Func adapts a function to the Collaborator interface.
type Func func(ctx context.Context, req Request) (Response, error)

// Call calls f.
func (f Func) Call(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// Error is a collaborator-reported failure.
type Error struct {
	Message   string
	Retryable bool
	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable wraps err as a retryable failure.
func Retryable(msg string, err error) *Error {
	return &Error{Message: msg, Retryable: true, Err: err}
}

// Permanent wraps err as a non-retryable failure.
func Permanent(msg string, err error) *Error {
	return &Error{Message: msg, Err: err}
}

// IsRetryable classifies a collaborator error. A timeout is retryable and
// a cancellation is not. Errors of unknown type are retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return true
}
