package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrUnknownOperation is recorded for operations with no registered handler.
	ErrUnknownOperation = errors.New("unknown operation type")

	// ErrTooManyOperations is returned when a request exceeds the operation limit.
	ErrTooManyOperations = errors.New("too many operations")

	// ErrNoOperations is returned for a request without an operations list.
	ErrNoOperations = errors.New("operations list is required")

	// ErrDuplicateHandler is returned when registering a type twice.
	ErrDuplicateHandler = errors.New("handler already registered")
)

// Operation is one item of a batch request.
type Operation struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Request is the body of a batch call.
type Request struct {
	Operations []Operation `json:"operations"`
}

// OperationResult is the outcome of one operation. Exactly one of Result and
// Error is meaningful, selected by Success.
type OperationResult struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ErrorEntry pinpoints a failed operation.
type ErrorEntry struct {
	Index     int       `json:"index"`
	Operation Operation `json:"operation"`
	Error     string    `json:"error"`
}

// Result is the aggregate report of a batch. Results has one entry per
// submitted operation, in submission order.
type Result struct {
	Results    []OperationResult `json:"results"`
	ErrorCount int               `json:"error_count"`
	Errors     []ErrorEntry      `json:"errors"`
}

// HandlerFunc executes one operation type.
type HandlerFunc func(ctx context.Context, data json.RawMessage) (any, error)

// OperationError is the failure of a single operation.
type OperationError struct {
	Index int
	Type  string
	Err   error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("operation %d (%s): %v", e.Index, e.Type, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

type identityKey struct{}

// WithIdentity attaches the calling subscriber identity to ctx.
func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFrom returns the subscriber identity attached by WithIdentity.
func IdentityFrom(ctx context.Context) string {
	identity, _ := ctx.Value(identityKey{}).(string)
	return identity
}
