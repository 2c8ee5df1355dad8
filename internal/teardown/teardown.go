// Package teardown deletes everything a customer owns when their account is
// closed. The three sweepers are independent steps of the account deletion
// workflow and each is best effort: partial counts are returned and nothing
// is rolled back.
package teardown

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/siftbeam/upload-pipeline/internal/domain"
)

// Event is the input of every sweeper.
type Event struct {
	CustomerID  string `json:"customerId"`
	ExecutionID string `json:"executionId,omitempty"`
}

// Validate checks the event names a customer.
func (e Event) Validate() error {
	if e.CustomerID == "" {
		return domain.NewValidationError("customerId is required")
	}
	return nil
}

func (e Event) executionID() string {
	if e.ExecutionID == "" {
		return "unknown"
	}
	return e.ExecutionID
}

// Failure is returned to the workflow when a sweeper cannot run at all.
type Failure struct {
	StatusCode int    `json:"statusCode"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

// NewFailure builds a Failure for err.
func NewFailure(message string, err error) *Failure {
	return &Failure{StatusCode: http.StatusInternalServerError, Error: err.Error(), Message: message}
}

// Handle adapts a sweep to raw workflow events. Events that cannot be decoded
// and sweeps that fail are reported as a Failure with message instead of
// failing the invocation.
func Handle[R any](message string, sweep func(context.Context, Event) (R, error)) func(context.Context, json.RawMessage) (any, error) {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var e Event
		if err := json.Unmarshal(raw, &e); err != nil {
			return NewFailure(message, domain.NewValidationError("invalid event: %v", err)), nil
		}
		result, err := sweep(ctx, e)
		if err != nil {
			return NewFailure(message, err), nil
		}
		return result, nil
	}
}
