package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists signals a duplicate resource.
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvalidInput signals a malformed request payload.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidRule signals a rule whose conditions or actions do not validate.
	ErrInvalidRule = errors.New("invalid rule")
	// ErrVectorDimMismatch signals a vector dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")

	// ErrTenantRequired signals a request without an organization scope.
	ErrTenantRequired = errors.New("organization id is required")
	// ErrCrossTenantAccess signals that data of another organization surfaced in a scoped read.
	ErrCrossTenantAccess = errors.New("cross-tenant access attempt")

	// ErrRateLimited signals a rate limit hit.
	ErrRateLimited = errors.New("rate limited")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrClassifierUnavailable signals that the AI classifier could not produce an answer.
	ErrClassifierUnavailable = errors.New("classifier unavailable")
	// ErrQueueFull signals that the indexing queue rejected a submission.
	ErrQueueFull = errors.New("indexing queue is full")
	// ErrKeywordSearchNotSupported signals that the backend lacks keyword search.
	ErrKeywordSearchNotSupported = errors.New("keyword search not supported by backend")
)

// RuleEvaluationError reports a single rule that failed to compile or evaluate.
// The engine skips the rule and keeps going.
type RuleEvaluationError struct {
	RuleID string
	Err    error
}

func (e *RuleEvaluationError) Error() string {
	return fmt.Sprintf("rule %s: %v", e.RuleID, e.Err)
}

func (e *RuleEvaluationError) Unwrap() error { return e.Err }

// CrossTenantError carries the offending record for logging.
type CrossTenantError struct {
	Expected string
	Actual   string
	RecordID string
}

func (e *CrossTenantError) Error() string {
	return fmt.Sprintf("%s: record %s belongs to %q, expected %q",
		ErrCrossTenantAccess.Error(), e.RecordID, e.Actual, e.Expected)
}

func (e *CrossTenantError) Unwrap() error { return ErrCrossTenantAccess }

// NewCrossTenant creates a cross-tenant error.
func NewCrossTenant(expected, actual, recordID string) error {
	return &CrossTenantError{Expected: expected, Actual: actual, RecordID: recordID}
}

// IndexJobError reports an indexing job that failed after all attempts.
type IndexJobError struct {
	JobID    string
	EntityID string
	Attempts int
	Err      error
}

func (e *IndexJobError) Error() string {
	return fmt.Sprintf("index job %s (entity %s) failed after %d attempts: %v", e.JobID, e.EntityID, e.Attempts, e.Err)
}

func (e *IndexJobError) Unwrap() error { return e.Err }
