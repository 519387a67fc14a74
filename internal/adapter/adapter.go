package adapter

import (
	"errors"
	"fmt"
)

// Common error types for upstream clients

var (
	// ErrNotFound indicates the upstream has no such resource
	ErrNotFound = fmt.Errorf("resource not found")

	// ErrMalformedResponse indicates the upstream answered with a body we cannot read
	ErrMalformedResponse = fmt.Errorf("malformed upstream response")
)

// AdapterError wraps errors with additional context
type AdapterError struct {
	Upstream string
	Op       string // Operation that failed (e.g., "Balances", "FetchCatalog")
	Err      error
	Details  map[string]interface{}
}

func (e *AdapterError) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("upstream error [%s:%s]: %v (details: %+v)", e.Upstream, e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("upstream error [%s:%s]: %v", e.Upstream, e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// NewAdapterError creates a new AdapterError
func NewAdapterError(upstream, op string, err error, details map[string]interface{}) *AdapterError {
	return &AdapterError{
		Upstream: upstream,
		Op:       op,
		Err:      err,
		Details:  details,
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
