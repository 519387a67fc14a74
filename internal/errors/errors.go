// Package errors classifies valuation failures so that transports can map
// them onto status codes and retry policies can decide whether to try again.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/portfolio-valuator/internal/types"
)

// ErrorCategory groups error codes by who is at fault
type ErrorCategory string

const (
	CategoryUserInput  ErrorCategory = "user_input"
	CategoryValidation ErrorCategory = "validation"
	CategoryNotFound   ErrorCategory = "not_found"
	CategorySystem     ErrorCategory = "system"
	// CategoryProvider covers the indexer, the node and both price sources
	CategoryProvider ErrorCategory = "provider"
	CategoryDatabase ErrorCategory = "database"
	CategoryCache    ErrorCategory = "cache"
)

// Error codes surfaced to callers
const (
	CodeInvalidAddress     = "INVALID_ADDRESS"
	CodeInvalidIdentifier  = "INVALID_IDENTIFIER"
	CodeInvalidParameter   = "INVALID_PARAMETER"
	CodeProtocolNotFound   = "PROTOCOL_NOT_FOUND"
	CodeSnapshotNotFound   = "SNAPSHOT_NOT_FOUND"
	CodeInternal           = "INTERNAL_ERROR"
	CodeTimeout            = "TIMEOUT"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeDatabase           = "DATABASE_ERROR"
	CodeCache              = "CACHE_ERROR"
	CodeProvider           = "PROVIDER_ERROR"
	CodeProviderTimeout    = "PROVIDER_TIMEOUT"
	CodeProviderRateLimit  = "PROVIDER_RATE_LIMIT"
)

type codeClass struct {
	category  ErrorCategory
	status    int
	retryable bool
}

// classes is keyed by code. Codes missing from the table are internal.
var classes = map[string]codeClass{
	CodeInvalidAddress:     {CategoryUserInput, http.StatusBadRequest, false},
	CodeInvalidIdentifier:  {CategoryUserInput, http.StatusBadRequest, false},
	CodeInvalidParameter:   {CategoryValidation, http.StatusBadRequest, false},
	CodeProtocolNotFound:   {CategoryNotFound, http.StatusNotFound, false},
	CodeSnapshotNotFound:   {CategoryNotFound, http.StatusNotFound, false},
	CodeInternal:           {CategorySystem, http.StatusInternalServerError, false},
	CodeTimeout:            {CategorySystem, http.StatusGatewayTimeout, true},
	CodeServiceUnavailable: {CategorySystem, http.StatusServiceUnavailable, true},
	CodeDatabase:           {CategoryDatabase, http.StatusInternalServerError, true},
	CodeCache:              {CategoryCache, http.StatusInternalServerError, true},
	CodeProvider:           {CategoryProvider, http.StatusBadGateway, true},
	CodeProviderTimeout:    {CategoryProvider, http.StatusGatewayTimeout, true},
	CodeProviderRateLimit:  {CategoryProvider, http.StatusTooManyRequests, true},
}

func classOf(code string) codeClass {
	if c, ok := classes[code]; ok {
		return c
	}
	return classes[CodeInternal]
}

// CategorizedError is an error with a stable code, a category and the
// HTTP status it maps to
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

func newError(code, message string, cause error, details map[string]interface{}) *CategorizedError {
	c := classOf(code)
	return &CategorizedError{
		Category:   c.category,
		StatusCode: c.status,
		Code:       code,
		Message:    message,
		Details:    details,
		Cause:      cause,
	}
}

func (e *CategorizedError) Error() string {
	if e.Cause == nil {
		return e.Code + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
}

func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// NewInvalidAddressError rejects a wallet or pool address that is not a
// hex account address
func NewInvalidAddressError(address string) *CategorizedError {
	return newError(CodeInvalidAddress, "invalid wallet address: "+address, nil,
		map[string]interface{}{"address": address})
}

// NewInvalidIdentifierError rejects a coin type or fungible asset address
func NewInvalidIdentifierError(identifier, reason string) *CategorizedError {
	return newError(CodeInvalidIdentifier, fmt.Sprintf("invalid asset identifier %s: %s", identifier, reason), nil,
		map[string]interface{}{"identifier": identifier, "reason": reason})
}

func NewInvalidParameterError(param, reason string) *CategorizedError {
	return newError(CodeInvalidParameter, fmt.Sprintf("invalid parameter '%s': %s", param, reason), nil,
		map[string]interface{}{"parameter": param, "reason": reason})
}

func NewInternalError(message string, cause error) *CategorizedError {
	return newError(CodeInternal, message, cause, nil)
}

// NewDatabaseError wraps a snapshot store or registry store failure
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return newError(CodeDatabase, "database error during "+operation, cause,
		map[string]interface{}{"operation": operation})
}

// NewCacheError wraps a snapshot cache failure
func NewCacheError(operation string, cause error) *CategorizedError {
	return newError(CodeCache, "cache error during "+operation, cause,
		map[string]interface{}{"operation": operation})
}

func NewServiceUnavailableError(service string) *CategorizedError {
	return newError(CodeServiceUnavailable, "service unavailable: "+service, nil,
		map[string]interface{}{"service": service})
}

// NewProviderError wraps a failed call to an upstream data source
func NewProviderError(provider string, cause error) *CategorizedError {
	return newError(CodeProvider, "data provider error: "+provider, cause,
		map[string]interface{}{"provider": provider})
}

func NewProviderTimeoutError(provider string) *CategorizedError {
	return newError(CodeProviderTimeout, "data provider timeout: "+provider, nil,
		map[string]interface{}{"provider": provider})
}

func NewProviderRateLimitError(provider string) *CategorizedError {
	return newError(CodeProviderRateLimit, "data provider rate limit exceeded: "+provider, nil,
		map[string]interface{}{"provider": provider})
}

// Categorize finds the CategorizedError in err's chain. Service errors are
// classified by code; deadlines become timeouts; anything else is internal.
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr
	}
	var svcErr *types.ServiceError
	if errors.As(err, &svcErr) {
		return newError(svcErr.Code, svcErr.Message, nil, svcErr.Details)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(CodeTimeout, "operation timed out", err, nil)
	}
	return NewInternalError("unexpected error", err)
}

// GetHTTPStatusCode returns the status err maps to
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetryable reports whether retrying the failed operation may succeed
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	return catErr != nil && classOf(catErr.Code).retryable
}

// IsUserError reports a 4xx failure
func IsUserError(err error) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.StatusCode >= 400 && catErr.StatusCode < 500
}

// IsSystemError reports a 5xx failure
func IsSystemError(err error) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.StatusCode >= 500
}
