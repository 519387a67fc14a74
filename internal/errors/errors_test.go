package errors

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/portfolio-valuator/internal/types"
)

func TestCategorize(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		retryable  bool
	}{
		{
			name:       "invalid address",
			err:        NewInvalidAddressError("0xzz"),
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_ADDRESS",
		},
		{
			name:       "wrapped provider error",
			err:        fmt.Errorf("fetch balances: %w", NewProviderError("indexer", assert.AnError)),
			wantStatus: http.StatusBadGateway,
			wantCode:   "PROVIDER_ERROR",
			retryable:  true,
		},
		{
			name:       "service error",
			err:        &types.ServiceError{Code: "INVALID_IDENTIFIER", Message: "bad"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_IDENTIFIER",
		},
		{
			name:       "missing snapshot",
			err:        &types.ServiceError{Code: CodeSnapshotNotFound, Message: "no snapshot"},
			wantStatus: http.StatusNotFound,
			wantCode:   CodeSnapshotNotFound,
		},
		{
			name:       "unknown service code",
			err:        &types.ServiceError{Code: "SOMETHING_ELSE", Message: "?"},
			wantStatus: http.StatusInternalServerError,
			wantCode:   "SOMETHING_ELSE",
		},
		{
			name:       "provider rate limit",
			err:        NewProviderRateLimitError("prices"),
			wantStatus: http.StatusTooManyRequests,
			wantCode:   CodeProviderRateLimit,
			retryable:  true,
		},
		{
			name:       "deadline",
			err:        context.DeadlineExceeded,
			wantStatus: http.StatusGatewayTimeout,
			wantCode:   "TIMEOUT",
			retryable:  true,
		},
		{
			name:       "plain error",
			err:        assert.AnError,
			wantStatus: http.StatusInternalServerError,
			wantCode:   "INTERNAL_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat := Categorize(tt.err)
			assert.Equal(t, tt.wantStatus, cat.StatusCode)
			assert.Equal(t, tt.wantCode, cat.Code)
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
			assert.Equal(t, tt.wantStatus, GetHTTPStatusCode(tt.err))
		})
	}
}

func TestUserAndSystemErrors(t *testing.T) {
	assert.True(t, IsUserError(NewInvalidIdentifierError("x", "missing address")))
	assert.False(t, IsSystemError(NewInvalidIdentifierError("x", "missing address")))
	assert.True(t, IsSystemError(NewDatabaseError("insert", assert.AnError)))
	assert.Nil(t, Categorize(nil))
}

func TestCategorizedErrorUnwrap(t *testing.T) {
	err := NewCacheError("get", context.Canceled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "CACHE_ERROR")
}
