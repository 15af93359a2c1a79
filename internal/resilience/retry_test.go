package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKind_Retriable(t *testing.T) {
	assert.True(t, ErrRateLimit.Retriable())
	assert.True(t, ErrServerError.Retriable())
	assert.True(t, ErrNetwork.Retriable())
	assert.True(t, ErrTimeout.Retriable())
	assert.False(t, ErrAuthentication.Retriable())
	assert.False(t, ErrQuotaExceeded.Retriable())
	assert.False(t, ErrInvalidText.Retriable())
}

func TestClassifyHTTPStatus(t *testing.T) {
	assert.Equal(t, ErrRateLimit, ClassifyHTTPStatus(429))
	assert.Equal(t, ErrAuthentication, ClassifyHTTPStatus(401))
	assert.Equal(t, ErrServerError, ClassifyHTTPStatus(503))
	assert.Equal(t, ErrNetwork, ClassifyHTTPStatus(400))
}

func TestRetryPolicy_NonRetriableStopsImmediately(t *testing.T) {
	p := DefaultRetryPolicy()
	attempts := 0
	err := p.Do(context.Background(), 5, func() error {
		attempts++
		return &ProviderError{Kind: ErrAuthentication, Err: errors.New("bad key")}
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryPolicy_RetriesUpToMaxTries(t *testing.T) {
	p := RetryPolicy{InitialInterval: 0, Multiplier: 1, MaxInterval: 0, RateLimitWait: 0}
	attempts := 0
	err := p.Do(context.Background(), 3, func() error {
		attempts++
		return &ProviderError{Kind: ErrServerError, Err: errors.New("boom")}
	})
	assert.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryPolicy_SucceedsWithoutExhaustingRetries(t *testing.T) {
	p := DefaultRetryPolicy()
	attempts := 0
	err := p.Do(context.Background(), 5, func() error {
		attempts++
		if attempts < 2 {
			return &ProviderError{Kind: ErrNetwork, Err: errors.New("transient")}
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, attempts)
}
