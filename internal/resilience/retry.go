package resilience

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrorKind classifies a provider failure per §4.10/§7.
type ErrorKind string

const (
	ErrAuthentication  ErrorKind = "authentication_failed"
	ErrQuotaExceeded   ErrorKind = "quota_exceeded"
	ErrRateLimit       ErrorKind = "rate_limit"
	ErrInvalidText     ErrorKind = "invalid_text"
	ErrTextTooLong     ErrorKind = "text_too_long"
	ErrInvalidVoice    ErrorKind = "invalid_voice"
	ErrServerError     ErrorKind = "server_error"
	ErrNetwork         ErrorKind = "network_error"
	ErrTimeout         ErrorKind = "timeout"
)

// ProviderError is a typed provider failure carrying its retry kind.
type ProviderError struct {
	Kind ErrorKind
	Err  error
}

func (e *ProviderError) Error() string { return string(e.Kind) + ": " + e.Err.Error() }
func (e *ProviderError) Unwrap() error { return e.Err }

// Retriable reports whether this error kind should be retried at all, per
// the non-retriable/retriable split of §4.10.
func (k ErrorKind) Retriable() bool {
	switch k {
	case ErrRateLimit, ErrServerError, ErrNetwork, ErrTimeout:
		return true
	default:
		return false
	}
}

// ClassifyHTTPStatus maps an HTTP status code to an ErrorKind, for provider
// clients built over plain HTTP/WebSocket calls (Deepgram, ElevenLabs).
func ClassifyHTTPStatus(status int) ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrAuthentication
	case status >= 500:
		return ErrServerError
	default:
		return ErrNetwork
	}
}

// RetryPolicy implements the exponential-backoff-with-cap schedule of
// §4.10: initial 1s, multiplier 2, cap 10s, except rate-limit responses
// which always wait a fixed 60s.
type RetryPolicy struct {
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
	RateLimitWait   time.Duration
}

// DefaultRetryPolicy returns the spec's fixed constants.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: 1 * time.Second,
		Multiplier:      2,
		MaxInterval:     10 * time.Second,
		RateLimitWait:   60 * time.Second,
	}
}

// newBackOff builds the cenkalti/backoff exponential policy for non-rate-limit
// retries, wrapped with the given context so callers can cancel mid-retry.
func (p RetryPolicy) newBackOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.Multiplier = p.Multiplier
	eb.MaxInterval = p.MaxInterval
	eb.MaxElapsedTime = 0 // caller bounds total attempts via MaxTries
	return backoff.WithContext(eb, ctx)
}

// ErrNonRetriable signals a permanent failure, stopping backoff.Retry
// immediately via backoff.Permanent.
var ErrNonRetriable = errors.New("resilience: non-retriable provider error")

// Do runs fn up to maxTries times, honoring ErrorKind-specific backoff: a
// rate-limit ProviderError always waits RateLimitWait regardless of the
// exponential schedule; non-retriable kinds abort immediately.
func (p RetryPolicy) Do(ctx context.Context, maxTries uint64, fn func() error) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}

		var perr *ProviderError
		if errors.As(err, &perr) {
			if !perr.Kind.Retriable() {
				return backoff.Permanent(err)
			}
			if perr.Kind == ErrRateLimit {
				return backoff.RetryAfter(int(p.RateLimitWait / time.Second))
			}
		}
		return err
	}

	bo := backoff.WithMaxRetries(p.newBackOff(ctx), maxTries-1)
	return backoff.Retry(operation, bo)
}
