// Package dbretry wraps database operations with exponential backoff for
// transient PostgreSQL failures.
package dbretry

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/uptrace/bun/driver/pgdriver"
)

var (
	maxElapsedTime  = 30 * time.Second
	initialInterval = 500 * time.Millisecond
	maxInterval     = 5 * time.Second
	maxRetries      = uint64(5)
)

// IsRetryableError checks if the given error is retryable.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Connection errors (class 08), serialization/deadlock (class 40),
	// resource exhaustion (class 53) and operator intervention (class 57)
	// are transient.
	var pgerr *pgdriver.Error
	if errors.As(err, &pgerr) {
		switch pgerr.Field('C') {
		case "08000", // connection_exception
			"08003", // connection_does_not_exist
			"08006", // connection_failure
			"08001", // sqlclient_unable_to_establish_sqlconnection
			"08004", // sqlserver_rejected_establishment_of_sqlconnection
			"40001", // serialization_failure
			"40P01", // deadlock_detected
			"53000", // insufficient_resources
			"53300", // too_many_connections
			"57P01", // admin_shutdown
			"57P03": // cannot_connect_now
			return true
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errMsg := err.Error()

	return strings.Contains(errMsg, "connection reset by peer") ||
		strings.Contains(errMsg, "broken pipe") ||
		strings.Contains(errMsg, "connection refused") ||
		strings.Contains(errMsg, "i/o timeout")
}

// newBackoff builds the retry policy used by every wrapped operation.
func newBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialInterval
	b.MaxInterval = maxInterval
	b.MaxElapsedTime = maxElapsedTime

	return backoff.WithContext(backoff.WithMaxRetries(b, maxRetries), ctx)
}

// Operation retries fn until it succeeds, returns a permanent error, or the
// retry budget is exhausted.
func Operation[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	return backoff.RetryWithData(func() (T, error) {
		result, err := fn(ctx)
		if err != nil && !IsRetryableError(err) {
			return result, backoff.Permanent(err)
		}

		return result, err
	}, newBackoff(ctx))
}

// NoResult is Operation for functions that only return an error.
func NoResult(ctx context.Context, fn func(ctx context.Context) error) error {
	return backoff.Retry(func() error {
		err := fn(ctx)
		if err != nil && !IsRetryableError(err) {
			return backoff.Permanent(err)
		}

		return err
	}, newBackoff(ctx))
}
