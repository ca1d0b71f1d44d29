package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chatthread/internal/constants"
	"chatthread/internal/retry"
)

func dbBackoff() *retry.Backoff {
	return retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(constants.DefaultRetryBackoffMs) * time.Millisecond / 10,
		MaxDelay:     time.Duration(constants.DefaultMaxBackoffMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
		Jitter:       true,
	})
}

// retryableDBOperation runs operation, retrying transient SQLite failures
func retryableDBOperation(ctx context.Context, operation func() error, operationName string) error {
	var nonRetryable bool
	err := dbBackoff().RetryWithPredicate(ctx, operation, func(err error) bool {
		nonRetryable = !isRetryableDBError(err)
		return !nonRetryable
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case nonRetryable:
		return fmt.Errorf("%s failed (non-retryable): %w", operationName, err)
	default:
		return fmt.Errorf("%s failed after %d attempts: %w", operationName, constants.DefaultDatabaseRetryAttempts, err)
	}
}

// isRetryableDBError reports whether a database error is worth retrying
func isRetryableDBError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	errStr := err.Error()
	for _, transient := range []string{"database is locked", "database table is locked", "disk I/O error"} {
		if strings.Contains(errStr, transient) {
			return true
		}
	}
	return false
}
