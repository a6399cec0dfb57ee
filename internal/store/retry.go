package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// IsRetryable reports transient write conflicts: postgres serialization failures,
// deadlocks and lock timeouts, and sqlite's busy/locked errors.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return true
		}
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "sqlite_busy") ||
		strings.Contains(msg, "database table is locked")
}

// Retry runs fn until it succeeds, fails with a non-retryable error, or attempts run
// out. It returns the number of retries performed.
func Retry(ctx context.Context, attempts int, base time.Duration, fn func() error) (int, error) {
	if attempts <= 0 {
		attempts = 1
	}
	if base <= 0 {
		base = 20 * time.Millisecond
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil || !IsRetryable(err) {
			return i, err
		}
		if i == attempts-1 {
			break
		}
		delay := base << i
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return i, ctx.Err()
		case <-timer.C:
		}
	}
	return attempts - 1, err
}
