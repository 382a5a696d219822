package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

var (
	// ErrBusy marks lock contention that is worth retrying
	ErrBusy = errors.New("storage busy")

	// ErrRetriesExhausted is returned once every attempt hit ErrBusy
	ErrRetriesExhausted = errors.New("storage retries exhausted")
)

func (m *Manager) newBackOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if m.retry.InitialInterval > 0 {
		exp.InitialInterval = m.retry.InitialInterval
	}
	if m.retry.MaxInterval > 0 {
		exp.MaxInterval = m.retry.MaxInterval
	}
	exp.Multiplier = 2
	exp.MaxElapsedTime = 0

	attempts := m.retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)
}

// withRetry runs fn until it succeeds, fails permanently, or runs out of attempts.
// Only ErrBusy is retried.
func withRetry[T any](ctx context.Context, m *Manager, operation string, fn func() (T, error)) (T, error) {
	start := time.Now()
	attempts := 0

	var result T
	err := backoff.RetryNotify(func() error {
		attempts++
		value, err := fn()
		if err == nil {
			result = value
			return nil
		}
		if errors.Is(err, ErrBusy) {
			return err
		}
		return backoff.Permanent(err)
	}, m.newBackOff(ctx), func(err error, wait time.Duration) {
		if m.logger != nil {
			m.logger.WithFields(logrus.Fields{
				"operation": operation,
				"attempt":   attempts,
				"wait":      wait,
			}).WithError(err).Warn("Storage busy, retrying")
		}
	})

	status := "success"
	if err != nil {
		status = "error"
		if errors.Is(err, ErrBusy) {
			status = "exhausted"
			err = fmt.Errorf("%s: %w after %d attempts: %w", operation, ErrRetriesExhausted, attempts, err)
		}
	}
	if m.recorder != nil {
		m.recorder.RecordStorageOperation(operation, status, time.Since(start))
	}

	return result, err
}
