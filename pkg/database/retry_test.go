package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsBusyError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"database is locked", errors.New("database is locked"), true},
		{"table locked", errors.New("database table is locked"), true},
		{"SQLITE_BUSY", errors.New("SQLITE_BUSY"), true},
		{"SQLITE_LOCKED", errors.New("SQLITE_LOCKED"), true},
		{"error code 5", errors.New("error (5): database busy"), true},
		{"error code 6", errors.New("error (6): database locked"), true},
		{"unrelated", errors.New("connection refused"), false},
		{"constraint violation", errors.New("UNIQUE constraint failed: user_book.uri"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, isBusyError(tt.err))
		})
	}
}

func TestRetryWithBackoff(t *testing.T) {
	t.Parallel()

	busy := errors.New("database is locked")

	tests := []struct {
		name         string
		maxRetries   int
		failures     int
		failWith     error
		wantErr      bool
		wantAttempts int
	}{
		{"first attempt succeeds", 5, 0, nil, false, 1},
		{"recovers after busy errors", 5, 2, busy, false, 3},
		{"non-busy error is not retried", 5, 100, errors.New("connection refused"), true, 1},
		{"retries exhausted", 3, 100, busy, true, 4},
		{"zero retries", 0, 100, busy, true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			attempts := 0
			err := retryWithBackoff(context.Background(), tt.maxRetries, func() error {
				attempts++
				if attempts <= tt.failures {
					return tt.failWith
				}
				return nil
			})
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantAttempts, attempts)
		})
	}
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	attempts := 0
	err := retryWithBackoff(ctx, 10, func() error {
		attempts++
		return errors.New("database is locked")
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.GreaterOrEqual(t, attempts, 1)
	assert.Less(t, attempts, 11)
}
