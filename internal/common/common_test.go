package common

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/tally-reconcile/internal/service"
)

var fastRetry = service.RetryOptions{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}

func TestWithRetry(t *testing.T) {
	busy := errors.New("database is locked")

	t.Run("succeeds after retryable failures", func(t *testing.T) {
		calls := 0
		err := WithRetry(context.Background(), func() error {
			calls++
			if calls < 3 {
				return &RetryableError{Err: busy, Retryable: true}
			}
			return nil
		}, fastRetry)
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		calls := 0
		err := WithRetry(context.Background(), func() error {
			calls++
			return &RetryableError{Err: busy, Retryable: true}
		}, fastRetry)
		assert.ErrorIs(t, err, ErrMaxRetries)
		assert.ErrorIs(t, err, busy)
		assert.Equal(t, 3, calls)
	})

	t.Run("plain errors are not retried", func(t *testing.T) {
		calls := 0
		err := WithRetry(context.Background(), func() error {
			calls++
			return ErrDuplicateEntry
		}, fastRetry)
		assert.ErrorIs(t, err, ErrDuplicateEntry)
		assert.Equal(t, 1, calls)
	})

	t.Run("cancellation stops waiting", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		err := WithRetry(ctx, func() error {
			cancel()
			return &RetryableError{Err: busy, Retryable: true}
		}, service.RetryOptions{MaxAttempts: 5, InitialDelay: time.Hour})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(errors.New("boom")))
	assert.False(t, IsRetryable(&RetryableError{Err: context.DeadlineExceeded, Retryable: true}))
	assert.True(t, IsRetryable(&RetryableError{Err: errors.New("busy"), Retryable: true}))
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"":        slog.LevelInfo,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for name, want := range tests {
		got, err := ParseLevel(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := ParseLevel("loud")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestSetupLogger(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	SetupLogger(&buf, slog.LevelWarn, "json")
	slog.Info("hidden")
	slog.Warn("shown", "box_id", "box-002")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"box_id":"box-002"`)
}

func TestUserError(t *testing.T) {
	err := NewUserError("cannot read pages", ErrNoPages)
	assert.Equal(t, "cannot read pages: no page inputs found", err.Error())
	assert.ErrorIs(t, err, ErrNoPages)
	assert.Equal(t, "just a message", NewUserError("just a message", nil).Error())
}
