package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrier_Classification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCalls int
	}{
		{"rate limit", &integration.RateLimitError{RetryAfter: time.Millisecond}, 4},
		{"retryable provider error", &integration.IntegrationError{Code: "HTTP_503", Status: 503, Retryable: true}, 4},
		{"timeout", &integration.IntegrationError{Code: "TIMEOUT", Retryable: true}, 4},
		{"business error", &integration.IntegrationError{Code: "HTTP_404", Status: 404}, 1},
		{"validation", integration.NewValidationError("q", "bad"), 1},
		{"authentication", &integration.AuthenticationError{Reason: "forbidden"}, 1},
		{"plain error", errors.New("boom"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := fastRetrier(4)
			calls := 0
			err := r.Do(context.Background(), "op", func(context.Context) error {
				calls++
				return tt.err
			}, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.wantCalls, calls)
			assert.LessOrEqual(t, calls, r.MaxAttempts())
		})
	}
}

func TestRetrier_SucceedsAfterTransientFailures(t *testing.T) {
	r := fastRetrier(5)
	calls := 0
	err := r.Do(context.Background(), "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return &integration.IntegrationError{Code: "HTTP_500", Retryable: true}
		}
		return nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetrier_SessionExpiryReauthenticatesOnce(t *testing.T) {
	r := fastRetrier(5)
	calls, reauths := 0, 0
	expired := &integration.AuthenticationError{Reason: "401", SessionExpired: true}

	err := r.Do(context.Background(), "op", func(context.Context) error {
		calls++
		if calls == 1 {
			return expired
		}
		return nil
	}, func(context.Context) error {
		reauths++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, reauths)

	// A second expiry after re-authentication is not retried
	calls, reauths = 0, 0
	err = r.Do(context.Background(), "op", func(context.Context) error {
		calls++
		return expired
	}, func(context.Context) error {
		reauths++
		return nil
	})
	assert.ErrorIs(t, err, expired)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, reauths)
}

func TestRetrier_SessionExpiryWithoutReauth(t *testing.T) {
	r := fastRetrier(5)
	calls := 0
	err := r.Do(context.Background(), "op", func(context.Context) error {
		calls++
		return &integration.AuthenticationError{SessionExpired: true}
	}, nil)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetrier_ReauthFailureIsReturned(t *testing.T) {
	r := fastRetrier(5)
	reauthErr := &integration.AuthenticationError{Reason: "refresh token revoked"}
	err := r.Do(context.Background(), "op", func(context.Context) error {
		return &integration.AuthenticationError{SessionExpired: true}
	}, func(context.Context) error { return reauthErr })
	assert.ErrorIs(t, err, reauthErr)
}

func TestRetrier_RateLimitWaitsRetryAfter(t *testing.T) {
	r := NewRetrier(RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, nil)
	var slept []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	_ = r.Do(context.Background(), "op", func(context.Context) error {
		return &integration.RateLimitError{RetryAfter: 3 * time.Second}
	}, nil)
	require.Len(t, slept, 1)
	assert.Equal(t, 3*time.Second, slept[0])
}

func TestRetrier_CancellationStopsRetrying(t *testing.T) {
	r := NewRetrier(RetryConfig{MaxAttempts: 10, BaseDelay: time.Hour, MaxDelay: time.Hour}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- r.Do(ctx, "op", func(context.Context) error {
			calls++
			return &integration.IntegrationError{Retryable: true}
		}, nil)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	case <-time.After(2 * time.Second):
		t.Fatal("retrier did not stop on cancellation")
	}
}

func TestRetrier_Backoff(t *testing.T) {
	r := NewRetrier(RetryConfig{MaxAttempts: 10, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}, nil)
	assert.Equal(t, 100*time.Millisecond, r.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, r.Backoff(2))
	assert.Equal(t, 400*time.Millisecond, r.Backoff(3))
	assert.Equal(t, 800*time.Millisecond, r.Backoff(4))
	assert.Equal(t, time.Second, r.Backoff(5))
	assert.Equal(t, time.Second, r.Backoff(30))
}
