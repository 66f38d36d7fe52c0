package client

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", config.MaxAttempts)
	}
	if config.InitialBackoff != 1*time.Second {
		t.Errorf("InitialBackoff = %v, want 1s", config.InitialBackoff)
	}
	if config.MaxBackoff != 30*time.Second {
		t.Errorf("MaxBackoff = %v, want 30s", config.MaxBackoff)
	}
	if config.BackoffMultiplier != 2.0 {
		t.Errorf("BackoffMultiplier = %v, want 2.0", config.BackoffMultiplier)
	}
}

func TestRetryConfigForErrorClass(t *testing.T) {
	tests := []struct {
		name             string
		errorClass       ErrorClass
		expectedInitial  time.Duration
		expectedMax      time.Duration
		expectedAttempts int
	}{
		{"server error config", ErrorClassServer, 1 * time.Second, 10 * time.Second, 3},
		{"rate limit config", ErrorClassRateLimit, 1 * time.Second, 30 * time.Second, 4},
		{"network error config", ErrorClassNetwork, 2 * time.Second, 30 * time.Second, 4},
		{"unknown falls back to default", ErrorClass("other"), 1 * time.Second, 30 * time.Second, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := RetryConfigForErrorClass(tt.errorClass)
			if config.InitialBackoff != tt.expectedInitial {
				t.Errorf("InitialBackoff = %v, want %v", config.InitialBackoff, tt.expectedInitial)
			}
			if config.MaxBackoff != tt.expectedMax {
				t.Errorf("MaxBackoff = %v, want %v", config.MaxBackoff, tt.expectedMax)
			}
			if config.MaxAttempts != tt.expectedAttempts {
				t.Errorf("MaxAttempts = %d, want %d", config.MaxAttempts, tt.expectedAttempts)
			}
		})
	}
}

func TestRetryConfig_Backoff(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: time.Second, MaxBackoff: 5 * time.Second, BackoffMultiplier: 2}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := cfg.backoff(i + 1); got != w {
			t.Errorf("backoff(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestJitter(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := jitter(time.Second)
		if d < 800*time.Millisecond || d > 1200*time.Millisecond {
			t.Fatalf("jitter(1s) = %v, want within ±20%%", d)
		}
	}
}

func fastPolicy(ErrorClass) RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func TestRetryWithBackoff(t *testing.T) {
	serverErr := &ProviderError{StatusCode: 500, ErrorClass: ErrorClassServer, Message: "boom"}
	clientErr := &ProviderError{StatusCode: 422, ErrorClass: ErrorClassClient, Message: "bad"}

	tests := []struct {
		name          string
		failures      []error
		wantCalls     int
		wantErr       bool
		wantExhausted bool
	}{
		{"success first try", nil, 1, false, false},
		{"success after one retry", []error{serverErr}, 2, false, false},
		{"success on last attempt", []error{serverErr, serverErr}, 3, false, false},
		{"exhausted", []error{serverErr, serverErr, serverErr}, 3, true, true},
		{"client error not retried", []error{clientErr}, 1, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := retryWithBackoff(context.Background(), fastPolicy, func() error {
				calls++
				if calls <= len(tt.failures) {
					return tt.failures[calls-1]
				}
				return nil
			}, classify)

			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if errors.Is(err, ErrRetryExhausted) != tt.wantExhausted {
				t.Errorf("exhausted = %v, want %v", errors.Is(err, ErrRetryExhausted), tt.wantExhausted)
			}
		})
	}
}

func TestRetryWithBackoff_SingleAttemptPolicy(t *testing.T) {
	serverErr := &ProviderError{StatusCode: 500, ErrorClass: ErrorClassServer, Message: "boom"}
	calls := 0
	err := retryWithBackoff(context.Background(), func(ErrorClass) RetryConfig {
		return RetryConfig{MaxAttempts: 1}
	}, func() error {
		calls++
		return serverErr
	}, classify)

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if err != serverErr {
		t.Errorf("err = %v, want the provider error unwrapped", err)
	}
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	slow := func(ErrorClass) RetryConfig {
		return RetryConfig{MaxAttempts: 3, InitialBackoff: time.Minute, MaxBackoff: time.Minute, BackoffMultiplier: 2}
	}
	err := retryWithBackoff(ctx, slow, func() error {
		calls++
		return &ProviderError{ErrorClass: ErrorClassNetwork, Message: "down"}
	}, classify)

	if !errors.Is(err, ErrContextCancelled) {
		t.Fatalf("err = %v, want ErrContextCancelled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryWithBackoff_RetryAfterIsMinimumWait(t *testing.T) {
	calls := 0
	start := time.Now()
	err := retryWithBackoff(context.Background(), fastPolicy, func() error {
		calls++
		if calls == 1 {
			return &ProviderError{StatusCode: 429, ErrorClass: ErrorClassRateLimit, RetryAfter: 50 * time.Millisecond}
		}
		return nil
	}, classify)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("elapsed = %v, want >= 50ms", elapsed)
	}
}
