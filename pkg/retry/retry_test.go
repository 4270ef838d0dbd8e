package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	errs "bunkrgrab/pkg/errors"
)

func TestExponentialBackoff(t *testing.T) {
	backoff := &ExponentialBackoff{
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.0, // No jitter for predictable testing
	}

	tests := []struct {
		attempt     int
		expected    time.Duration
		description string
	}{
		{1, 100 * time.Millisecond, "First attempt"},
		{2, 200 * time.Millisecond, "Second attempt"},
		{3, 400 * time.Millisecond, "Third attempt"},
		{5, 1 * time.Second, "Fifth attempt (capped at max)"},
	}

	for _, test := range tests {
		t.Run(test.description, func(t *testing.T) {
			delay := backoff.NextDelay(test.attempt)
			if delay != test.expected {
				t.Errorf("Expected delay %v, got %v", test.expected, delay)
			}
		})
	}
}

func TestPageBackoff(t *testing.T) {
	backoff := PageBackoff(1500 * time.Millisecond)

	if delay := backoff.NextDelay(1); delay != 1500*time.Millisecond {
		t.Errorf("Expected 1.5s on first attempt, got %v", delay)
	}
	if delay := backoff.NextDelay(2); delay != 3*time.Second {
		t.Errorf("Expected 3s on second attempt, got %v", delay)
	}
}

func TestRetryWithSuccess(t *testing.T) {
	attempts := 0
	op := func() error {
		attempts++
		if attempts < 3 {
			return errs.New(errs.ErrorTypeNetwork, "temporary error")
		}
		return nil
	}

	cfg := &Config{
		MaxAttempts: 5,
		Backoff:     &ConstantBackoff{Delay: time.Millisecond},
		RetryIf:     DefaultRetryIf,
		Context:     context.Background(),
	}

	if err := Do(op, cfg); err != nil {
		t.Errorf("Expected success, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	attempts := 0
	op := func() error {
		attempts++
		return errs.New(errs.ErrorTypeInvalidURL, "bad URL")
	}

	cfg := &Config{
		MaxAttempts: 5,
		Backoff:     &ConstantBackoff{Delay: time.Millisecond},
		RetryIf:     DefaultRetryIf,
		Context:     context.Background(),
	}

	if err := Do(op, cfg); err == nil {
		t.Error("Expected error, got nil")
	}
	if attempts != 1 {
		t.Errorf("Expected exactly 1 attempt, got %d", attempts)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	attempts := 0
	op := func() error {
		attempts++
		return errs.New(errs.ErrorTypeServerError, "still broken")
	}

	cfg := &Config{
		MaxAttempts: 3,
		Backoff:     &ConstantBackoff{Delay: time.Millisecond},
		RetryIf:     DefaultRetryIf,
		Context:     context.Background(),
	}

	if err := Do(op, cfg); err == nil {
		t.Error("Expected error after exhausting attempts")
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestThrottledErrorDelayOverridesBackoff(t *testing.T) {
	attempts := 0
	var delays []time.Duration

	op := func() error {
		attempts++
		if attempts == 1 {
			return &ThrottledError{
				Err:   errs.NewHTTP(errs.ErrorTypeRateLimit, 429, "rate limit exceeded"),
				Delay: 25 * time.Millisecond,
			}
		}
		return nil
	}

	cfg := &Config{
		MaxAttempts: 3,
		Backoff:     &ConstantBackoff{Delay: 10 * time.Second}, // would stall the test if used
		RetryIf:     DefaultRetryIf,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			delays = append(delays, delay)
		},
		Context: context.Background(),
	}

	start := time.Now()
	if err := Do(op, cfg); err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	elapsed := time.Since(start)

	if len(delays) != 1 || delays[0] != 25*time.Millisecond {
		t.Errorf("Expected one 25ms delay, got %v", delays)
	}
	if elapsed > 5*time.Second {
		t.Errorf("Backoff was not overridden; waited %v", elapsed)
	}
}

func TestThrottledErrorUnwrap(t *testing.T) {
	inner := errs.NewHTTP(errs.ErrorTypeRateLimit, 429, "rate limit exceeded")
	throttled := &ThrottledError{Err: inner, Delay: time.Second}

	var typed *errs.Error
	if !errors.As(throttled, &typed) {
		t.Fatal("Expected ThrottledError to unwrap to *errs.Error")
	}
	if typed.Type != errs.ErrorTypeRateLimit {
		t.Errorf("Expected rate_limit type, got %s", typed.Type)
	}
	if !DefaultRetryIf(throttled) {
		t.Error("Expected throttled error to be retryable")
	}
}

func TestRetryAfterDelay(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}

	if _, ok := RetryAfterDelay(resp); ok {
		t.Error("Expected no delay without a Retry-After header")
	}

	resp.Header.Set("Retry-After", "7")
	delay, ok := RetryAfterDelay(resp)
	if !ok || delay != 7*time.Second {
		t.Errorf("Expected 7s delay, got %v (ok=%v)", delay, ok)
	}

	resp.Header.Set("Retry-After", "Wed, 21 Oct 2015 07:28:00 GMT")
	if _, ok := RetryAfterDelay(resp); ok {
		t.Error("Expected non-numeric Retry-After to be ignored")
	}

	if _, ok := RetryAfterDelay(nil); ok {
		t.Error("Expected nil response to yield no delay")
	}
}

func TestRetryCancelledByContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	op := func() error {
		return errs.New(errs.ErrorTypeNetwork, "flaky")
	}

	cfg := &Config{
		MaxAttempts: 3,
		Backoff:     &ConstantBackoff{Delay: time.Minute},
		RetryIf:     DefaultRetryIf,
		Context:     ctx,
	}

	if err := Do(op, cfg); err == nil {
		t.Error("Expected cancellation error")
	}
}
