package resilience

import "time"

// RetryFromSettings builds a RetryConfig from millisecond settings. Zero or
// negative values keep the defaults.
func RetryFromSettings(maxAttempts, initialBackoffMs, maxBackoffMs int) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if initialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(initialBackoffMs) * time.Millisecond
	}
	if maxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(maxBackoffMs) * time.Millisecond
	}
	return cfg
}

// StoreBreaker returns a breaker that opens after threshold consecutive
// store outages. Statement-level errors such as constraint violations never
// trip it.
func StoreBreaker(threshold int, onChange func(from, to CircuitState)) *CircuitBreaker {
	return NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: threshold,
		ResetTimeout:     time.Minute,
		ShouldTrip:       IsStoreUnavailable,
		OnStateChange:    onChange,
	})
}
