package pipeline

import "time"

// ReconnectConfig controls the retry schedule after a connection ends or
// fails.
type ReconnectConfig struct {
	RetryDelay    time.Duration // first retry delay
	MaxRetryDelay time.Duration // cap for the doubling delay
	MaxRetries    int           // 0 retries forever
}

// DefaultReconnectConfig retries forever starting at one second, capped at 30.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		RetryDelay:    time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}

// backoffDelay returns RetryDelay * 2^(attempt-1), capped at MaxRetryDelay.
func backoffDelay(attempt int, cfg ReconnectConfig) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := cfg.RetryDelay
	for i := 1; i < attempt && delay < cfg.MaxRetryDelay; i++ {
		delay *= 2
	}
	return min(delay, cfg.MaxRetryDelay)
}
