package usecase

import "time"

// BackoffDelay returns base × 3^(attempts-1). Attempts below 1 are treated
// as the first attempt.
func BackoffDelay(base time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 3
	}
	return delay
}
