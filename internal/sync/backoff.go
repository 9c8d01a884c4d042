package sync

import "time"

const (
	backoffBase = 2 * time.Second
	backoffMax  = 5 * time.Minute
)

// Backoff returns the minimum wait before an item with the given attempt
// count may be retried. Attempt 0 (never tried) waits nothing.
func Backoff(attemptCount int) time.Duration {
	if attemptCount <= 0 {
		return 0
	}
	d := backoffBase << uint(attemptCount-1)
	if d <= 0 || d > backoffMax {
		return backoffMax
	}
	return d
}
