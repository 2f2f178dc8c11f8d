// Package retry is the single retry-with-backoff implementation shared by
// scanning, advertising, and role-resume so their policies cannot drift.
package retry

import "time"

// Policy describes a bounded retry loop.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// Backoff returns how long to wait before attempt n (1-based retry count).
	// Nil means no delay.
	Backoff func(attempt int) time.Duration
	// Terminal reports errors that must not be retried. Nil means every
	// error is retryable.
	Terminal func(err error) bool
	// OnRetry is invoked before each retry sleep, for logging and metrics.
	OnRetry func(attempt int, err error)
}

// Linear waits the same unit before every retry.
func Linear(unit time.Duration) func(int) time.Duration {
	return func(int) time.Duration { return unit }
}

// Scaled waits attempt x unit before retry n (1x, 2x, 3x, ...).
func Scaled(unit time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration { return time.Duration(attempt) * unit }
}

// Do runs op until it succeeds, a terminal error occurs, or attempts are
// exhausted. The attempt number passed to op is 0-based.
func (p Policy) Do(op func(attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		err = op(attempt)
		if err == nil {
			return nil
		}
		if p.Terminal != nil && p.Terminal(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, err)
		}
		if p.Backoff != nil {
			time.Sleep(p.Backoff(attempt + 1))
		}
	}
	return err
}
