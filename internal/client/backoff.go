package client

import "time"

const (
	backoffBase        = 500 * time.Millisecond
	backoffMax         = 10 * time.Second
	backoffMaxAttempts = 6
)

// Backoff yields reconnect delays of 500ms, 1s, 2s, 4s, 8s and then 10s for
// every further attempt. The zero value is ready to use.
type Backoff struct {
	attempts int
}

// Next records another attempt and returns how long to wait before it.
func (b *Backoff) Next() time.Duration {
	b.attempts = min(b.attempts+1, backoffMaxAttempts)
	return min(backoffBase<<(b.attempts-1), backoffMax)
}

// Reset clears the attempt counter after a successful connection.
func (b *Backoff) Reset() {
	b.attempts = 0
}

// Attempts returns the current attempt counter.
func (b *Backoff) Attempts() int {
	return b.attempts
}
