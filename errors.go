package questionbank

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidCredential is returned when the endpoint rejects the API key.
// It is never retried.
var ErrInvalidCredential = errors.New("api key rejected or leaked, generate a new key")

// RateLimitExhaustedError is returned when every attempt was throttled
type RateLimitExhaustedError struct {
	Attempts int
	Wait     time.Duration // last computed wait; a hint for the caller
}

func (e *RateLimitExhaustedError) Error() string {
	return fmt.Sprintf("rate limit exhausted after %d attempts, wait %ds and try again",
		e.Attempts, int((e.Wait+time.Second-1)/time.Second))
}

// GenerationError wraps the last transient failure after retries ran out
type GenerationError struct {
	Attempts int
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}
