package sequencer

import (
	"errors"
	"fmt"
	"time"
)

// ErrClosed is returned by Submit after Close has been called.
var ErrClosed = errors.New("sequencer closed")

// ValidationError indicates a missing or malformed conversation key or a
// misconfigured sequencer. These are caller bugs, not runtime conditions.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Message
}

// RateLimitError reports a submission rejected by the token bucket.
//
// ResetAfter is how long until the bucket refills its next token; callers
// typically surface it to the sender. A rate-limited submission is the one
// case where input does not reach a run.
type RateLimitError struct {
	Key        string
	ResetAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited for key %s: next token in %v", e.Key, e.ResetAfter)
}
