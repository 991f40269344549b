// retry.go classifies transient network failures and retries them with
// bounded exponential backoff. Used only at the message-delivery boundary,
// never inside the tool-execution path.
package channels

import (
	"context"
	"strings"
	"time"
)

// retry policy bounds.
const (
	maxSendAttempts = 4
	baseBackoff     = 500 * time.Millisecond
	maxBackoff      = 8 * time.Second
)

// transientErrorMarkers are the substrings that classify a network error as
// transient: reset, timeout, refused, name-resolution failure, unexpected
// hang-up.
var transientErrorMarkers = []string{
	"connection reset",
	"connection refused",
	"timeout",
	"timed out",
	"deadline exceeded",
	"no such host",
	"temporary failure in name resolution",
	"unexpected eof",
	"eof",
	"broken pipe",
	"tls handshake",
}

// IsTransient reports whether an error is worth retrying at the delivery
// boundary.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientErrorMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// WithRetry runs fn, retrying transient failures with exponential backoff.
// Non-transient failures return immediately.
func WithRetry(ctx context.Context, fn func() error) error {
	var err error
	backoff := baseBackoff
	for attempt := 1; attempt <= maxSendAttempts; attempt++ {
		err = fn()
		if err == nil || !IsTransient(err) {
			return err
		}
		if attempt == maxSendAttempts {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return err
}
