// Package runctx holds the channel helpers shared by goroutines that feed
// the terminal views.
package runctx

import (
	"context"

	"marketplace-client/internal/logging"
)

// RecvOrDone waits for the next value on in. It reports false once ctx is
// done or in is closed.
func RecvOrDone[T any](ctx context.Context, name string, logger *logging.Logger, in <-chan T) (T, bool) {
	if logger == nil {
		panic("runctx.RecvOrDone: logger must not be nil")
	}
	var zero T
	select {
	case <-ctx.Done():
		logger.Debug("stopping "+name+": context canceled", logging.Field("error", ctx.Err()))
		return zero, false
	case v, ok := <-in:
		if !ok {
			logger.Debug("stopping " + name + ": input channel closed")
			return zero, false
		}
		return v, true
	}
}

// Offer puts value on out without blocking. When out is full the oldest
// buffered value is dropped; it reports whether a value was dropped.
func Offer[T any](out chan T, value T) (dropped bool) {
	select {
	case out <- value:
		return false
	default:
	}
	select {
	case <-out:
		dropped = true
	default:
	}
	select {
	case out <- value:
	default:
		// another producer refilled the slot; value is the one lost
		dropped = true
	}
	return dropped
}
