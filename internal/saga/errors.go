package saga

import (
	"context"
	"errors"
	"fmt"
)

// ErrCancelled is returned by every yield point of a cancelled task. It
// wraps context.Canceled. Effects that return it (or any error wrapping
// context.Canceled) are treated as cancelled, not failed, and are not
// reported to the error funnel.
var ErrCancelled = fmt.Errorf("task cancelled: %w", context.Canceled)

// ErrNotBound is returned by Spawn and Start before the runner middleware
// has been installed into a store.
var ErrNotBound = errors.New("saga: runner is not bound to a store")

// ErrClosed is returned by Spawn and Start after Close.
var ErrClosed = errors.New("saga: runner is closed")

// IsCancelled reports whether err is a cancellation rather than a failure.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}
