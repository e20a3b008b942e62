package watch

import (
	"context"
	"time"
)

// Poller is the narrow capability the trigger pipeline depends on; Reader
// is its production implementation.
type Poller interface {
	Poll(ctx context.Context, roots []string, timeout time.Duration) (PollResult, error)
}
