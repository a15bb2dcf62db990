// Package retry provides a small bounded-retry helper with an injectable
// backoff policy, so callers that loop on contended writes can substitute a
// zero-delay policy in tests.
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Policy computes the delay to wait before the given retry attempt.
// Attempt numbering starts at 1 (the delay before the second try).
type Policy interface {
	Delay(attempt int) time.Duration
}

// Jitter is a randomized backoff policy: each delay is drawn uniformly from
// [Base, Base+Spread), multiplied by the attempt number.
type Jitter struct {
	Base   time.Duration
	Spread time.Duration
}

// Delay implements Policy.
func (j Jitter) Delay(attempt int) time.Duration {
	d := j.Base
	if j.Spread > 0 {
		d += time.Duration(rand.Int64N(int64(j.Spread)))
	}
	return d * time.Duration(attempt)
}

// None is a zero-delay policy for tests.
type None struct{}

// Delay implements Policy.
func (None) Delay(int) time.Duration { return 0 }

// Sleep waits for d or until ctx is done, whichever comes first.
// It returns ctx.Err() when the context ends the wait early.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
