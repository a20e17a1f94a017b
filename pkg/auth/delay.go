package auth

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"
)

// FailureDelay pads failed authentications to a floor of base plus a random
// jitter, so response time says little about why a login failed.
type FailureDelay struct {
	base   time.Duration
	jitter time.Duration
}

// NewFailureDelay returns nil when both durations are zero; a nil
// FailureDelay never waits.
func NewFailureDelay(base, jitter time.Duration) *FailureDelay {
	if base <= 0 && jitter <= 0 {
		return nil
	}
	return &FailureDelay{base: base, jitter: jitter}
}

// Target returns base plus a fresh random jitter
func (d *FailureDelay) Target() time.Duration {
	if d == nil {
		return 0
	}
	target := d.base
	if d.jitter > 0 {
		if n, err := rand.Int(rand.Reader, big.NewInt(int64(d.jitter))); err == nil {
			target += time.Duration(n.Int64())
		}
	}
	return target
}

// WaitFrom sleeps until at least Target has elapsed since start, or ctx is done
func (d *FailureDelay) WaitFrom(ctx context.Context, start time.Time) {
	remaining := d.Target() - time.Since(start)
	if remaining <= 0 {
		return
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
