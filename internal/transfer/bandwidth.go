// Package transfer paces upload and download throughput so large artifact
// transfers don't starve the heartbeat loop's own HTTP traffic.
package transfer

import (
	"context"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Limiter wraps a token-bucket rate limiter with zero overhead when
// disabled, for pacing bytes moved through upload/download chunking.
type Limiter struct {
	limiter *rate.Limiter
	enabled atomic.Bool
}

// NewLimiter creates a Limiter with no cap; call SetLimit to enable pacing.
func NewLimiter() *Limiter {
	return &Limiter{limiter: rate.NewLimiter(rate.Inf, 0)}
}

// SetLimit sets the global cap in bytes per second. 0 disables pacing.
func (l *Limiter) SetLimit(bytesPerSec int) {
	if bytesPerSec <= 0 {
		l.enabled.Store(false)
		l.limiter.SetLimit(rate.Inf)
		return
	}
	l.enabled.Store(true)
	l.limiter.SetLimit(rate.Limit(bytesPerSec))
	l.limiter.SetBurst(bytesPerSec)
}

// Wait blocks until n bytes may be sent under the current limit.
func (l *Limiter) Wait(ctx context.Context, n int) error {
	if !l.enabled.Load() {
		return nil
	}
	// WaitN rejects requests larger than the burst, so wait in burst-sized steps.
	for n > 0 {
		step := n
		if burst := l.limiter.Burst(); burst > 0 && step > burst {
			step = burst
		}
		if err := l.limiter.WaitN(ctx, step); err != nil {
			return err
		}
		n -= step
	}
	return nil
}
