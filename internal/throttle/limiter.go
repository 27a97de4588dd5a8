// Package throttle implements the two admission gates every transfer passes
// through in series: a slot semaphore bounding concurrent files, and a
// token-bucket byte-rate limiter consumed at the read boundary.
package throttle

import (
	"context"
	"sync"
	"time"

	"github.com/ringbackup/sidecar/internal/errs"
)

// ByteRateLimiter is a token bucket denominated in bytes: WaitN blocks the
// caller until n bytes' worth of tokens are available, refilling at a
// configured bytes/sec rate up to a burst ceiling.
type ByteRateLimiter struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // bytes/sec; 0 means unlimited
	lastRefill time.Time
}

// NewByteRateLimiter creates a limiter allowing bytesPerSec sustained
// throughput with burst capacity burstBytes. A bytesPerSec of 0 means
// unlimited: WaitN always returns immediately.
func NewByteRateLimiter(bytesPerSec, burstBytes int64) *ByteRateLimiter {
	return &ByteRateLimiter{
		tokens:     float64(burstBytes),
		maxTokens:  float64(burstBytes),
		refillRate: float64(bytesPerSec),
		lastRefill: time.Now(),
	}
}

// Unlimited reports whether this limiter imposes no rate cap.
func (l *ByteRateLimiter) Unlimited() bool {
	return l.refillRate <= 0
}

// WaitN blocks until n bytes of budget are available or ctx is cancelled. A
// request larger than the bucket's burst capacity can never be granted in
// one shot, so WaitN splits it into burst-sized (or smaller) consumptions
// and waits out each one in turn; a caller passing the whole size of a large
// chunked read therefore still makes progress instead of blocking forever.
func (l *ByteRateLimiter) WaitN(ctx context.Context, n int64) error {
	if l.Unlimited() {
		return nil
	}
	for n > 0 {
		chunk := n
		if max := l.maxChunk(); chunk > max {
			chunk = max
		}

		select {
		case <-ctx.Done():
			return errs.New(errs.KindCancelled, "throttle.WaitN", ctx.Err())
		default:
		}

		wait, ok := l.tryConsume(float64(chunk))
		if !ok {
			select {
			case <-ctx.Done():
				return errs.New(errs.KindCancelled, "throttle.WaitN", ctx.Err())
			case <-time.After(wait):
			}
			continue
		}

		n -= chunk
	}
	return nil
}

// maxChunk returns the largest request tryConsume can ever grant: the
// bucket's burst ceiling. Requesting more than this in one call would never
// be satisfiable even with the bucket completely full.
func (l *ByteRateLimiter) maxChunk() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	max := int64(l.maxTokens)
	if max <= 0 {
		return 1
	}
	return max
}

// tryConsume attempts to take `need` tokens, refilling first. On success it
// returns (0, true). On failure it returns the duration to wait for enough
// tokens to accumulate, and false.
func (l *ByteRateLimiter) tryConsume(need float64) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(l.lastRefill).Seconds()
	l.tokens += elapsed * l.refillRate
	if l.tokens > l.maxTokens {
		l.tokens = l.maxTokens
	}
	l.lastRefill = now

	if l.tokens >= need {
		l.tokens -= need
		return 0, true
	}

	deficit := need - l.tokens
	secondsNeeded := deficit / l.refillRate
	return time.Duration(secondsNeeded * float64(time.Second)), false
}

// Reconfigure changes the rate and burst of a running limiter, capping any
// currently banked tokens to the new burst ceiling.
func (l *ByteRateLimiter) Reconfigure(bytesPerSec, burstBytes int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillRate = float64(bytesPerSec)
	l.maxTokens = float64(burstBytes)
	if l.tokens > l.maxTokens {
		l.tokens = l.maxTokens
	}
}

// CurrentTokens reports the current banked token count, refilled as of now.
// Exposed for tests and for status reporting.
func (l *ByteRateLimiter) CurrentTokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	elapsed := now.Sub(l.lastRefill).Seconds()
	tokens := l.tokens + elapsed*l.refillRate
	if tokens > l.maxTokens {
		tokens = l.maxTokens
	}
	return tokens
}
