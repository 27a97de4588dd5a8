package throttle

import (
	"context"
	"io"

	"golang.org/x/sync/semaphore"

	"github.com/ringbackup/sidecar/internal/errs"
)

// Governor is the single global admission point every transfer passes
// through: a FIFO slot semaphore bounding concurrent files, in series with a
// byte-rate limiter consumed as the transfer reads.
type Governor struct {
	slots *semaphore.Weighted
	rate  *ByteRateLimiter
}

// NewGovernor builds a governor with the given concurrent-file capacity and
// byte-rate limiter. Pass a limiter with bytesPerSec=0 for no rate cap.
func NewGovernor(maxConcurrent int, rate *ByteRateLimiter) *Governor {
	return &Governor{
		slots: semaphore.NewWeighted(int64(maxConcurrent)),
		rate:  rate,
	}
}

// Ticket represents one held slot in the governor. It is released by
// calling Release, directly or by closing a ThrottledReader that holds it;
// a ThrottledReader reaching EOF or an error does not release it.
type Ticket struct {
	governor *Governor
	released bool
}

// Acquire blocks until a slot is free (FIFO order, via semaphore.Weighted's
// internal waiter queue) or ctx is cancelled.
func (g *Governor) Acquire(ctx context.Context) (*Ticket, error) {
	if err := g.slots.Acquire(ctx, 1); err != nil {
		return nil, errs.New(errs.KindCancelled, "throttle.Acquire", err)
	}
	return &Ticket{governor: g}, nil
}

// Release returns the slot to the governor. Safe to call multiple times;
// only the first call has an effect.
func (t *Ticket) Release() {
	if t.released {
		return
	}
	t.released = true
	t.governor.slots.Release(1)
}

// ThrottledReader wraps an io.Reader, consuming governor byte-rate budget at
// every read boundary and observing context cancellation there too. Each
// Read charges the limiter for the bytes it returned, so the limiter is
// charged incrementally as the transfer proceeds rather than all at once.
type ThrottledReader struct {
	ctx    context.Context
	src    io.Reader
	ticket *Ticket
	rate   *ByteRateLimiter
}

// NewThrottledReader wraps src so reads are paced by rate and cancellable via
// ctx. The ticket is released automatically when the reader is closed.
func NewThrottledReader(ctx context.Context, src io.Reader, ticket *Ticket, rate *ByteRateLimiter) *ThrottledReader {
	return &ThrottledReader{ctx: ctx, src: src, ticket: ticket, rate: rate}
}

// WrapReader builds a ThrottledReader over src using this governor's own
// rate limiter, so callers never need direct access to it.
func (g *Governor) WrapReader(ctx context.Context, ticket *Ticket, src io.Reader) *ThrottledReader {
	return NewThrottledReader(ctx, src, ticket, g.rate)
}

func (r *ThrottledReader) Read(p []byte) (int, error) {
	select {
	case <-r.ctx.Done():
		return 0, errs.New(errs.KindCancelled, "throttle.Read", r.ctx.Err())
	default:
	}

	n, err := r.src.Read(p)
	if n > 0 && r.rate != nil {
		if werr := r.rate.WaitN(r.ctx, int64(n)); werr != nil {
			return n, werr
		}
	}
	return n, err
}

// Close releases the governor ticket. The underlying source, if it also
// implements io.Closer, is not closed here — callers own that lifecycle
// separately since the reader may wrap a non-closing view (e.g. a limited
// section of a larger stream).
func (r *ThrottledReader) Close() error {
	if r.ticket != nil {
		r.ticket.Release()
	}
	return nil
}
