// Package retry implements the exponential-backoff-with-jitter retry policy
// shared by every remote call the core makes: object-store requests and the
// database control-channel RPCs. Classification decides whether an error is
// worth retrying at all; cenkalti/backoff supplies the actual delay curve.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/ringbackup/sidecar/internal/constants"
	"github.com/ringbackup/sidecar/internal/errs"
)

// Policy configures a retry loop. A zero Policy uses package defaults.
type Policy struct {
	MaxAttempts int // total attempts including the first
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy returns the package-wide default retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: constants.DefaultMaxRetries,
		BaseDelay:   constants.DefaultRetryBaseDelay,
		MaxDelay:    constants.DefaultRetryMaxDelay,
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = constants.DefaultMaxRetries
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = constants.DefaultRetryBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = constants.DefaultRetryMaxDelay
	}
	return p
}

// Classify maps a raw error to a Kind using the same signal classes the
// object-store backends rely on: context cancellation, net.Error timeouts,
// and well-known status substrings. Errors already wrapped in *errs.Error
// keep their existing Kind.
func Classify(err error) errs.Kind {
	var e *errs.Error
	if errors.As(err, &e) {
		return e.Kind
	}

	if errors.Is(err, context.Canceled) {
		return errs.KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errs.KindTimeout
	}

	s := strings.ToLower(err.Error())
	switch {
	case containsAny(s, "expired", "invalid token", "403", "unauthorized", "authentication failed", "signature not valid"):
		return errs.KindRemotePermanent
	case containsAny(s, "requesttimeout", "internalerror", "serviceunavailable", "slowdown", "throttl", "429", "500", "502", "503", "504", "server busy", "connection reset", "broken pipe", "eof", "i/o timeout"):
		return errs.KindRemoteTransient
	default:
		return errs.KindRemotePermanent
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// retryableKind reports whether kind warrants another attempt.
func retryableKind(kind errs.Kind) bool {
	switch kind {
	case errs.KindRemoteTransient, errs.KindLocalIO, errs.KindTimeout:
		return true
	default:
		return false
	}
}

// Do runs fn, retrying on classify-retryable errors with exponential backoff
// and full jitter up to policy.MaxAttempts. It returns nil on success. When
// an attempt fails with a non-retryable error, or the last attempt fails, it
// returns that error as an *errs.Error: one that already is an *errs.Error is
// returned unchanged, anything else is wrapped with its classified Kind and op.
// fn's own errors are passed through Classify unless already an *errs.Error.
func Do(ctx context.Context, policy Policy, op string, fn func() error) error {
	policy = policy.withDefaults()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.BaseDelay
	b.MaxInterval = policy.MaxDelay
	b.RandomizationFactor = 0 // full jitter is applied below
	b.MaxElapsedTime = 0      // bounded by MaxAttempts, not elapsed time
	b.Reset()

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return errs.New(errs.KindCancelled, op, ctx.Err())
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		kind := Classify(err)
		if !retryableKind(kind) || attempt == policy.MaxAttempts {
			var e *errs.Error
			if errors.As(err, &e) {
				return e
			}
			return errs.New(kind, op, err)
		}

		wait := time.Duration(rand.Int63n(int64(b.NextBackOff()) + 1))
		select {
		case <-ctx.Done():
			return errs.New(errs.KindCancelled, op, ctx.Err())
		case <-time.After(wait):
		}
	}
	return errs.New(Classify(lastErr), op, lastErr)
}
