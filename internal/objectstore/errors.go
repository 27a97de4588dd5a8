package objectstore

import (
	"errors"

	"github.com/ringbackup/sidecar/internal/errs"
)

// ErrNotFound is returned by Get/List-derived lookups when a key does not
// exist. Backends should wrap it so errors.Is(err, ErrNotFound) still works
// after passing through errs.Error.
var ErrNotFound = errors.New("objectstore: key not found")

// IsNotFound reports whether err (possibly wrapped in an *errs.Error)
// represents a missing key.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// WrapTransient classifies err as a retryable remote failure (network
// blips, 5xx responses, throttling).
func WrapTransient(op string, err error) error {
	if err == nil {
		return nil
	}
	return errs.New(errs.KindRemoteTransient, op, err)
}

// WrapPermanent classifies err as a non-retryable remote failure (auth
// failure, bad request, bucket policy denial).
func WrapPermanent(op string, err error) error {
	if err == nil {
		return nil
	}
	return errs.New(errs.KindRemotePermanent, op, err)
}
