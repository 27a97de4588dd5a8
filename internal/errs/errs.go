// Package errs defines the error-kind taxonomy shared by every stage of the
// backup/restore pipeline, mirroring how callers are expected to branch on
// failure class rather than on error strings.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry and reporting purposes.
type Kind int

const (
	// KindConfig indicates a fatal startup configuration problem.
	KindConfig Kind = iota
	// KindMalformedKey indicates a remote key failed to decode.
	KindMalformedKey
	// KindLocalIO indicates a local filesystem read/write failure.
	KindLocalIO
	// KindRemoteTransient indicates a retryable object-store failure.
	KindRemoteTransient
	// KindRemotePermanent indicates a non-retryable object-store failure.
	KindRemotePermanent
	// KindCorruptCompressed indicates a checksum or trailer mismatch on decompress.
	KindCorruptCompressed
	// KindManifestBroken indicates a manifest referenced a key that doesn't exist.
	KindManifestBroken
	// KindCancelled indicates cooperative cancellation was observed.
	KindCancelled
	// KindTimeout indicates a per-request, per-file, or per-round timeout fired.
	KindTimeout
	// KindDBControl indicates the local database control-channel RPC failed.
	KindDBControl
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "Config"
	case KindMalformedKey:
		return "MalformedKey"
	case KindLocalIO:
		return "LocalIO"
	case KindRemoteTransient:
		return "RemoteTransient"
	case KindRemotePermanent:
		return "RemotePermanent"
	case KindCorruptCompressed:
		return "CorruptCompressed"
	case KindManifestBroken:
		return "ManifestBroken"
	case KindCancelled:
		return "Cancelled"
	case KindTimeout:
		return "Timeout"
	case KindDBControl:
		return "DBControl"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying cause with a Kind so callers can match on
// classification with errors.As instead of parsing messages.
type Error struct {
	Kind  Kind
	Op    string // operation that failed, e.g. "put", "decode", "snapshot"
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error for the given kind/op/cause.
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Cause: cause}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Retryable reports whether the retry policy calls for retrying this error:
// RemoteTransient, LocalIO, and Timeout are retried; everything else is
// surfaced immediately. LocalIO is retried whether the failed local
// operation was a read or a write.
func Retryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case KindRemoteTransient, KindLocalIO, KindTimeout:
		return true
	default:
		return false
	}
}
