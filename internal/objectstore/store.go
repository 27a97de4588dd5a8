// Package objectstore defines the uniform put/get/list/delete/exists
// contract the core depends on; any backend satisfying Store (S3-compatible,
// Azure, GCS) is acceptable. Concrete backends live in the s3 and azure
// subpackages.
package objectstore

import (
	"context"
	"io"
	"time"
)

// ObjectInfo describes one listed object.
type ObjectInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// PutResult is returned by a successful Put.
type PutResult struct {
	ETag string
	Size int64 // bytes actually transmitted (post-compression, if any)
}

// Store is the abstract object-store contract every backend implements.
// Implementations are responsible for internally switching to multipart /
// block upload when size exceeds their configured threshold, uploading parts
// concurrently bounded by their own part-concurrency setting, and retrying
// transient failures with exponential backoff and full jitter. Part uploads
// are not admitted through the throttle governor.
type Store interface {
	// Put uploads size bytes read from r under key. metadata is stored as
	// backend-native object metadata when supported.
	Put(ctx context.Context, key string, r io.Reader, size int64, metadata map[string]string) (PutResult, error)

	// Get returns a reader for key. Opening the object is retried on
	// transient errors; a stream that fails mid-read is not resumed.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// List returns every object whose key has the given prefix, in
	// ascending key order, stopping early if the callback returns false.
	// Implementations page internally; callers never see page boundaries.
	List(ctx context.Context, prefix string, fn func(ObjectInfo) bool) error

	// Delete removes key. Deleting a key that does not exist is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
}
