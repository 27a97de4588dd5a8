// Package dbcontrol adapts the local database control channel to the three
// operations the core depends on: triggering a snapshot, refreshing a
// column family after restore, and clearing a stale snapshot tag. The core
// never speaks the database's own wire protocol directly.
package dbcontrol

import (
	"context"

	"github.com/ringbackup/sidecar/internal/errs"
)

// Result is the outcome of a single control-channel call.
type Result struct {
	Tag     string
	Message string
}

// Control is the minimal adapter surface the pipeline consumes. Any driver
// satisfying it is acceptable; the HTTP implementation in this package talks
// to the database's local management endpoint, but a driver could as easily
// shell out to a CLI or speak a unix-socket RPC.
type Control interface {
	// Snapshot issues a snapshot command tagged with tag (conventionally
	// the yyyyMMddHHmm instant of the backup round).
	Snapshot(ctx context.Context, tag string) (Result, error)

	// Refresh tells the database to open newly-placed SSTables for the
	// given keyspace/column family after a restore completes.
	Refresh(ctx context.Context, keyspace, columnFamily string) (Result, error)

	// ClearSnapshot removes a previously-taken snapshot tag, freeing the
	// hard-linked disk space it holds.
	ClearSnapshot(ctx context.Context, tag string) (Result, error)
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return errs.New(errs.KindDBControl, op, err)
}
