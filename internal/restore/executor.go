package restore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ringbackup/sidecar/internal/backuppath"
	"github.com/ringbackup/sidecar/internal/config"
	"github.com/ringbackup/sidecar/internal/dbcontrol"
	"github.com/ringbackup/sidecar/internal/diskspace"
	"github.com/ringbackup/sidecar/internal/errs"
	"github.com/ringbackup/sidecar/internal/events"
	"github.com/ringbackup/sidecar/internal/objectstore"
	"github.com/ringbackup/sidecar/internal/registry"
	"github.com/ringbackup/sidecar/internal/retry"
	"github.com/ringbackup/sidecar/internal/streamio"
	"github.com/ringbackup/sidecar/internal/throttle"
	"github.com/ringbackup/sidecar/internal/validation"
)

// diskSpaceSafetyMargin is the multiplier CheckAvailableSpace applies on top
// of the plan's total uncompressed size before a restore is allowed to start.
const diskSpaceSafetyMargin = 1.1

// Executor fetches, decompresses, and places a restore Plan's files, then
// signals the database to refresh each touched column family.
type Executor struct {
	Objs     objectstore.Store
	Governor *throttle.Governor
	DB       dbcontrol.Control
	Registry *registry.Registry

	DataFileLocation  string
	CommitLogLocation string
	Compression       config.CompressionCodec
	RetryPolicy       retry.Policy
}

// Outcome is the restore's terminal state. Unlike a backup round, a restore
// never partially succeeds: any permanent fetch failure aborts the whole
// operation, though files already placed remain on disk.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailed
)

// Result summarizes one restore's completion.
type Result struct {
	Outcome Outcome
	Placed  int
	Skipped int
	Cause   error
}

func (x *Executor) localPath(pe PlannedEntry) string {
	switch pe.Type {
	case backuppath.TypeCommitLog:
		if x.CommitLogLocation != "" {
			return filepath.Join(x.CommitLogLocation, pe.FileName)
		}
		return filepath.Join(x.DataFileLocation, pe.FileName)
	default:
		return filepath.Join(x.DataFileLocation, pe.Keyspace, pe.ColumnFamily, pe.FileName)
	}
}

// checkWithinRoot rejects a planned entry whose file name or computed
// destination would place a file outside the configured data/commit-log
// root. A manifest is fetched from the object store by remote key rather
// than by trusted local input, so a corrupted or tampered entry's FileName
// is not assumed safe to feed into filepath.Join unchecked.
func (x *Executor) checkWithinRoot(pe PlannedEntry, destPath string) error {
	if err := validation.ValidateFilename(pe.FileName); err != nil {
		return errs.New(errs.KindMalformedKey, "restore.checkWithinRoot", err)
	}
	root := x.DataFileLocation
	if pe.Type == backuppath.TypeCommitLog && x.CommitLogLocation != "" {
		root = x.CommitLogLocation
	}
	if err := validation.ValidatePathInDirectory(destPath, root); err != nil {
		return errs.New(errs.KindMalformedKey, "restore.checkWithinRoot", err)
	}
	return nil
}

// alreadyPlaced reports whether path exists on disk with exactly size bytes
// already — the restore-side mirror of the upload fingerprint skip rule.
func alreadyPlaced(path string, size int64) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() == size
}

// Execute runs plan to completion: disk-space check, placement, then
// per-column-family DB refresh.
func (x *Executor) Execute(ctx context.Context, plan *Plan) Result {
	var totalNeeded int64
	pending := make([]PlannedEntry, 0, len(plan.Entries))
	for _, pe := range plan.Entries {
		path := x.localPath(pe)
		if alreadyPlaced(path, pe.Size) {
			continue
		}
		pending = append(pending, pe)
		totalNeeded += pe.Size
	}
	skipped := len(plan.Entries) - len(pending)

	if totalNeeded > 0 {
		if err := diskspace.CheckAvailableSpace(x.DataFileLocation, totalNeeded, diskSpaceSafetyMargin); err != nil {
			return Result{Outcome: OutcomeFailed, Skipped: skipped, Cause: err}
		}
	}

	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		mu       sync.Mutex
		placed   int
		firstErr error
	)

	for _, pe := range pending {
		wg.Add(1)
		go func(pe PlannedEntry) {
			defer wg.Done()
			if err := x.fetchOne(fetchCtx, pe); err != nil {
				once.Do(func() {
					firstErr = err
					cancel()
				})
				return
			}
			mu.Lock()
			placed++
			mu.Unlock()
		}(pe)
	}
	wg.Wait()

	if firstErr != nil {
		return Result{Outcome: OutcomeFailed, Placed: placed, Skipped: skipped, Cause: firstErr}
	}

	x.refreshColumnFamilies(ctx, plan.Entries)

	return Result{Outcome: OutcomeSuccess, Placed: placed, Skipped: skipped}
}

func (x *Executor) fetchOne(ctx context.Context, pe PlannedEntry) error {
	rec := x.Registry.GetOrCreate(pe.RemoteKey)
	rec.Start()
	x.Registry.Record(&events.TransferEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventTransferStarted, Time: time.Now()},
		RemoteKey: pe.RemoteKey,
	})

	destPath := x.localPath(pe)
	if err := x.checkWithinRoot(pe, destPath); err != nil {
		x.fail(pe.RemoteKey, rec, err)
		return err
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		err = errs.New(errs.KindLocalIO, "restore.fetchOne.mkdir", err)
		x.fail(pe.RemoteKey, rec, err)
		return err
	}

	ticket, err := x.Governor.Acquire(ctx)
	if err != nil {
		x.fail(pe.RemoteKey, rec, err)
		return err
	}
	defer ticket.Release()

	err = retry.Do(ctx, x.RetryPolicy, "restore.fetchOne", func() error {
		return x.fetchOnceInto(ctx, ticket, pe, destPath)
	})
	if err != nil {
		x.fail(pe.RemoteKey, rec, err)
		return err
	}

	rec.Done()
	x.Registry.Record(&events.TransferEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventTransferDone, Time: time.Now()},
		RemoteKey: pe.RemoteKey,
	})
	return nil
}

// fetchOnceInto downloads and decompresses pe into a sibling temp file next
// to destPath, then renames it into place atomically. A partial temp file
// left by a failed attempt is removed before the next retry.
func (x *Executor) fetchOnceInto(ctx context.Context, ticket *throttle.Ticket, pe PlannedEntry, destPath string) error {
	src, err := x.Objs.Get(ctx, pe.RemoteKey)
	if err != nil {
		return err
	}
	defer src.Close()

	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".restore-*.tmp")
	if err != nil {
		return errs.New(errs.KindLocalIO, "restore.fetchOnceInto.createTemp", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		tmp.Close()
		os.Remove(tmpPath)
	}()

	throttled := x.Governor.WrapReader(ctx, ticket, src)
	dr, err := streamio.NewDecompressReader(throttled, codecFor(x.Compression))
	if err != nil {
		return err
	}
	defer dr.Close()

	// Tee the decompressed bytes through sha256 as they're written, so the
	// post-decompression digest can be compared against the manifest's
	// uncompressed-size-and-hash entry. This is the restore-side mirror of
	// the hash upload computes over the same uncompressed bytes before
	// staging ever compresses them.
	sum := sha256.New()
	if _, err := io.Copy(tmp, io.TeeReader(dr, sum)); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return errs.New(errs.KindLocalIO, "restore.fetchOnceInto.close", err)
	}

	if pe.SHA256 != "" {
		if got := hex.EncodeToString(sum.Sum(nil)); got != pe.SHA256 {
			return errs.New(errs.KindCorruptCompressed, "restore.fetchOnceInto.verify",
				fmt.Errorf("sha256 mismatch for %s: manifest=%s got=%s", pe.RemoteKey, pe.SHA256, got))
		}
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return errs.New(errs.KindLocalIO, "restore.fetchOnceInto.rename", err)
	}
	return nil
}

func (x *Executor) fail(key string, rec *registry.TransferRecord, err error) {
	rec.Fail(err)
	x.Registry.Record(&events.TransferEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventTransferFailed, Time: time.Now()},
		RemoteKey: key,
		Error:     err,
	})
}

// refreshColumnFamilies invokes the DB refresh endpoint once per distinct
// (keyspace, columnFamily) pair touched by the plan. Failures here are
// logged but not fatal: the restore is already considered successful at the
// file level once every entry is placed.
func (x *Executor) refreshColumnFamilies(ctx context.Context, entries []PlannedEntry) {
	type pair struct{ ks, cf string }
	seen := make(map[pair]bool)
	for _, pe := range entries {
		if pe.ColumnFamily == "" {
			continue
		}
		p := pair{pe.Keyspace, pe.ColumnFamily}
		if seen[p] {
			continue
		}
		seen[p] = true
		if _, err := x.DB.Refresh(ctx, pe.Keyspace, pe.ColumnFamily); err != nil {
			x.Registry.Record(&events.LogEvent{
				BaseEvent: events.BaseEvent{EventType: events.EventLog, Time: time.Now()},
				Level:     events.WarnLevel,
				Message:   "post-restore refresh failed for " + pe.Keyspace + "/" + pe.ColumnFamily,
				Error:     err,
			})
		}
	}
}

// codecFor mirrors upload's config-to-streamio codec mapping; restore needs
// the same translation to decompress what backup compressed.
func codecFor(c config.CompressionCodec) streamio.Codec {
	switch c {
	case config.CodecLZF:
		return streamio.CodecLZF
	case config.CodecNone:
		return streamio.CodecNone
	default:
		return streamio.CodecSnappy
	}
}
