// Package upload implements the stage-compress-transmit-record pipeline
// (C6): the only path by which a local file becomes a durably stored,
// manifest-referenced remote object.
package upload

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ringbackup/sidecar/internal/backuppath"
	"github.com/ringbackup/sidecar/internal/config"
	"github.com/ringbackup/sidecar/internal/errs"
	"github.com/ringbackup/sidecar/internal/events"
	"github.com/ringbackup/sidecar/internal/fingerprint"
	"github.com/ringbackup/sidecar/internal/manifest"
	"github.com/ringbackup/sidecar/internal/objectstore"
	"github.com/ringbackup/sidecar/internal/progress"
	"github.com/ringbackup/sidecar/internal/registry"
	"github.com/ringbackup/sidecar/internal/retry"
	"github.com/ringbackup/sidecar/internal/throttle"
)

// Pipeline wires together every component one file transfer passes through.
type Pipeline struct {
	Objs     objectstore.Store
	Codec    *backuppath.Codec
	Governor *throttle.Governor
	Cache    *fingerprint.Cache
	Registry *registry.Registry
	Bus      *events.Bus // optional; when set, per-file transfer progress is published

	Compression config.CompressionCodec
	RetryPolicy retry.Policy
	StageDir    string // defaults to os.TempDir() if empty
}

func (p *Pipeline) stageDir() string {
	if p.StageDir != "" {
		return p.StageDir
	}
	return os.TempDir()
}

// UploadOne runs one file through the pipeline: skip decision, stage
// (compress + hash), transmit (governed, retried Put), and record (cache,
// registry, manifest entry). A nil error with skipped=true means the file
// was already durably stored and needs no transfer; its entry should still
// be added to the round's manifest since it remains part of the round.
func (p *Pipeline) UploadOne(ctx context.Context, bp backuppath.BackupPath) (entry manifest.Entry, skipped bool, err error) {
	key, err := p.Codec.Encode(bp)
	if err != nil {
		return manifest.Entry{}, false, err
	}

	rec := p.Registry.GetOrCreate(key)

	if p.Cache.Knows(key, bp.Size) {
		return manifest.Entry{
			Keyspace:     bp.Keyspace,
			ColumnFamily: bp.ColumnFamily,
			FileName:     bp.FileName,
			RemoteKey:    key,
			Size:         bp.Size,
		}, true, nil
	}

	rec.Start()
	p.Registry.Record(&events.TransferEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventTransferStarted, Time: time.Now()},
		RemoteKey: key,
	})

	staged, err := stage(p.stageDir(), bp.LocalPath, p.Compression)
	if err != nil {
		p.fail(key, rec, err)
		return manifest.Entry{}, false, err
	}
	defer os.Remove(staged.path)

	ticket, err := p.Governor.Acquire(ctx)
	if err != nil {
		p.fail(key, rec, err)
		return manifest.Entry{}, false, err
	}
	defer ticket.Release()

	metadata := map[string]string{"sha256": staged.sha256}

	reporter := progress.Reporter(progress.NewNoOpProgress())
	if p.Bus != nil {
		reporter = progress.NewBusProgress(p.Bus, key)
	}
	reporter.Start(staged.compressedSize, key)

	putErr := retry.Do(ctx, p.RetryPolicy, "upload.Put", func() error {
		f, ferr := os.Open(staged.path)
		if ferr != nil {
			return errs.New(errs.KindLocalIO, "upload.Put.open", ferr)
		}
		defer f.Close()

		tr := p.Governor.WrapReader(ctx, ticket, f)
		pr := progress.NewProgressReader(tr, staged.compressedSize, reporter)
		_, perr := p.Objs.Put(ctx, key, pr, staged.compressedSize, metadata)
		return perr
	})
	if putErr != nil {
		reporter.Error(putErr)
	} else {
		reporter.Finish()
	}
	if putErr != nil {
		p.fail(key, rec, putErr)
		return manifest.Entry{}, false, putErr
	}

	p.Cache.Put(key, fingerprint.Entry{Size: bp.Size, UploadedAt: time.Now()})
	rec.UpdateProgress(staged.compressedSize)
	rec.Done()
	p.Registry.Record(&events.TransferEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventTransferDone, Time: time.Now()},
		RemoteKey: key,
	})

	return manifest.Entry{
		Keyspace:       bp.Keyspace,
		ColumnFamily:   bp.ColumnFamily,
		FileName:       bp.FileName,
		RemoteKey:      key,
		Size:           bp.Size,
		CompressedSize: staged.compressedSize,
		SHA256:         staged.sha256,
	}, false, nil
}

func (p *Pipeline) fail(key string, rec *registry.TransferRecord, err error) {
	rec.Fail(err)
	p.Registry.Record(&events.TransferEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventTransferFailed, Time: time.Now()},
		RemoteKey: key,
		Error:     err,
	})
}

// RoundResult summarizes the outcome of uploading a whole backup round.
type RoundResult struct {
	Completed int
	Skipped   int
	Failed    int
	Errors    []error
}

// RoundOutcome classifies a RoundResult into the three terminal states a
// backup round can reach.
type RoundOutcome int

const (
	// RoundSuccess means every file in the round was uploaded or skipped;
	// the round's manifest is safe to publish as a commit marker.
	RoundSuccess RoundOutcome = iota
	// RoundPartialFailure means some files succeeded and at least one
	// failed permanently. No manifest may be published for this round:
	// a manifest is the promise that every file it names is durably
	// stored, and a partial round cannot make that promise.
	RoundPartialFailure
	// RoundFailed means every file in the round failed; nothing was
	// uploaded and nothing was skipped.
	RoundFailed
)

// Outcome classifies r.
func (r RoundResult) Outcome() RoundOutcome {
	switch {
	case r.Failed == 0:
		return RoundSuccess
	case r.Completed == 0 && r.Skipped == 0:
		return RoundFailed
	default:
		return RoundPartialFailure
	}
}

// PartialFailureError reports that a backup round ended in RoundPartialFailure.
// It is returned by a round's driver function rather than treated as a plain
// error, so callers (the scheduler, in particular) can record the round as
// completed-with-failures rather than as an outright failure.
type PartialFailureError struct {
	Failed int
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("partial failure: %d file(s) failed", e.Failed)
}

// UploadRound runs every path in paths through the pipeline concurrently,
// one goroutine per path with no separate worker pool: the governor's slot
// semaphore bounds how many files transmit at once, while staging runs
// before a slot is acquired. Each successful or skipped file is added to
// builder. A single file's
// permanent failure does not abort the round: per-file errors are collected
// and returned, and the caller decides whether the round as a whole is a
// partial failure. The manifest itself is never written here; callers must
// call manifest.Store.Write only after UploadRound returns, so the commit
// marker always lands strictly after every data file.
func (p *Pipeline) UploadRound(ctx context.Context, paths []backuppath.BackupPath, builder *manifest.Builder) RoundResult {
	var (
		mu     sync.Mutex
		result RoundResult
		wg     sync.WaitGroup
	)

	for _, bp := range paths {
		wg.Add(1)
		go func(bp backuppath.BackupPath) {
			defer wg.Done()

			entry, skipped, err := p.UploadOne(ctx, bp)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				result.Errors = append(result.Errors, err)
				return
			}
			if skipped {
				result.Skipped++
			} else {
				result.Completed++
			}
			builder.Add(entry)
		}(bp)
	}
	wg.Wait()

	return result
}
