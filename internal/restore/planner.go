// Package restore implements the restore planner and executor (C8): given a
// token and a target point in time, it resolves the set of remote objects a
// database needs to open that state, fetches and decompresses them, places
// them atomically, and signals the database to load them.
package restore

import (
	"context"
	"sort"
	"time"

	"github.com/ringbackup/sidecar/internal/backuppath"
	"github.com/ringbackup/sidecar/internal/errs"
	"github.com/ringbackup/sidecar/internal/manifest"
)

// Filter restricts a plan to one keyspace/columnFamily pair. An empty field
// matches anything.
type Filter struct {
	Keyspace     string
	ColumnFamily string
}

func (f Filter) matches(ks, cf string) bool {
	if f.Keyspace != "" && f.Keyspace != ks {
		return false
	}
	if f.ColumnFamily != "" && f.ColumnFamily != cf {
		return false
	}
	return true
}

// PlannedEntry pairs a manifest entry with its decoded key, since the
// executor needs the file's type, keyspace, and instant to place it and the
// planner needs them to apply the snapshot+incremental composition rule.
type PlannedEntry struct {
	manifest.Entry
	Type    backuppath.Type
	Instant time.Time
}

// Plan is the ordered, deduplicated, filtered file set a restore will fetch.
type Plan struct {
	Token        string
	SnapshotTime time.Time // zero if no snapshot round anchors this plan
	TargetTime   time.Time
	Entries      []PlannedEntry
}

// BuildPlan composes the point-in-time view for token at-or-before target:
// the latest snapshot round at-or-before target (if any), plus every
// incremental entry published since that snapshot up to target, filtered by
// filter. With no snapshot round in range, every entry from every manifest
// up to target is included undifferentiated — a degraded but usable
// fallback for an incremental-only chain.
func BuildPlan(ctx context.Context, store *manifest.Store, codec *backuppath.Codec, token string, target time.Time, filter Filter) (*Plan, error) {
	manifests, err := store.ListUpTo(ctx, token, target)
	if err != nil {
		return nil, err
	}
	if len(manifests) == 0 {
		return nil, errs.New(errs.KindManifestBroken, "restore.BuildPlan", errNoManifest(token, target))
	}

	type decoded struct {
		entry   manifest.Entry
		bp      backuppath.BackupPath
		roundAt time.Time
	}

	var all []decoded
	for _, m := range manifests {
		for _, e := range m.Entries {
			bp, err := codec.Decode(e.RemoteKey)
			if err != nil {
				continue // a key we can't decode can't be placed; skip rather than fail the whole plan
			}
			all = append(all, decoded{entry: e, bp: bp, roundAt: m.Instant})
		}
	}

	var snapshotTime time.Time
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].bp.Type == backuppath.TypeSnapshot {
			snapshotTime = all[i].roundAt
			break
		}
	}

	byKey := make(map[string]decoded)
	for _, d := range all {
		if !filter.matches(d.bp.Keyspace, d.bp.ColumnFamily) {
			continue
		}
		if !snapshotTime.IsZero() {
			isSnapRound := d.roundAt.Equal(snapshotTime)
			inIncrementalWindow := d.bp.Time.After(snapshotTime) && !d.bp.Time.After(target)
			if !isSnapRound && !inIncrementalWindow {
				continue
			}
		}
		byKey[d.entry.RemoteKey] = d
	}

	entries := make([]PlannedEntry, 0, len(byKey))
	for _, d := range byKey {
		entries = append(entries, PlannedEntry{Entry: d.entry, Type: d.bp.Type, Instant: d.bp.Time})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].RemoteKey < entries[j].RemoteKey })

	return &Plan{Token: token, SnapshotTime: snapshotTime, TargetTime: target, Entries: entries}, nil
}

type noManifestError struct {
	token  string
	target time.Time
}

func (e *noManifestError) Error() string {
	return "no manifest found for token " + e.token + " at or before " + e.target.String()
}

func errNoManifest(token string, target time.Time) error {
	return &noManifestError{token: token, target: target}
}
