// Package discovery walks the database's local data directory, triggers
// snapshots over the database control channel, and watches for new
// SSTables and commit logs written during incremental backups.
package discovery

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ringbackup/sidecar/internal/backuppath"
	"github.com/ringbackup/sidecar/internal/constants"
	"github.com/ringbackup/sidecar/internal/dbcontrol"
	"github.com/ringbackup/sidecar/internal/errs"
	"github.com/ringbackup/sidecar/internal/fingerprint"
)

// Discovery scans a database data directory and a commit log directory for
// files to back up, deduplicating against the process-wide fingerprint
// cache before ever emitting a BackupPath.
type Discovery struct {
	DataFileLocation  string
	CommitLogLocation string
	ClusterName       string
	Token             string
	Region            string

	Codec *backuppath.Codec
	DB    dbcontrol.Control
	Cache *fingerprint.Cache
}

// shouldEmit reports whether bp's remote key is not already known to the
// fingerprint cache with a matching size — the dedup rule every emission
// path applies before handing a BackupPath to the upload pipeline.
func (d *Discovery) shouldEmit(bp backuppath.BackupPath) (string, bool) {
	key, err := d.Codec.Encode(bp)
	if err != nil {
		return "", false
	}
	return key, !d.Cache.Knows(key, bp.Size)
}

// SnapshotBackup issues a snapshot command tagged with tag (conventionally
// the round's yyyyMMddHHmm instant), then enumerates every
// <dataDir>/<ks>/<cf>/snapshots/<tag>/ directory and returns a BackupPath
// for each file found, deduplicated against the fingerprint cache. A
// snapshot command failure fails the whole round: no partial snapshot is
// published.
func (d *Discovery) SnapshotBackup(ctx context.Context, tag string) ([]backuppath.BackupPath, error) {
	if _, err := d.DB.Snapshot(ctx, tag); err != nil {
		return nil, err
	}

	instant, err := time.Parse(constants.KeyTimeLayout, tag)
	if err != nil {
		return nil, errs.New(errs.KindConfig, "discovery.SnapshotBackup", err)
	}

	var out []backuppath.BackupPath
	keyspaces, err := listSubdirs(d.DataFileLocation)
	if err != nil {
		return nil, errs.New(errs.KindLocalIO, "discovery.SnapshotBackup", err)
	}

	for _, ks := range keyspaces {
		cfs, err := listSubdirs(filepath.Join(d.DataFileLocation, ks))
		if err != nil {
			continue
		}
		for _, cf := range cfs {
			snapDir := filepath.Join(d.DataFileLocation, ks, cf, constants.SnapshotDirName, tag)
			files, err := listFiles(snapDir)
			if err != nil {
				continue // no snapshot taken for this column family, or dir unreadable
			}
			for _, f := range files {
				bp := backuppath.BackupPath{
					Type:         backuppath.TypeSnapshot,
					ClusterName:  d.ClusterName,
					Keyspace:     ks,
					ColumnFamily: cf,
					Token:        d.Token,
					Region:       d.Region,
					Time:         instant,
					FileName:     f.Name(),
					Size:         f.Size(),
					LastModified: f.ModTime(),
					LocalPath:    filepath.Join(snapDir, f.Name()),
				}
				if _, emit := d.shouldEmit(bp); emit {
					out = append(out, bp)
				}
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		ki, _ := d.Codec.Encode(out[i])
		kj, _ := d.Codec.Encode(out[j])
		return ki < kj
	})
	return out, nil
}

func listSubdirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	return dirs, nil
}

func listFiles(dir string) ([]os.FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []os.FileInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, info)
	}
	return files, nil
}
