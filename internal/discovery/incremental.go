package discovery

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/ringbackup/sidecar/internal/backuppath"
	"github.com/ringbackup/sidecar/internal/errs"
)

// EmitFunc receives one newly-discovered, not-yet-uploaded BackupPath.
type EmitFunc func(backuppath.BackupPath)

// Watcher watches every <dataDir>/<ks>/<cf>/backups/ directory for new
// SSTables and the commit log directory for new commit log segments,
// emitting a BackupPath for each as it appears.
type Watcher struct {
	d  *Discovery
	fw *fsnotify.Watcher
}

// NewWatcher builds a Watcher and adds watches for every backups/ directory
// currently under d.DataFileLocation plus d.CommitLogLocation. Column
// families created after this call are not watched.
func NewWatcher(d *Discovery) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errs.New(errs.KindLocalIO, "discovery.NewWatcher", err)
	}

	w := &Watcher{d: d, fw: fw}
	if err := w.addDataDirWatches(); err != nil {
		fw.Close()
		return nil, err
	}
	if d.CommitLogLocation != "" {
		if err := fw.Add(d.CommitLogLocation); err != nil && !os.IsNotExist(err) {
			fw.Close()
			return nil, errs.New(errs.KindLocalIO, "discovery.NewWatcher", err)
		}
	}
	return w, nil
}

func (w *Watcher) addDataDirWatches() error {
	keyspaces, err := listSubdirs(w.d.DataFileLocation)
	if err != nil {
		return errs.New(errs.KindLocalIO, "discovery.NewWatcher", err)
	}
	for _, ks := range keyspaces {
		cfs, err := listSubdirs(filepath.Join(w.d.DataFileLocation, ks))
		if err != nil {
			continue
		}
		for _, cf := range cfs {
			backupsDir := filepath.Join(w.d.DataFileLocation, ks, cf, "backups")
			if info, err := os.Stat(backupsDir); err == nil && info.IsDir() {
				_ = w.fw.Add(backupsDir)
			}
		}
	}
	return nil
}

// Close releases the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.fw.Close()
}

// Run blocks, emitting a BackupPath via emit for each new file observed,
// until ctx is cancelled or the watcher's event channel closes.
func (w *Watcher) Run(ctx context.Context, emit EmitFunc) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.handleEvent(ev.Name, emit)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			if err != nil {
				return errs.New(errs.KindLocalIO, "discovery.Watch", err)
			}
		}
	}
}

func (w *Watcher) handleEvent(path string, emit EmitFunc) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}

	if w.d.CommitLogLocation != "" && strings.HasPrefix(path, w.d.CommitLogLocation) {
		w.emitCommitLog(path, info, emit)
		return
	}
	w.emitSSTable(path, info, emit)
}

// backupsDirKeyspaceCF extracts (keyspace, columnFamily) from a path of the
// shape <dataDir>/<ks>/<cf>/backups/<file>.
func backupsDirKeyspaceCF(dataDir, path string) (ks, cf string, ok bool) {
	rel, err := filepath.Rel(dataDir, path)
	if err != nil {
		return "", "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 4 || parts[2] != "backups" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func (w *Watcher) emitSSTable(path string, info os.FileInfo, emit EmitFunc) {
	ks, cf, ok := backupsDirKeyspaceCF(w.d.DataFileLocation, path)
	if !ok {
		return
	}
	bp := backuppath.BackupPath{
		Type:         backuppath.TypeSSTable,
		ClusterName:  w.d.ClusterName,
		Keyspace:     ks,
		ColumnFamily: cf,
		Token:        w.d.Token,
		Region:       w.d.Region,
		Time:         info.ModTime(),
		FileName:     info.Name(),
		Size:         info.Size(),
		LastModified: info.ModTime(),
		LocalPath:    path,
	}
	if _, emitOK := w.d.shouldEmit(bp); emitOK {
		emit(bp)
	}
}

// commitLogKeyspace extracts the keyspace prefix from a commit log segment
// file name of the form "<keyspace>-<generation>.log". Files that don't
// follow that convention fall back to a catch-all "system" keyspace, since
// every CL BackupPath requires a non-empty keyspace.
func commitLogKeyspace(fileName string) string {
	if idx := strings.Index(fileName, "-"); idx > 0 {
		return fileName[:idx]
	}
	return "system"
}

func (w *Watcher) emitCommitLog(path string, info os.FileInfo, emit EmitFunc) {
	bp := backuppath.BackupPath{
		Type:         backuppath.TypeCommitLog,
		ClusterName:  w.d.ClusterName,
		Keyspace:     commitLogKeyspace(info.Name()),
		Token:        w.d.Token,
		Region:       w.d.Region,
		Time:         info.ModTime(),
		FileName:     info.Name(),
		Size:         info.Size(),
		LastModified: info.ModTime(),
		LocalPath:    path,
	}
	if _, emitOK := w.d.shouldEmit(bp); emitOK {
		emit(bp)
	}
}
