package restore

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ringbackup/sidecar/internal/backuppath"
	"github.com/ringbackup/sidecar/internal/config"
	"github.com/ringbackup/sidecar/internal/dbcontrol"
	"github.com/ringbackup/sidecar/internal/registry"
	"github.com/ringbackup/sidecar/internal/retry"
	"github.com/ringbackup/sidecar/internal/streamio"
	"github.com/ringbackup/sidecar/internal/throttle"
)

type fakeDB struct {
	refreshed []string
}

func (f *fakeDB) Snapshot(context.Context, string) (dbcontrol.Result, error) { return dbcontrol.Result{}, nil }
func (f *fakeDB) Refresh(_ context.Context, ks, cf string) (dbcontrol.Result, error) {
	f.refreshed = append(f.refreshed, ks+"/"+cf)
	return dbcontrol.Result{}, nil
}
func (f *fakeDB) ClearSnapshot(context.Context, string) (dbcontrol.Result, error) {
	return dbcontrol.Result{}, nil
}

func compressedBytes(t *testing.T, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := streamio.NewCompressWriter(&buf, streamio.CodecSnappy)
	if err != nil {
		t.Fatalf("NewCompressWriter: %v", err)
	}
	if _, err := w.Write([]byte(content)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return buf.Bytes()
}

func newTestExecutor(objs *memStore, dataDir string, db dbcontrol.Control) *Executor {
	return &Executor{
		Objs:             objs,
		Governor:         throttle.NewGovernor(4, throttle.NewByteRateLimiter(0, 0)),
		DB:               db,
		Registry:         registry.New(64, nil),
		DataFileLocation: dataDir,
		Compression:      config.CodecSnappy,
		RetryPolicy:      retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}
}

func TestExecutePlacesFilesAndRefreshesColumnFamilies(t *testing.T) {
	dataDir := t.TempDir()
	objs := newMemStore()
	codec := backuppath.NewCodec("bucket", "backups", "cluster1")
	instant, _ := time.Parse("200601021504", "202601021500")

	content := "hello restore world"
	e := entryFor(t, codec, backuppath.TypeSnapshot, "ks1", "cf1", "a-Data.db", instant)
	e.Size = int64(len(content))
	objs.objects[e.RemoteKey] = compressedBytes(t, content)

	db := &fakeDB{}
	x := newTestExecutor(objs, dataDir, db)
	plan := &Plan{Token: "tok1", TargetTime: instant, Entries: []PlannedEntry{{Entry: e, Type: backuppath.TypeSnapshot, Instant: instant}}}

	result := x.Execute(context.Background(), plan)
	if result.Outcome != OutcomeSuccess {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.Placed != 1 {
		t.Fatalf("expected 1 placed file, got %d", result.Placed)
	}

	placedPath := filepath.Join(dataDir, "ks1", "cf1", "a-Data.db")
	got, err := os.ReadFile(placedPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != content {
		t.Fatalf("expected decompressed content %q, got %q", content, got)
	}

	if len(db.refreshed) != 1 || db.refreshed[0] != "ks1/cf1" {
		t.Fatalf("expected refresh for ks1/cf1, got %+v", db.refreshed)
	}
}

func TestExecuteSkipsFileAlreadyPlacedWithMatchingSize(t *testing.T) {
	dataDir := t.TempDir()
	objs := newMemStore()
	codec := backuppath.NewCodec("bucket", "backups", "cluster1")
	instant, _ := time.Parse("200601021504", "202601021500")

	content := "already here"
	e := entryFor(t, codec, backuppath.TypeSnapshot, "ks1", "cf1", "a-Data.db", instant)
	e.Size = int64(len(content))

	destPath := filepath.Join(dataDir, "ks1", "cf1", "a-Data.db")
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(destPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	x := newTestExecutor(objs, dataDir, &fakeDB{})
	plan := &Plan{Entries: []PlannedEntry{{Entry: e, Type: backuppath.TypeSnapshot, Instant: instant}}}

	result := x.Execute(context.Background(), plan)
	if result.Outcome != OutcomeSuccess || result.Skipped != 1 || result.Placed != 0 {
		t.Fatalf("expected 1 skipped, 0 placed, got %+v", result)
	}
}

func TestExecuteRejectsFileNameEscapingDataRoot(t *testing.T) {
	dataDir := t.TempDir()
	objs := newMemStore()
	codec := backuppath.NewCodec("bucket", "backups", "cluster1")
	instant, _ := time.Parse("200601021504", "202601021500")

	e := entryFor(t, codec, backuppath.TypeSnapshot, "ks1", "cf1", "a-Data.db", instant)
	e.FileName = "../../../etc/passwd"
	objs.objects[e.RemoteKey] = compressedBytes(t, "malicious")

	x := newTestExecutor(objs, dataDir, &fakeDB{})
	plan := &Plan{Entries: []PlannedEntry{{Entry: e, Type: backuppath.TypeSnapshot, Instant: instant}}}

	result := x.Execute(context.Background(), plan)
	if result.Outcome != OutcomeFailed {
		t.Fatalf("expected failure for escaping filename, got %+v", result)
	}
	if _, err := os.Stat(filepath.Join(dataDir, "ks1", "cf1", e.FileName)); err == nil {
		t.Fatal("escaping write must not have happened")
	}
}

func TestExecuteFailsOnPermanentFetchError(t *testing.T) {
	dataDir := t.TempDir()
	objs := newMemStore() // object never Put, so Get returns ErrNotFound
	codec := backuppath.NewCodec("bucket", "backups", "cluster1")
	instant, _ := time.Parse("200601021504", "202601021500")

	e := entryFor(t, codec, backuppath.TypeSnapshot, "ks1", "cf1", "missing-Data.db", instant)

	x := newTestExecutor(objs, dataDir, &fakeDB{})
	plan := &Plan{Entries: []PlannedEntry{{Entry: e, Type: backuppath.TypeSnapshot, Instant: instant}}}

	result := x.Execute(context.Background(), plan)
	if result.Outcome != OutcomeFailed {
		t.Fatalf("expected failure, got %+v", result)
	}
	if result.Cause == nil {
		t.Fatal("expected a cause error")
	}
}
