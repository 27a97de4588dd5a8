package upload

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ringbackup/sidecar/internal/backuppath"
	"github.com/ringbackup/sidecar/internal/config"
	"github.com/ringbackup/sidecar/internal/fingerprint"
	"github.com/ringbackup/sidecar/internal/manifest"
	"github.com/ringbackup/sidecar/internal/objectstore"
	"github.com/ringbackup/sidecar/internal/registry"
	"github.com/ringbackup/sidecar/internal/retry"
	"github.com/ringbackup/sidecar/internal/throttle"
)

// memStore is a minimal in-memory objectstore.Store, grounded the same way
// as manifest's test fake.
type memStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	putCalls int
	failPuts int // number of Put calls to fail before succeeding
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (m *memStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ map[string]string) (objectstore.PutResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putCalls++
	if m.failPuts > 0 {
		m.failPuts--
		return objectstore.PutResult{}, errors.New("503 slowdown")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return objectstore.PutResult{}, err
	}
	m.objects[key] = data
	return objectstore.PutResult{Size: int64(len(data))}, nil
}

func (m *memStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, objectstore.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStore) List(_ context.Context, prefix string, fn func(objectstore.ObjectInfo) bool) error {
	m.mu.Lock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	m.mu.Unlock()
	sort.Strings(keys)
	for _, k := range keys {
		if !fn(objectstore.ObjectInfo{Key: k, Size: int64(len(m.objects[k]))}) {
			return nil
		}
	}
	return nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func newTestPipeline(objs objectstore.Store) *Pipeline {
	return &Pipeline{
		Objs:        objs,
		Codec:       backuppath.NewCodec("bucket", "backups", "cluster1"),
		Governor:    throttle.NewGovernor(4, throttle.NewByteRateLimiter(0, 0)),
		Cache:       fingerprint.New(),
		Registry:    registry.New(64, nil),
		Compression: config.CodecSnappy,
		RetryPolicy: retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}
}

func writeLocalFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "a-Data.db")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func testBackupPath(localPath string) backuppath.BackupPath {
	instant, _ := time.Parse("200601021504", "202601021504")
	return backuppath.BackupPath{
		Type:         backuppath.TypeSnapshot,
		Keyspace:     "ks1",
		ColumnFamily: "cf1",
		Token:        "tok1",
		Time:         instant,
		FileName:     "a-Data.db",
		Size:         int64(len("hello world")),
		LocalPath:    localPath,
	}
}

func TestUploadOneTransmitsAndRecordsManifestEntry(t *testing.T) {
	objs := newMemStore()
	p := newTestPipeline(objs)
	bp := testBackupPath(writeLocalFile(t, "hello world"))

	entry, skipped, err := p.UploadOne(context.Background(), bp)
	if err != nil {
		t.Fatalf("UploadOne: %v", err)
	}
	if skipped {
		t.Fatal("expected a fresh file not to be skipped")
	}
	if entry.SHA256 == "" || entry.CompressedSize == 0 {
		t.Fatalf("expected populated entry, got %+v", entry)
	}
	if objs.putCalls != 1 {
		t.Fatalf("expected exactly 1 Put, got %d", objs.putCalls)
	}

	snap, ok := p.Registry.Get(entry.RemoteKey)
	if !ok || snap.State != registry.StateDone {
		t.Fatalf("expected DONE record, got %+v ok=%v", snap, ok)
	}
	if !p.Cache.Knows(entry.RemoteKey, bp.Size) {
		t.Fatal("expected fingerprint cache to know the uploaded key")
	}
}

func TestUploadOneSkipsAlreadyKnownFile(t *testing.T) {
	objs := newMemStore()
	p := newTestPipeline(objs)
	bp := testBackupPath(writeLocalFile(t, "hello world"))

	key, _ := p.Codec.Encode(bp)
	p.Cache.Put(key, fingerprint.Entry{Size: bp.Size})

	entry, skipped, err := p.UploadOne(context.Background(), bp)
	if err != nil {
		t.Fatalf("UploadOne: %v", err)
	}
	if !skipped {
		t.Fatal("expected already-known file to be skipped")
	}
	if entry.RemoteKey != key {
		t.Fatalf("expected entry for %q, got %+v", key, entry)
	}
	if objs.putCalls != 0 {
		t.Fatalf("expected no Put calls for a skipped file, got %d", objs.putCalls)
	}
}

func TestUploadOneRetriesTransientPutFailure(t *testing.T) {
	objs := newMemStore()
	objs.failPuts = 2
	p := newTestPipeline(objs)
	bp := testBackupPath(writeLocalFile(t, "hello world"))

	_, _, err := p.UploadOne(context.Background(), bp)
	if err != nil {
		t.Fatalf("expected retries to eventually succeed, got %v", err)
	}
	if objs.putCalls != 3 {
		t.Fatalf("expected 3 Put attempts (2 failures + 1 success), got %d", objs.putCalls)
	}
}

func TestUploadOneMarksRecordFailedOnPermanentError(t *testing.T) {
	objs := newMemStore()
	objs.failPuts = 99
	p := newTestPipeline(objs)
	bp := testBackupPath(writeLocalFile(t, "hello world"))

	_, _, err := p.UploadOne(context.Background(), bp)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}

	key, _ := p.Codec.Encode(bp)
	snap, ok := p.Registry.Get(key)
	if !ok || snap.State != registry.StateFailed {
		t.Fatalf("expected FAILED record, got %+v ok=%v", snap, ok)
	}
}

func TestUploadRoundContinuesPastSingleFileFailure(t *testing.T) {
	objs := newMemStore()
	p := newTestPipeline(objs)

	goodPath := testBackupPath(writeLocalFile(t, "good file"))
	badPath := testBackupPath(writeLocalFile(t, "bad file"))
	badPath.FileName = "b-Data.db"
	badPath.LocalPath = filepath.Join(t.TempDir(), "does-not-exist.db")

	builder := manifest.NewBuilder("tok1", time.Now(), "cluster1", "schema1")
	result := p.UploadRound(context.Background(), []backuppath.BackupPath{goodPath, badPath}, builder)

	if result.Completed != 1 || result.Failed != 1 {
		t.Fatalf("expected 1 completed and 1 failed, got %+v", result)
	}
	if builder.Len() != 1 {
		t.Fatalf("expected only the successful file in the manifest, got %d entries", builder.Len())
	}
}
