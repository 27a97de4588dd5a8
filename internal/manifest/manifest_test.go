package manifest

import (
	"context"
	"io"
	"sort"
	"testing"
	"time"

	"github.com/ringbackup/sidecar/internal/backuppath"
	"github.com/ringbackup/sidecar/internal/errs"
	"github.com/ringbackup/sidecar/internal/objectstore"
)

// memStore is a minimal in-memory objectstore.Store for manifest tests.
type memStore struct {
	objects map[string][]byte
}

func newMemStore() *memStore { return &memStore{objects: make(map[string][]byte)} }

func (m *memStore) Put(_ context.Context, key string, r io.Reader, size int64, _ map[string]string) (objectstore.PutResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return objectstore.PutResult{}, err
	}
	m.objects[key] = data
	return objectstore.PutResult{Size: int64(len(data))}, nil
}

func (m *memStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, objectstore.ErrNotFound
	}
	return io.NopCloser(newReader(data)), nil
}

func (m *memStore) List(_ context.Context, prefix string, fn func(objectstore.ObjectInfo) bool) error {
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if len(k) < len(prefix) || k[:len(prefix)] != prefix {
			continue
		}
		if !fn(objectstore.ObjectInfo{Key: k, Size: int64(len(m.objects[k]))}) {
			return nil
		}
	}
	return nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

func (m *memStore) Exists(_ context.Context, key string) (bool, error) {
	_, ok := m.objects[key]
	return ok, nil
}

type byteReader struct {
	data []byte
	pos  int
}

func newReader(data []byte) *byteReader { return &byteReader{data: data} }

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

func testCodec() *backuppath.Codec {
	return backuppath.NewCodec("bucket", "backups", "Test")
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	objs := newMemStore()
	codec := testCodec()
	store := NewStore(objs, codec)

	instant := time.Date(2026, 1, 2, 15, 4, 0, 0, time.UTC)
	b := NewBuilder("tok1", instant, "cluster1", "schema-abc")
	b.Add(Entry{Keyspace: "ks1", ColumnFamily: "cf1", FileName: "a-Data.db", RemoteKey: "bucket/backups/tseT/tok1/202601021504/ks1/cf1/SST/a-Data.db", Size: 100, CompressedSize: 40, SHA256: "deadbeef"})
	m := b.Finalize()

	key, err := store.Write(context.Background(), m)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if key == "" {
		t.Fatal("expected non-empty key")
	}

	got, err := store.Read(context.Background(), "tok1", instant.Add(time.Minute))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Token != "tok1" || got.ClusterName != "cluster1" || len(got.Entries) != 1 {
		t.Fatalf("unexpected manifest %+v", got)
	}
	if got.Entries[0].SHA256 != "deadbeef" {
		t.Fatalf("unexpected entry %+v", got.Entries[0])
	}
}

func TestReadPicksLatestAtOrBeforeTime(t *testing.T) {
	objs := newMemStore()
	codec := testCodec()
	store := NewStore(objs, codec)

	early := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	late := time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC)

	for _, instant := range []time.Time{early, late} {
		b := NewBuilder("tok1", instant, "cluster1", "schema")
		b.Add(Entry{RemoteKey: "k"})
		if _, err := store.Write(context.Background(), b.Finalize()); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	// A target time between early and late should resolve to early's manifest.
	target := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	got, err := store.Read(context.Background(), "tok1", target)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !got.Instant.Equal(early) {
		t.Fatalf("expected early manifest, got instant %v", got.Instant)
	}
}

func TestReadAcceptsV1FlatArray(t *testing.T) {
	objs := newMemStore()
	codec := testCodec()
	store := NewStore(objs, codec)

	instant := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	v1Path := backuppath.BackupPath{Type: backuppath.TypeMeta, Token: "tok1", Time: instant}
	key, err := codec.Encode(v1Path)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	payload := []byte(`["bucket/backups/tseT/tok1/202602011200/ks1/cf1/SST/x-Data.db"]`)
	if _, err := objs.Put(context.Background(), key, newReader(payload), int64(len(payload)), nil); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := store.Read(context.Background(), "tok1", instant)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got.Entries) != 1 || got.Entries[0].RemoteKey == "" {
		t.Fatalf("unexpected normalized v1 manifest: %+v", got)
	}
}

func TestReadFailsWithManifestBrokenWhenNoneExists(t *testing.T) {
	objs := newMemStore()
	store := NewStore(objs, testCodec())

	_, err := store.Read(context.Background(), "tok-missing", time.Now())
	if !errs.Is(err, errs.KindManifestBroken) {
		t.Fatalf("expected KindManifestBroken, got %v", err)
	}
}

func TestVerifyCompleteDetectsMissingKey(t *testing.T) {
	objs := newMemStore()
	m := &Manifest{Entries: []Entry{{RemoteKey: "does-not-exist"}}}

	err := VerifyComplete(context.Background(), objs, m)
	if !errs.Is(err, errs.KindManifestBroken) {
		t.Fatalf("expected KindManifestBroken, got %v", err)
	}
}

func TestVerifyCompletePassesWhenAllKeysExist(t *testing.T) {
	objs := newMemStore()
	if _, err := objs.Put(context.Background(), "k1", newReader([]byte("x")), 1, nil); err != nil {
		t.Fatalf("Put: %v", err)
	}
	m := &Manifest{Entries: []Entry{{RemoteKey: "k1"}}}

	if err := VerifyComplete(context.Background(), objs, m); err != nil {
		t.Fatalf("VerifyComplete: %v", err)
	}
}
