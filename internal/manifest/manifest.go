// Package manifest builds, serializes, and resolves per-round backup
// manifests: the commit marker whose presence signals that a backup round's
// files are all durably stored. It reads both the legacy v1 flat-array
// format and the structured v2 format, normalizing both to the v2 shape.
package manifest

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/ringbackup/sidecar/internal/backuppath"
)

// Entry describes one file included in a manifest.
type Entry struct {
	Keyspace       string `json:"keyspace"`
	ColumnFamily   string `json:"columnFamily"`
	FileName       string `json:"fileName"`
	RemoteKey      string `json:"remoteKey"`
	Size           int64  `json:"size"`
	CompressedSize int64  `json:"compressedSize"`
	SHA256         string `json:"sha256"`
}

// Manifest is the structured (v2) document a backup round produces. Field
// order here is the serialized order.
type Manifest struct {
	Token       string    `json:"token"`
	Instant     time.Time `json:"instant"`
	ClusterName string    `json:"clusterName"`
	SchemaHash  string    `json:"schemaHash"`
	Entries     []Entry   `json:"entries"`
}

// Version reports which wire format a Manifest was read from, or is
// intended to be written as.
type Version int

const (
	V2 Version = iota
	V1
)

// manifestV1 is the legacy flat format: a bare JSON array of remote keys,
// with no per-file metadata and no schema information.
type manifestV1 []string

// Builder accumulates entries for an in-progress backup round. Safe for
// concurrent use: the upload pipeline appends from multiple worker
// goroutines as files complete.
type Builder struct {
	mu          sync.Mutex
	token       string
	instant     time.Time
	clusterName string
	schemaHash  string
	entries     []Entry
}

// NewBuilder starts an empty manifest for one backup round.
func NewBuilder(token string, instant time.Time, clusterName, schemaHash string) *Builder {
	return &Builder{
		token:       token,
		instant:     instant.UTC(),
		clusterName: clusterName,
		schemaHash:  schemaHash,
	}
}

// Add records one successfully-uploaded file. Called once per file, strictly
// after the corresponding Put succeeds.
func (b *Builder) Add(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, e)
}

// Len reports how many entries have been added so far.
func (b *Builder) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Finalize produces the completed Manifest, with entries ordered by remote
// key as the data model requires. Finalize may be called only once all data
// files for the round have been durably written; the caller owns that
// ordering guarantee, not the builder.
func (b *Builder) Finalize() *Manifest {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := make([]Entry, len(b.entries))
	copy(entries, b.entries)
	sort.Slice(entries, func(i, j int) bool { return entries[i].RemoteKey < entries[j].RemoteKey })

	return &Manifest{
		Token:       b.token,
		Instant:     b.instant,
		ClusterName: b.clusterName,
		SchemaHash:  b.schemaHash,
		Entries:     entries,
	}
}

// Marshal serializes m in the stable v2 field order.
func Marshal(m *Manifest) ([]byte, error) {
	return json.Marshal(m)
}

// remoteKeyFor computes the remote key a finalized manifest is written
// under: META/<instant>/manifest.json.
func remoteKeyFor(codec *backuppath.Codec, m *Manifest) (string, error) {
	return codec.Encode(backuppath.BackupPath{
		Type:     backuppath.TypeMetaV2,
		Token:    m.Token,
		Time:     m.Instant,
		FileName: "manifest.json",
	})
}

// unmarshalAny accepts either wire format and normalizes to a *Manifest. A
// v1 payload (bare JSON array) carries no per-entry metadata or schema hash;
// those fields are left zero.
func unmarshalAny(token string, instant time.Time, data []byte) (*Manifest, Version, error) {
	var v1 manifestV1
	if err := json.Unmarshal(data, &v1); err == nil {
		entries := make([]Entry, len(v1))
		for i, key := range v1 {
			entries[i] = Entry{RemoteKey: key}
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].RemoteKey < entries[j].RemoteKey })
		return &Manifest{Token: token, Instant: instant, Entries: entries}, V1, nil
	}

	var v2 Manifest
	if err := json.Unmarshal(data, &v2); err != nil {
		return nil, V2, err
	}
	sort.Slice(v2.Entries, func(i, j int) bool { return v2.Entries[i].RemoteKey < v2.Entries[j].RemoteKey })
	return &v2, V2, nil
}
