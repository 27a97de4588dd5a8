// Package backuppath implements the bidirectional mapping between a local
// database file and its remote object-store key: the index that makes prefix
// scans over an otherwise flat key space behave like time range scans.
package backuppath

import (
	"fmt"
	"strings"
	"time"

	"github.com/ringbackup/sidecar/internal/errs"
)

// Type distinguishes the kind of file (or manifest) a BackupPath describes.
type Type string

const (
	TypeSnapshot  Type = "SNAP"
	TypeSSTable   Type = "SST"
	TypeCommitLog Type = "CL"
	TypeMeta      Type = "META"
	TypeMetaV2    Type = "META_V2"
)

func (t Type) isData() bool {
	return t == TypeSnapshot || t == TypeSSTable || t == TypeCommitLog
}

// keyTimeLayout is the lexicographically-sortable minute-resolution instant
// format embedded in every remote key.
const keyTimeLayout = "200601021504"

// BackupPath is the central record mapping a local file to a remote key.
// Values are immutable; state transitions live on TransferRecord instead.
type BackupPath struct {
	Type           Type
	ClusterName    string
	Keyspace       string
	ColumnFamily   string // absent (empty) for Meta/MetaV2 and CommitLog
	Token          string
	Region         string
	Time           time.Time // minute resolution
	FileName       string
	Size           int64
	CompressedSize int64
	LastModified   time.Time
	UploadedAt     *time.Time
	LocalPath      string
}

// Equal reports whether two BackupPath values describe the same remote
// object. Per the data model, equality is defined entirely by remote key.
func Equal(a, b BackupPath, codec *Codec) bool {
	ak, aerr := codec.Encode(a)
	bk, berr := codec.Encode(b)
	if aerr != nil || berr != nil {
		return false
	}
	return ak == bk
}

// Less orders two BackupPath values lexicographically by remote key.
func Less(a, b BackupPath, codec *Codec) bool {
	ak, _ := codec.Encode(a)
	bk, _ := codec.Encode(b)
	return ak < bk
}

// Codec binds the process-wide constants (object-store root, key prefix, and
// cluster/app name) needed to translate between BackupPath values and keys.
// These are configuration-level, not per-file, so they live on the codec
// rather than on every BackupPath.
type Codec struct {
	Base    string // backupLocation
	Prefix  string // backupPrefix
	AppName string // appName; reversed into the key to spread hash partitions
}

// NewCodec constructs a Codec for the given configuration triple.
func NewCodec(base, prefix, appName string) *Codec {
	return &Codec{Base: base, Prefix: prefix, AppName: appName}
}

// reverseString reverses a string byte-by-byte. appName is assumed ASCII
// (cluster names), so byte reversal is sufficient and matches the canonical
// layout used by test fixtures (e.g. "Test" -> "tseT").
func reverseString(s string) string {
	b := []byte(s)
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b)
}

// Encode deterministically maps p to its canonical remote key.
func (c *Codec) Encode(p BackupPath) (string, error) {
	rev := reverseString(c.AppName)
	root := fmt.Sprintf("%s/%s/%s/%s", c.Base, c.Prefix, rev, p.Token)

	switch p.Type {
	case TypeMetaV2:
		if p.FileName == "" {
			return "", errs.New(errs.KindMalformedKey, "backuppath.Encode", fmt.Errorf("META_V2 requires a fileName"))
		}
		return fmt.Sprintf("%s/META/%s/%s", root, p.Time.UTC().Format(keyTimeLayout), p.FileName), nil
	case TypeMeta:
		return fmt.Sprintf("%s/META/%s-meta.json", root, p.Time.UTC().Format(keyTimeLayout)), nil
	case TypeSnapshot, TypeSSTable:
		if p.Keyspace == "" || p.FileName == "" || p.ColumnFamily == "" {
			return "", errs.New(errs.KindMalformedKey, "backuppath.Encode", fmt.Errorf("%s requires keyspace, columnFamily, and fileName", p.Type))
		}
		return fmt.Sprintf("%s/%s/%s/%s/%s/%s", root, p.Time.UTC().Format(keyTimeLayout), p.Keyspace, p.ColumnFamily, p.Type, p.FileName), nil
	case TypeCommitLog:
		if p.Keyspace == "" || p.FileName == "" {
			return "", errs.New(errs.KindMalformedKey, "backuppath.Encode", fmt.Errorf("CL requires keyspace and fileName"))
		}
		return fmt.Sprintf("%s/%s/%s/%s/%s", root, p.Time.UTC().Format(keyTimeLayout), p.Keyspace, p.Type, p.FileName), nil
	default:
		return "", errs.New(errs.KindMalformedKey, "backuppath.Encode", fmt.Errorf("unknown type %q", p.Type))
	}
}

// Decode is the inverse of Encode on well-formed keys. It fails with a
// KindMalformedKey error on anything it cannot parse.
func (c *Codec) Decode(key string) (BackupPath, error) {
	prefixRoot := fmt.Sprintf("%s/%s/%s/", c.Base, c.Prefix, reverseString(c.AppName))
	if !strings.HasPrefix(key, prefixRoot) {
		return BackupPath{}, errs.New(errs.KindMalformedKey, "backuppath.Decode", fmt.Errorf("key %q does not match configured root", key))
	}
	rest := strings.TrimPrefix(key, prefixRoot)
	parts := strings.Split(rest, "/")
	if len(parts) < 2 {
		return BackupPath{}, errs.New(errs.KindMalformedKey, "backuppath.Decode", fmt.Errorf("key %q has too few segments", key))
	}
	token := parts[0]
	parts = parts[1:]

	if parts[0] == "META" {
		return c.decodeMeta(key, token, parts[1:])
	}
	return c.decodeData(key, token, parts)
}

func (c *Codec) decodeMeta(key, token string, parts []string) (BackupPath, error) {
	if len(parts) == 1 {
		// v1 flat layout: META/<instant>-meta.json
		name := parts[0]
		const suffix = "-meta.json"
		if !strings.HasSuffix(name, suffix) {
			return BackupPath{}, errs.New(errs.KindMalformedKey, "backuppath.Decode", fmt.Errorf("malformed v1 meta key %q", key))
		}
		instant := strings.TrimSuffix(name, suffix)
		t, err := time.Parse(keyTimeLayout, instant)
		if err != nil {
			return BackupPath{}, errs.New(errs.KindMalformedKey, "backuppath.Decode", err)
		}
		return BackupPath{Type: TypeMeta, Token: token, Time: t, FileName: name}, nil
	}
	if len(parts) == 2 {
		// v2 layout: META/<instant>/<metaName>
		t, err := time.Parse(keyTimeLayout, parts[0])
		if err != nil {
			return BackupPath{}, errs.New(errs.KindMalformedKey, "backuppath.Decode", err)
		}
		return BackupPath{Type: TypeMetaV2, Token: token, Time: t, FileName: parts[1]}, nil
	}
	return BackupPath{}, errs.New(errs.KindMalformedKey, "backuppath.Decode", fmt.Errorf("malformed meta key %q", key))
}

func (c *Codec) decodeData(key, token string, parts []string) (BackupPath, error) {
	if len(parts) < 1 {
		return BackupPath{}, errs.New(errs.KindMalformedKey, "backuppath.Decode", fmt.Errorf("missing instant in key %q", key))
	}
	t, err := time.Parse(keyTimeLayout, parts[0])
	if err != nil {
		return BackupPath{}, errs.New(errs.KindMalformedKey, "backuppath.Decode", fmt.Errorf("bad instant in key %q: %w", key, err))
	}
	rest := parts[1:]

	switch len(rest) {
	case 4:
		// keyspace/columnFamily/typeTag/fileName
		typeTag := Type(rest[2])
		if typeTag != TypeSnapshot && typeTag != TypeSSTable {
			return BackupPath{}, errs.New(errs.KindMalformedKey, "backuppath.Decode", fmt.Errorf("unknown type tag %q", rest[2]))
		}
		return BackupPath{
			Type:         typeTag,
			Token:        token,
			Time:         t,
			Keyspace:     rest[0],
			ColumnFamily: rest[1],
			FileName:     rest[3],
		}, nil
	case 3:
		// keyspace/typeTag/fileName (commit log: no column family)
		typeTag := Type(rest[1])
		if typeTag != TypeCommitLog {
			return BackupPath{}, errs.New(errs.KindMalformedKey, "backuppath.Decode", fmt.Errorf("unknown type tag %q", rest[1]))
		}
		return BackupPath{
			Type:     typeTag,
			Token:    token,
			Time:     t,
			Keyspace: rest[0],
			FileName: rest[2],
		}, nil
	default:
		return BackupPath{}, errs.New(errs.KindMalformedKey, "backuppath.Decode", fmt.Errorf("key %q has unexpected segment count", key))
	}
}

// EncodePartial returns the longest common key prefix covering every key in
// [from, to] for the given token/type, used to scope list operations to a
// time range. It formats both endpoints and takes their longest shared
// prefix at the instant component, then appends the token's root.
func (c *Codec) EncodePartial(token string, typ Type, from, to time.Time) string {
	root := fmt.Sprintf("%s/%s/%s/%s", c.Base, c.Prefix, reverseString(c.AppName), token)
	fromStr := from.UTC().Format(keyTimeLayout)
	toStr := to.UTC().Format(keyTimeLayout)

	common := commonPrefix(fromStr, toStr)
	if typ == TypeMeta || typ == TypeMetaV2 {
		return fmt.Sprintf("%s/META/%s", root, common)
	}
	return fmt.Sprintf("%s/%s", root, common)
}

// MetaListPrefix returns the key prefix under which every manifest (v1 and
// v2) for token lives, used to scope the descending-lexicographic listing
// the manifest reader performs to find the latest manifest at-or-before a
// given instant.
func (c *Codec) MetaListPrefix(token string) string {
	return fmt.Sprintf("%s/%s/%s/%s/META/", c.Base, c.Prefix, reverseString(c.AppName), token)
}

func commonPrefix(a, b string) string {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return a[:i]
}

// SSTableBaseName returns everything in fileName before the last '-', or
// ("", false) if there is no '-'. SSTable file names share a base across
// their component files (Data.db, Index.db, ...).
func SSTableBaseName(fileName string) (string, bool) {
	idx := strings.LastIndex(fileName, "-")
	if idx < 0 {
		return "", false
	}
	return fileName[:idx], true
}
