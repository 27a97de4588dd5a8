package manifest

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ringbackup/sidecar/internal/backuppath"
	"github.com/ringbackup/sidecar/internal/errs"
	"github.com/ringbackup/sidecar/internal/objectstore"
)

// Store reads and writes manifests against an object store, using codec to
// compute and parse remote keys.
type Store struct {
	objs  objectstore.Store
	codec *backuppath.Codec
}

// NewStore builds a manifest Store over objs, keyed by codec.
func NewStore(objs objectstore.Store, codec *backuppath.Codec) *Store {
	return &Store{objs: objs, codec: codec}
}

// Write serializes m and puts it under its v2 manifest key. Its presence is
// the backup round's commit marker, so callers must call Write only after
// every data file in the round has been durably uploaded.
func (s *Store) Write(ctx context.Context, m *Manifest) (string, error) {
	key, err := remoteKeyFor(s.codec, m)
	if err != nil {
		return "", err
	}
	body, err := Marshal(m)
	if err != nil {
		return "", errs.New(errs.KindManifestBroken, "manifest.Write", err)
	}
	if _, err := s.objs.Put(ctx, key, bytes.NewReader(body), int64(len(body)), map[string]string{
		"content-type": "application/json",
	}); err != nil {
		return "", err
	}
	return key, nil
}

// candidate is one META/ key discovered during a listing, decoded just
// enough to sort and filter by instant.
type candidate struct {
	key     string
	instant time.Time
	isV1    bool
}

// listCandidates lists every META/ key under token, decoding just enough of
// each to sort and filter by instant.
func (s *Store) listCandidates(ctx context.Context, token string) ([]candidate, error) {
	prefix := s.codec.MetaListPrefix(token)

	var candidates []candidate
	err := s.objs.List(ctx, prefix, func(info objectstore.ObjectInfo) bool {
		bp, err := s.codec.Decode(info.Key)
		if err != nil {
			return true // skip anything we can't parse rather than fail the whole listing
		}
		switch bp.Type {
		case backuppath.TypeMeta:
			candidates = append(candidates, candidate{key: info.Key, instant: bp.Time, isV1: true})
		case backuppath.TypeMetaV2:
			candidates = append(candidates, candidate{key: info.Key, instant: bp.Time, isV1: false})
		}
		return true
	})
	return candidates, err
}

// Read finds the manifest for token at-or-before at: it lists META/
// descending lexicographically and takes the first entry whose instant is
// <= at, accepting either wire format and normalizing to the v2 shape.
func (s *Store) Read(ctx context.Context, token string, at time.Time) (*Manifest, error) {
	candidates, err := s.listCandidates(ctx, token)
	if err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].instant.After(candidates[j].instant) })

	at = at.UTC()
	for _, c := range candidates {
		if !c.instant.After(at) {
			return s.fetch(ctx, token, c)
		}
	}
	return nil, errs.New(errs.KindManifestBroken, "manifest.Read", fmt.Errorf("no manifest found for token %q at or before %s", token, at))
}

// ListUpTo returns every manifest for token whose instant is at-or-before
// at, oldest first, normalizing each to the v2 shape. Used by the restore
// planner to compose a point-in-time view from a snapshot round plus every
// incremental round published since.
func (s *Store) ListUpTo(ctx context.Context, token string, at time.Time) ([]*Manifest, error) {
	candidates, err := s.listCandidates(ctx, token)
	if err != nil {
		return nil, err
	}

	at = at.UTC()
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].instant.Before(candidates[j].instant) })

	var out []*Manifest
	for _, c := range candidates {
		if c.instant.After(at) {
			continue
		}
		m, err := s.fetch(ctx, token, c)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) fetch(ctx context.Context, token string, c candidate) (*Manifest, error) {
	r, err := s.objs.Get(ctx, c.key)
	if err != nil {
		if objectstore.IsNotFound(err) {
			return nil, errs.New(errs.KindManifestBroken, "manifest.Read", fmt.Errorf("manifest key %q listed but not gettable", c.key))
		}
		return nil, err
	}
	defer r.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, errs.New(errs.KindLocalIO, "manifest.Read", err)
	}

	m, _, err := unmarshalAny(token, c.instant, buf.Bytes())
	if err != nil {
		return nil, errs.New(errs.KindManifestBroken, "manifest.Read", err)
	}
	return m, nil
}

// VerifyComplete checks that every entry in m still exists in the object
// store, satisfying the manifest completeness invariant before a restore
// plan is built from it. A missing key surfaces as KindManifestBroken.
func VerifyComplete(ctx context.Context, objs objectstore.Store, m *Manifest) error {
	for _, e := range m.Entries {
		ok, err := objs.Exists(ctx, e.RemoteKey)
		if err != nil {
			return err
		}
		if !ok {
			return errs.New(errs.KindManifestBroken, "manifest.VerifyComplete", fmt.Errorf("referenced key %q does not exist", e.RemoteKey))
		}
	}
	return nil
}
