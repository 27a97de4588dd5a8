package cli

import (
	"encoding/json"
	"time"

	"go.etcd.io/bbolt"

	"github.com/ringbackup/sidecar/internal/errs"
)

var schedulerBucket = []byte("scheduler")

// schedulerState is what StateStore persists about the scheduler across
// restarts: enough to report "last round" status without replaying history.
type schedulerState struct {
	LastRoundID string    `json:"lastRoundID"`
	LastRoundAt time.Time `json:"lastRoundAt"`
	LastSuccess bool      `json:"lastSuccess"`
}

// StateStore is the sidecar's small persistent key-value store, holding the
// outcome of the most recent round across process restarts. Boltdb's
// single-file, single-writer model fits this use case better than a
// directory of JSON files: one bucket, a handful of keys,
// no concurrent-process access.
type StateStore struct {
	db *bbolt.DB
}

// OpenStateStore opens (creating if necessary) the bolt database at path.
func OpenStateStore(path string) (*StateStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errs.New(errs.KindLocalIO, "cli.OpenStateStore", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(schedulerBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, errs.New(errs.KindLocalIO, "cli.OpenStateStore", err)
	}
	return &StateStore{db: db}, nil
}

// Close releases the underlying database file.
func (s *StateStore) Close() error {
	return s.db.Close()
}

// RecordRound persists the outcome of one backup round.
func (s *StateStore) RecordRound(roundID string, at time.Time, success bool) error {
	state := schedulerState{LastRoundID: roundID, LastRoundAt: at, LastSuccess: success}
	data, err := json.Marshal(state)
	if err != nil {
		return errs.New(errs.KindLocalIO, "cli.RecordRound", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(schedulerBucket).Put([]byte("state"), data)
	})
}

// LastRound returns the most recently recorded round, if any.
func (s *StateStore) LastRound() (roundID string, at time.Time, success bool, found bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(schedulerBucket).Get([]byte("state"))
		if data == nil {
			return nil
		}
		var state schedulerState
		if uErr := json.Unmarshal(data, &state); uErr != nil {
			return uErr
		}
		roundID, at, success, found = state.LastRoundID, state.LastRoundAt, state.LastSuccess, true
		return nil
	})
	if err != nil {
		err = errs.New(errs.KindLocalIO, "cli.LastRound", err)
	}
	return
}
