// Package registry is the in-memory state and status surface (C9): it
// tracks every in-flight and recently-completed transfer and publishes a
// bounded event log for observability, without ever blocking the workers
// that own the underlying transfers.
package registry

import (
	"sync"
	"time"

	"github.com/ringbackup/sidecar/internal/events"
)

// State is a TransferRecord's lifecycle state.
type State string

const (
	StatePending State = "PENDING"
	StateRunning State = "RUNNING"
	StateDone    State = "DONE"
	StateFailed  State = "FAILED"
)

// TransferRecord tracks one file's journey through the upload or restore
// pipeline. Mutated only by the worker that owns it, under its own lock;
// read freely by the status surface.
type TransferRecord struct {
	mu sync.RWMutex

	RemoteKey        string
	State            State
	Attempts         int
	BytesTransferred int64
	StartedAt        time.Time
	EndedAt          time.Time
	Err              error
}

// Snapshot is a point-in-time, lock-free copy of a TransferRecord safe to
// hand to a reader.
type Snapshot struct {
	RemoteKey        string
	State            State
	Attempts         int
	BytesTransferred int64
	StartedAt        time.Time
	EndedAt          time.Time
	Err              error
}

func (r *TransferRecord) snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Snapshot{
		RemoteKey:        r.RemoteKey,
		State:            r.State,
		Attempts:         r.Attempts,
		BytesTransferred: r.BytesTransferred,
		StartedAt:        r.StartedAt,
		EndedAt:          r.EndedAt,
		Err:              r.Err,
	}
}

// Start transitions the record to RUNNING, recording the attempt count and
// start time if this is the first attempt.
func (r *TransferRecord) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Attempts++
	r.State = StateRunning
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
}

// UpdateProgress records bytes transferred so far for this attempt.
func (r *TransferRecord) UpdateProgress(bytesTransferred int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.BytesTransferred = bytesTransferred
}

// Done marks the record DONE.
func (r *TransferRecord) Done() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.State = StateDone
	r.EndedAt = time.Now()
}

// Fail marks the record FAILED with err.
func (r *TransferRecord) Fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.State = StateFailed
	r.Err = err
	r.EndedAt = time.Now()
}

// logRing is a fixed-capacity ring buffer of events.Event, overwriting the
// oldest entry once full. Readers never block writers: Entries takes a
// snapshot copy under a brief read lock.
type logRing struct {
	mu   sync.RWMutex
	buf  []events.Event
	next int
	full bool
}

func newLogRing(capacity int) *logRing {
	if capacity <= 0 {
		capacity = 1024
	}
	return &logRing{buf: make([]events.Event, capacity)}
}

func (l *logRing) append(e events.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf[l.next] = e
	l.next = (l.next + 1) % len(l.buf)
	if l.next == 0 {
		l.full = true
	}
}

func (l *logRing) entries() []events.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if !l.full {
		out := make([]events.Event, l.next)
		copy(out, l.buf[:l.next])
		return out
	}
	out := make([]events.Event, len(l.buf))
	copy(out, l.buf[l.next:])
	copy(out[len(l.buf)-l.next:], l.buf[:l.next])
	return out
}

// Registry is the process-wide transfer record store plus bounded event
// log. Readers never block writers: record lookups use an RWMutex held only
// long enough to copy or insert a map entry; per-record mutation happens
// under the record's own lock.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*TransferRecord
	log     *logRing
	bus     *events.Bus
}

// New builds an empty Registry. eventLogCapacity bounds the ring buffer of
// retained state-change events; bus, if non-nil, also receives every event
// this registry records (for external subscribers like a CLI progress bar).
func New(eventLogCapacity int, bus *events.Bus) *Registry {
	return &Registry{
		records: make(map[string]*TransferRecord),
		log:     newLogRing(eventLogCapacity),
		bus:     bus,
	}
}

// GetOrCreate returns the record for remoteKey, creating it in PENDING state
// if this is the first time it's been seen.
func (r *Registry) GetOrCreate(remoteKey string) *TransferRecord {
	r.mu.RLock()
	rec, ok := r.records[remoteKey]
	r.mu.RUnlock()
	if ok {
		return rec
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[remoteKey]; ok {
		return rec
	}
	rec = &TransferRecord{RemoteKey: remoteKey, State: StatePending}
	r.records[remoteKey] = rec
	return rec
}

// Get returns a snapshot of the record for remoteKey, if known.
func (r *Registry) Get(remoteKey string) (Snapshot, bool) {
	r.mu.RLock()
	rec, ok := r.records[remoteKey]
	r.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return rec.snapshot(), true
}

// All returns a snapshot of every tracked record, in no particular order.
func (r *Registry) All() []Snapshot {
	r.mu.RLock()
	recs := make([]*TransferRecord, 0, len(r.records))
	for _, rec := range r.records {
		recs = append(recs, rec)
	}
	r.mu.RUnlock()

	out := make([]Snapshot, len(recs))
	for i, rec := range recs {
		out[i] = rec.snapshot()
	}
	return out
}

// Record appends e to the bounded event log and forwards it to the event
// bus, if configured.
func (r *Registry) Record(e events.Event) {
	r.log.append(e)
	if r.bus != nil {
		r.bus.Publish(e)
	}
}

// RecentEvents returns up to the ring buffer's capacity of the most
// recently recorded events, oldest first.
func (r *Registry) RecentEvents() []events.Event {
	return r.log.entries()
}

// Prune removes every DONE or FAILED record whose EndedAt is older than
// olderThan, applying C9's retention bound.
func (r *Registry) Prune(olderThan time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, rec := range r.records {
		snap := rec.snapshot()
		if (snap.State == StateDone || snap.State == StateFailed) && snap.EndedAt.Before(olderThan) {
			delete(r.records, key)
			removed++
		}
	}
	return removed
}
