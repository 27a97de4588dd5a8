package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/ringbackup/sidecar/internal/events"
)

func TestGetOrCreateStartsPendingAndIsIdempotent(t *testing.T) {
	reg := New(16, nil)
	rec1 := reg.GetOrCreate("k1")
	rec2 := reg.GetOrCreate("k1")
	if rec1 != rec2 {
		t.Fatal("expected same record instance on repeated GetOrCreate")
	}
	snap, ok := reg.Get("k1")
	if !ok || snap.State != StatePending {
		t.Fatalf("expected PENDING, got %+v ok=%v", snap, ok)
	}
}

func TestRecordLifecycleTransitions(t *testing.T) {
	reg := New(16, nil)
	rec := reg.GetOrCreate("k1")

	rec.Start()
	snap, _ := reg.Get("k1")
	if snap.State != StateRunning || snap.Attempts != 1 || snap.StartedAt.IsZero() {
		t.Fatalf("unexpected snapshot after Start: %+v", snap)
	}

	rec.UpdateProgress(512)
	snap, _ = reg.Get("k1")
	if snap.BytesTransferred != 512 {
		t.Fatalf("expected progress 512, got %+v", snap)
	}

	rec.Done()
	snap, _ = reg.Get("k1")
	if snap.State != StateDone || snap.EndedAt.IsZero() {
		t.Fatalf("unexpected snapshot after Done: %+v", snap)
	}
}

func TestRecordFailCapturesError(t *testing.T) {
	reg := New(16, nil)
	rec := reg.GetOrCreate("k1")
	rec.Start()
	failErr := errors.New("boom")
	rec.Fail(failErr)

	snap, _ := reg.Get("k1")
	if snap.State != StateFailed || snap.Err != failErr {
		t.Fatalf("unexpected snapshot after Fail: %+v", snap)
	}
}

func TestAllReturnsEveryRecord(t *testing.T) {
	reg := New(16, nil)
	reg.GetOrCreate("k1")
	reg.GetOrCreate("k2")

	all := reg.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 records, got %d", len(all))
	}
}

func TestPruneRemovesOldTerminalRecords(t *testing.T) {
	reg := New(16, nil)
	rec := reg.GetOrCreate("k1")
	rec.Start()
	rec.Done()

	removed := reg.Prune(time.Now().Add(time.Hour))
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, ok := reg.Get("k1"); ok {
		t.Fatal("expected record to be pruned")
	}
}

func TestPruneKeepsNonTerminalRecords(t *testing.T) {
	reg := New(16, nil)
	rec := reg.GetOrCreate("k1")
	rec.Start()

	removed := reg.Prune(time.Now().Add(time.Hour))
	if removed != 0 {
		t.Fatalf("expected 0 removed for a RUNNING record, got %d", removed)
	}
}

func TestLogRingWrapsAtCapacity(t *testing.T) {
	reg := New(3, nil)
	for i := 0; i < 5; i++ {
		reg.Record(&events.RoundEvent{BaseEvent: events.BaseEvent{EventType: events.EventRoundStarted, Time: time.Now()}, RoundID: string(rune('a' + i))})
	}
	entries := reg.RecentEvents()
	if len(entries) != 3 {
		t.Fatalf("expected ring buffer capped at 3, got %d", len(entries))
	}
	last := entries[len(entries)-1].(*events.RoundEvent)
	if last.RoundID != "e" {
		t.Fatalf("expected last entry to be most recent (e), got %q", last.RoundID)
	}
}

func TestRecordForwardsToEventBus(t *testing.T) {
	bus := events.NewBus(4)
	sub := bus.SubscribeAll()
	reg := New(16, bus)

	reg.Record(&events.RoundEvent{BaseEvent: events.BaseEvent{EventType: events.EventRoundStarted, Time: time.Now()}, RoundID: "r1"})

	select {
	case e := <-sub:
		re := e.(*events.RoundEvent)
		if re.RoundID != "r1" {
			t.Fatalf("unexpected event %+v", re)
		}
	case <-time.After(time.Second):
		t.Fatal("expected event on bus")
	}
}
