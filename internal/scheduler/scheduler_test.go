package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ringbackup/sidecar/internal/events"
	"github.com/ringbackup/sidecar/internal/registry"
)

func TestParseCronWildcardMatchesEveryMinute(t *testing.T) {
	c, err := ParseCron("* * * * *")
	if err != nil {
		t.Fatalf("ParseCron: %v", err)
	}
	from := time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC)
	next := c.Next(from)
	if !next.Equal(from.Add(time.Minute)) {
		t.Fatalf("expected next minute, got %v", next)
	}
}

func TestParseCronFixedHourAdvancesToNextDay(t *testing.T) {
	c, err := ParseCron("0 2 * * *")
	if err != nil {
		t.Fatalf("ParseCron: %v", err)
	}
	from := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	next := c.Next(from)
	want := time.Date(2026, 1, 3, 2, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("expected %v, got %v", want, next)
	}
}

func TestParseCronRejectsWrongFieldCount(t *testing.T) {
	if _, err := ParseCron("* * *"); err == nil {
		t.Fatal("expected error for malformed cron expression")
	}
}

func TestIntervalNextAddsDuration(t *testing.T) {
	i := Interval(5 * time.Minute)
	from := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	next := i.Next(from)
	if !next.Equal(from.Add(5 * time.Minute)) {
		t.Fatalf("expected from+5m, got %v", next)
	}
}

func TestTickSkipsWhileRoundInProgress(t *testing.T) {
	reg := registry.New(64, nil)
	started := make(chan struct{})
	release := make(chan struct{})
	var calls int32

	s := New(Interval(time.Hour), func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		close(started)
		<-release
		return nil
	}, reg, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.RunOnce(context.Background())
	}()

	<-started
	s.RunOnce(context.Background()) // should be skipped, a round is in progress
	close(release)
	wg.Wait()

	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected exactly 1 round to run, got %d", calls)
	}

	var skipped bool
	for _, e := range reg.RecentEvents() {
		if e.Type() == events.EventRoundSkipped {
			skipped = true
		}
	}
	if !skipped {
		t.Fatal("expected a RoundSkipped event to be recorded")
	}
}

func TestTickRecordsCompletedRound(t *testing.T) {
	reg := registry.New(64, nil)
	s := New(Interval(time.Hour), func(ctx context.Context) error { return nil }, reg, nil)

	s.RunOnce(context.Background())

	var sawStarted, sawCompleted bool
	for _, e := range reg.RecentEvents() {
		switch e.Type() {
		case events.EventRoundStarted:
			sawStarted = true
		case events.EventRoundCompleted:
			sawCompleted = true
		}
	}
	if !sawStarted || !sawCompleted {
		t.Fatalf("expected started+completed events, got %+v", reg.RecentEvents())
	}
}
