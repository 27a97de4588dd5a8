package events

import (
	"errors"
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus(4)
	ch := bus.Subscribe(EventRoundCompleted)

	bus.Publish(&RoundEvent{
		BaseEvent: BaseEvent{EventType: EventRoundCompleted, Time: time.Now()},
		RoundID:   "r1",
	})

	select {
	case ev := <-ch:
		re, ok := ev.(*RoundEvent)
		if !ok || re.RoundID != "r1" {
			t.Fatalf("unexpected event: %#v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	bus := NewBus(1)
	_ = bus.Subscribe(EventLog) // unread subscriber

	bus.PublishLog(InfoLevel, "first", nil)
	bus.PublishLog(InfoLevel, "second", nil) // buffer full, should drop

	if bus.DroppedEventCount() != 1 {
		t.Fatalf("expected 1 dropped event, got %d", bus.DroppedEventCount())
	}
}

func TestSubscribeAllReceivesEverything(t *testing.T) {
	bus := NewBus(4)
	all := bus.SubscribeAll()

	bus.Publish(&ManifestEvent{BaseEvent: BaseEvent{EventType: EventManifestWritten, Time: time.Now()}, RemoteKey: "k"})
	bus.PublishLog(ErrorLevel, "boom", errors.New("x"))

	for i := 0; i < 2; i++ {
		select {
		case <-all:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestCloseStopsDelivery(t *testing.T) {
	bus := NewBus(4)
	ch := bus.Subscribe(EventRoundStarted)
	bus.Close()
	bus.Publish(&RoundEvent{BaseEvent: BaseEvent{EventType: EventRoundStarted, Time: time.Now()}})

	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed with no event delivered")
	}
}
