package logging

import (
	"bytes"
	"testing"

	"github.com/ringbackup/sidecar/internal/events"
)

func TestLoggerPublishesToEventBus(t *testing.T) {
	bus := events.NewBus(4)
	ch := bus.Subscribe(events.EventLog)

	l := New(&bytes.Buffer{}, bus)
	l.Infof("round %s started", "r1")

	select {
	case ev := <-ch:
		le, ok := ev.(*events.LogEvent)
		if !ok {
			t.Fatalf("expected *events.LogEvent, got %T", ev)
		}
		if le.Message != "round r1 started" {
			t.Fatalf("unexpected message: %q", le.Message)
		}
	default:
		t.Fatal("expected a log event to be published")
	}
}

func TestLoggerWithoutEventBusDoesNotPanic(t *testing.T) {
	l := New(&bytes.Buffer{}, nil)
	l.Infof("no subscribers here")
	l.Warnf("still fine")
}

func TestWithRoundAnnotates(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, nil)
	rl := l.WithRound("r42")
	rl.Info().Msg("hello")

	if !bytes.Contains(buf.Bytes(), []byte("r42")) {
		t.Fatalf("expected output to contain round id, got: %s", buf.String())
	}
}
