package cli

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ringbackup/sidecar/internal/events"
)

var (
	roundsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sidecar",
		Name:      "backup_rounds_total",
		Help:      "Backup rounds by terminal outcome.",
	}, []string{"outcome"})

	transfersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sidecar",
		Name:      "transfers_total",
		Help:      "File transfers by terminal outcome.",
	}, []string{"outcome"})

	droppedEvents = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sidecar",
		Name:      "dropped_events",
		Help:      "Events dropped by the internal event bus because a subscriber's buffer was full.",
	})
)

func init() {
	prometheus.MustRegister(roundsTotal, transfersTotal, droppedEvents)
}

// collectMetrics subscribes to bus and updates the package's prometheus
// collectors for every event received, returning only when the bus closes
// the subscription. It is meant to run in its own goroutine for the lifetime
// of the serve command.
func collectMetrics(bus *events.Bus) {
	ch := bus.SubscribeAll()
	for event := range ch {
		switch e := event.(type) {
		case *events.RoundEvent:
			switch e.Type() {
			case events.EventRoundCompleted:
				roundsTotal.WithLabelValues("completed").Inc()
			case events.EventRoundFailed:
				roundsTotal.WithLabelValues("failed").Inc()
			case events.EventRoundSkipped:
				roundsTotal.WithLabelValues("skipped").Inc()
			}
		case *events.TransferEvent:
			switch e.Type() {
			case events.EventTransferDone:
				transfersTotal.WithLabelValues("done").Inc()
			case events.EventTransferFailed:
				transfersTotal.WithLabelValues("failed").Inc()
			}
		}
		droppedEvents.Set(float64(bus.DroppedEventCount()))
	}
}
