package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	moveRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "energyctl",
		Name:      "move_requests_total",
		Help:      "Move requests by target kind and outcome",
	}, []string{"kind", "outcome"})

	compensations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "energyctl",
		Name:      "backlash_compensations_total",
		Help:      "Backlash compensation runs by outcome (ok, failed)",
	}, []string{"outcome"})

	compensationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "energyctl",
		Name:      "backlash_compensation_seconds",
		Help:      "Time spent pre-positioning the undulator gap",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "energyctl",
		Name:      "device_notifications_total",
		Help:      "Device notifications by attribute and handling (emitted, suppressed, rejected)",
	}, []string{"attr", "handling"})

	currentEnergy = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "energyctl",
		Name:      "energy_kev",
		Help:      "Last reported monochromator energy",
	})

	status = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "energyctl",
		Name:      "status",
		Help:      "Current externally visible status (1 for the active status, 0 otherwise)",
	}, []string{"status"})

	eventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "energyctl",
		Name:      "events_dropped_total",
		Help:      "Events dropped for slow subscribers",
	}, []string{"kind"})
)

var statuses = []string{"error", "moving", "ready", "unknown", "outlimits"}

// RecordMove counts a move request. kind is "energy" or "wavelength".
func RecordMove(kind, outcome string) {
	moveRequests.WithLabelValues(kind, outcome).Inc()
}

// RecordCompensation counts a compensation run and its duration.
func RecordCompensation(ok bool, d time.Duration) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	compensations.WithLabelValues(outcome).Inc()
	compensationSeconds.Observe(d.Seconds())
}

// RecordNotification counts a device notification.
func RecordNotification(attr, handling string) {
	notifications.WithLabelValues(attr, handling).Inc()
}

// SetEnergy records the last reported energy.
func SetEnergy(e float64) {
	currentEnergy.Set(e)
}

// SetStatus marks s as the active status.
func SetStatus(s string) {
	for _, st := range statuses {
		value := 0.0
		if st == s {
			value = 1.0
		}
		status.WithLabelValues(st).Set(value)
	}
}

// RecordDroppedEvent counts an event not delivered to a slow subscriber.
func RecordDroppedEvent(kind string) {
	eventsDropped.WithLabelValues(kind).Inc()
}
