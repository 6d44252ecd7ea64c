package delivery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lead_intake",
		Subsystem: "delivery",
		Name:      "tasks_total",
		Help:      "Finished forwarding tasks by target and outcome.",
	}, []string{"target", "outcome"})

	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lead_intake",
		Subsystem: "delivery",
		Name:      "task_duration_seconds",
		Help:      "Forwarding task run time, excluding time spent waiting for a slot.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"target"})

	tasksInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "lead_intake",
		Subsystem: "delivery",
		Name:      "tasks_in_flight",
		Help:      "Submitted forwarding tasks not yet finished, including queued ones.",
	})
)

func outcome(err error) string {
	if err != nil {
		return "failed"
	}
	return "ok"
}
