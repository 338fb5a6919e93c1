// Package metrics exposes run counters in the Prometheus text format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mlife-core/platform/pkg/common/models"
)

var (
	Registry = prometheus.NewRegistry()

	runs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mlife",
		Name:      "runs_total",
		Help:      "Export runs by final status.",
	}, []string{"status"})

	records = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mlife",
		Name:      "records_total",
		Help:      "Aggregated records by instrument and outcome.",
	}, []string{"instrument", "outcome"})

	warnings = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mlife",
		Name:      "warnings_total",
		Help:      "Run warnings by kind.",
	}, []string{"kind"})

	observations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mlife",
		Name:      "observations_total",
		Help:      "Canonical records parsed from exports.",
	})

	duration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mlife",
		Name:      "run_duration_seconds",
		Help:      "Wall time of export runs.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})
)

func init() {
	Registry.MustRegister(runs, records, warnings, observations, duration)
}

// RunOutcome is what a finished run reports.
type RunOutcome struct {
	Status       string
	Started      time.Time
	Observations int
	Records      []models.AggregatedRecord
	Rejected     []models.AggregatedRecord
	Warnings     []models.Warning
}

func ObserveRun(o RunOutcome) {
	runs.WithLabelValues(o.Status).Inc()
	if !o.Started.IsZero() {
		duration.Observe(time.Since(o.Started).Seconds())
	}
	observations.Add(float64(o.Observations))
	for _, r := range o.Records {
		records.WithLabelValues(r.Instrument, "valid").Inc()
	}
	for _, r := range o.Rejected {
		records.WithLabelValues(r.Instrument, "rejected").Inc()
	}
	for _, w := range o.Warnings {
		warnings.WithLabelValues(string(w.Kind)).Inc()
	}
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
