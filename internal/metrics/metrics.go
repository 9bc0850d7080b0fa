package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registerOnce sync.Once

var (
	// IngestedMessages counts observation messages ingested successfully.
	IngestedMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingested_messages_total",
		Help: "Total observation messages ingested.",
	})
	// IngestFailures counts observation messages that failed to ingest.
	IngestFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_failures_total",
		Help: "Total observation messages that failed to ingest.",
	})
	// AggregateRuns counts aggregate refresh runs executed.
	AggregateRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aggregate_runs_total",
		Help: "Total aggregate refresh runs executed.",
	})
	// AlertsEmitted counts alerts emitted.
	AlertsEmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "alerts_emitted_total",
		Help: "Total alerts emitted.",
	})
)

// Init registers the counters with the default registry. Safe to call
// more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			IngestedMessages,
			IngestFailures,
			AggregateRuns,
			AlertsEmitted,
		)
	})
}

// Handler exposes the default registry in Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
