// Package metrics holds the Prometheus collectors shared by the collection
// pipeline. Collectors are registered with the default registry on init so
// the /metrics endpoint exposes them without further wiring.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "episoded"

var (
	// BusPublished counts Publish calls per topic (including ones with no subscribers).
	BusPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "published_total",
			Help:      "Total number of events published",
		},
		[]string{"topic"},
	)

	// BusHandlerFaults counts handlers that returned an error or panicked.
	BusHandlerFaults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "handler_faults_total",
			Help:      "Total number of handler faults isolated during dispatch",
		},
		[]string{"topic"},
	)

	// BusDropped counts events published after the bus was closed.
	BusDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "dropped_total",
			Help:      "Total number of events dropped because the bus was closed",
		},
	)

	// EpisodesEnded counts ended episodes by cause.
	EpisodesEnded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "episode",
			Name:      "ended_total",
			Help:      "Total number of episodes ended, by cause",
		},
		[]string{"cause"},
	)

	// CaptureFaults counts skipped frames caused by invalid capture data.
	CaptureFaults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dataset",
			Name:      "capture_faults_total",
			Help:      "Total number of capture faults, by component",
		},
		[]string{"component"},
	)

	// SamplesCaptured counts frame samples appended to episode buffers.
	SamplesCaptured = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dataset",
			Name:      "samples_captured_total",
			Help:      "Total number of frame samples captured",
		},
	)

	// SavesTotal counts persistence outcomes by split and outcome (saved|error).
	SavesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "persist",
			Name:      "saves_total",
			Help:      "Total number of episode archives processed, by split and outcome",
		},
		[]string{"split", "outcome"},
	)

	// SaveDuration observes how long writing one archive takes.
	SaveDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "persist",
			Name:      "save_duration_seconds",
			Help:      "Duration of episode archive writes in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// SavesInflight tracks save goroutines that have not finished yet.
	SavesInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "persist",
			Name:      "inflight_saves",
			Help:      "Episode saves currently in flight",
		},
	)

	// CatalogErrors counts failures to index a saved archive.
	CatalogErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "errors_total",
			Help:      "Total number of catalog write failures",
		},
	)
)

func init() {
	prometheus.MustRegister(
		BusPublished, BusHandlerFaults, BusDropped,
		EpisodesEnded,
		CaptureFaults, SamplesCaptured,
		SavesTotal, SaveDuration, SavesInflight,
		CatalogErrors,
	)
}
