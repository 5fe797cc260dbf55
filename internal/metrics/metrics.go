// Package metrics exposes prometheus counters/histograms for scan
// operations (supplemented ambient concern: scan duration, findings by
// severity, deep-analysis budget exhaustion), served by `clrsentry
// serve-metrics`.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors bundles the scan metrics. internal/cli updates them around
// scanner calls; nothing increments DeepAnalysisBudgetHits.
type Collectors struct {
	ScanDuration            prometheus.Histogram
	FindingsBySeverity      *prometheus.CounterVec
	DeepAnalysisBudgetHits  prometheus.Counter
	ScansTotal              prometheus.Counter
	ScanErrorsTotal         *prometheus.CounterVec
}

// New registers and returns the scanner's metric collectors against reg.
func New(reg prometheus.Registerer) *Collectors {
	factory := promauto.With(reg)
	return &Collectors{
		ScanDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "clrsentry_scan_duration_seconds",
			Help:    "Wall-clock duration of a single assembly scan.",
			Buckets: prometheus.DefBuckets,
		}),
		FindingsBySeverity: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "clrsentry_findings_total",
			Help: "Findings emitted, partitioned by severity.",
		}, []string{"severity"}),
		DeepAnalysisBudgetHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "clrsentry_deep_analysis_budget_exceeded_total",
			Help: "Number of methods where the deep-analysis wall-clock budget was exhausted.",
		}),
		ScansTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "clrsentry_scans_total",
			Help: "Total number of assembly scans run.",
		}),
		ScanErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "clrsentry_scan_errors_total",
			Help: "Scan errors, partitioned by error kind.",
		}, []string{"kind"}),
	}
}

// Handler returns the HTTP handler for `clrsentry serve-metrics`.
func Handler() http.Handler {
	return promhttp.Handler()
}
