// Package metrics exposes Prometheus metrics for sync runs, WebDAV traffic
// and certificate decisions.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	syncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ocsync_sync_runs_total",
			Help: "Total number of finished sync runs",
		},
		[]string{"mode", "status"},
	)

	syncRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ocsync_sync_run_duration_seconds",
			Help:    "Sync run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	syncErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ocsync_sync_errors_total",
			Help: "Sync engine failures by phase",
		},
		[]string{"phase"},
	)

	walkSeenFiles = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ocsync_walk_seen_files",
			Help: "Files seen by the last local tree walk",
		},
		[]string{"folder"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ocsync_http_requests_total",
			Help: "WebDAV requests by verb and response status",
		},
		[]string{"verb", "status"},
	)

	certificateDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ocsync_certificate_decisions_total",
			Help: "Outcomes of certificate trust checks",
		},
		[]string{"decision"},
	)
)

// RecordSyncRun records a finished run.
func RecordSyncRun(mode, status string, duration time.Duration) {
	syncRunsTotal.WithLabelValues(mode, status).Inc()
	syncRunDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordSyncError counts an engine failure in the given phase.
func RecordSyncError(phase string) {
	syncErrorsTotal.WithLabelValues(phase).Inc()
}

// SetWalkSeenFiles publishes the seen-file count of a folder's last walk.
func SetWalkSeenFiles(folder string, seen int) {
	walkSeenFiles.WithLabelValues(folder).Set(float64(seen))
}

// RecordHTTPRequest counts a completed request; status 0 means a transport error.
func RecordHTTPRequest(verb string, status int) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	httpRequestsTotal.WithLabelValues(verb, label).Inc()
}

// RecordCertificateDecision counts a trust outcome such as "allowed" or "rejected".
func RecordCertificateDecision(decision string) {
	certificateDecisions.WithLabelValues(decision).Inc()
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
