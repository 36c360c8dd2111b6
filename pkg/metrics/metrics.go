package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry content metrics
	CratesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "granary_crates_total",
			Help: "Total number of crates",
		},
	)

	VersionsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "granary_versions_total",
			Help: "Total number of published versions",
		},
	)

	UsersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "granary_users_total",
			Help: "Total number of users by active flag",
		},
		[]string{"active"},
	)

	// Publish pipeline metrics
	PublishesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "granary_publishes_total",
			Help: "Total number of successful publishes",
		},
	)

	PublishFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "granary_publish_failures_total",
			Help: "Total number of failed publishes by stage",
		},
		[]string{"stage"},
	)

	YanksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "granary_yanks_total",
			Help: "Total number of yank and unyank operations",
		},
	)

	PublishDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "granary_publish_duration_seconds",
			Help:    "Time taken by the whole publish pipeline in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Index repository metrics
	IndexCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "granary_index_commit_duration_seconds",
			Help:    "Time taken to commit and push an index change in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	IndexRollbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "granary_index_rollbacks_total",
			Help: "Total number of index commits rolled back by compensation",
		},
	)

	// Blob store metrics
	BlobRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "granary_blob_requests_total",
			Help: "Total number of blob store requests by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	BlobRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "granary_blob_request_duration_seconds",
			Help:    "Blob store request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "granary_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "granary_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Docs worker metrics
	DocsJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "granary_docs_jobs_total",
			Help: "Total number of docs jobs by terminal state",
		},
		[]string{"state"},
	)

	DocsJobsByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "granary_docs_jobs_by_state",
			Help: "Current number of docs jobs by state",
		},
		[]string{"state"},
	)

	DocsJobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "granary_docs_job_duration_seconds",
			Help:    "Docs job duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(CratesTotal)
	prometheus.MustRegister(VersionsTotal)
	prometheus.MustRegister(UsersTotal)
	prometheus.MustRegister(PublishesTotal)
	prometheus.MustRegister(PublishFailuresTotal)
	prometheus.MustRegister(YanksTotal)
	prometheus.MustRegister(PublishDuration)
	prometheus.MustRegister(IndexCommitDuration)
	prometheus.MustRegister(IndexRollbacksTotal)
	prometheus.MustRegister(BlobRequestsTotal)
	prometheus.MustRegister(BlobRequestDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(DocsJobsTotal)
	prometheus.MustRegister(DocsJobsByState)
	prometheus.MustRegister(DocsJobDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
