package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// PageVisitsTotal 页面访问次数（kind: seed / alternate / search / enrich；status: ok / error / blocked）。
	PageVisitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "altfinder_page_visits_total",
			Help: "Page visits by kind and status.",
		},
		[]string{"kind", "status"},
	)

	PageVisitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "altfinder_page_visit_duration_seconds",
			Help:    "Time spent navigating and reading a page.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40},
		},
		[]string{"kind"},
	)

	CollectionFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "altfinder_collection_failures_total",
			Help: "Search queries whose result page could not be read.",
		},
	)

	CandidatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "altfinder_candidates_total",
			Help: "Candidates seen per pipeline stage (collected / sponsored / deduped).",
		},
		[]string{"stage"},
	)

	// EnrichmentTotal 补全结果（outcome: skipped / filled / unchanged / failed）。
	EnrichmentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "altfinder_enrichment_total",
			Help: "Enrichment revisits by outcome.",
		},
		[]string{"outcome"},
	)

	PipelineDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "altfinder_pipeline_duration_seconds",
			Help:    "End-to-end recommendation pipeline latency.",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 90},
		},
		[]string{"site", "status"},
	)

	PipelineRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "altfinder_pipeline_requests_total",
			Help: "Recommendation pipeline runs by site and status.",
		},
		[]string{"site", "status"},
	)

	// JobThroughput 任务队列吞吐（direction: in / out）。
	JobThroughput = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "altfinder_job_throughput_total",
			Help: "Jobs moving through the redis queue.",
		},
		[]string{"direction", "status"},
	)

	JobsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "altfinder_jobs_in_flight",
			Help: "Jobs currently being processed by this worker.",
		},
	)

	WorkerErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "altfinder_worker_errors_total",
			Help: "Worker level errors by type.",
		},
		[]string{"type"},
	)

	BrowserInstances = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "altfinder_browser_instances",
			Help: "Running browser instances.",
		},
	)

	BrowserRestartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "altfinder_browser_restarts_total",
			Help: "Browser restarts triggered by failed health checks.",
		},
	)

	RateLimitWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "altfinder_ratelimit_wait_seconds",
			Help:    "Time spent waiting for a rate limit token.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)

	RateLimitTimeoutTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "altfinder_ratelimit_timeout_total",
			Help: "Rate limit waits abandoned because the context ended.",
		},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "altfinder_http_requests_total",
			Help: "API requests by method, route and status code.",
		},
		[]string{"method", "route", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		PageVisitsTotal,
		PageVisitDuration,
		CollectionFailuresTotal,
		CandidatesTotal,
		EnrichmentTotal,
		PipelineDuration,
		PipelineRequestsTotal,
		JobThroughput,
		JobsInFlight,
		WorkerErrorsTotal,
		BrowserInstances,
		BrowserRestartsTotal,
		RateLimitWaitDuration,
		RateLimitTimeoutTotal,
		HTTPRequestsTotal,
	)
}
