// Package metrics exposes Prometheus collectors for the prospector service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsTotal            *prometheus.CounterVec
	batchesTotal         *prometheus.CounterVec
	batchDurationSeconds prometheus.Histogram
	prospectsTotal       prometheus.Counter
	candidatesTotal      *prometheus.CounterVec
	admissionRejects     prometheus.Counter
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prospector_jobs_total",
				Help: "Total number of jobs reaching a state, labeled by status.",
			},
			[]string{"status"},
		)

		batchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prospector_batches_total",
				Help: "Total number of batch invocations, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		batchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "prospector_batch_duration_seconds",
				Help:    "Histogram of batch processing latencies.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		)

		prospectsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "prospector_prospects_total",
				Help: "Total number of prospects accepted and persisted.",
			},
		)

		candidatesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prospector_candidates_total",
				Help: "Total candidates evaluated, labeled by disposition.",
			},
			[]string{"disposition"},
		)

		admissionRejects = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "prospector_admission_rejects_total",
				Help: "Total job creation requests rejected by the rate limiter.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method"},
		)
	})
}

// ObserveJobStatus increments the jobs counter for a status transition.
func ObserveJobStatus(status string) {
	if jobsTotal != nil {
		jobsTotal.WithLabelValues(status).Inc()
	}
}

// ObserveBatch records one batch invocation outcome and its duration.
func ObserveBatch(outcome string, d time.Duration) {
	if batchesTotal != nil {
		batchesTotal.WithLabelValues(outcome).Inc()
	}
	if batchDurationSeconds != nil {
		batchDurationSeconds.Observe(d.Seconds())
	}
}

// ObserveProspect counts one accepted prospect.
func ObserveProspect() {
	if prospectsTotal != nil {
		prospectsTotal.Inc()
	}
}

// ObserveCandidate counts one evaluated candidate by disposition
// (accepted, deduped, error, capped).
func ObserveCandidate(disposition string) {
	if candidatesTotal != nil {
		candidatesTotal.WithLabelValues(disposition).Inc()
	}
}

// ObserveAdmissionReject counts one rate-limited job creation attempt.
func ObserveAdmissionReject() {
	if admissionRejects != nil {
		admissionRejects.Inc()
	}
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware instruments HTTP handlers with request counters and latency.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		if httpRequestsTotal != nil {
			httpRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(ww.status)).Inc()
		}
		if httpRequestDuration != nil {
			httpRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
