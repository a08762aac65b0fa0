package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Job lifecycle metrics
	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bin2nlp_jobs_total",
			Help: "Total number of jobs reaching a terminal status",
		},
		[]string{"status"},
	)

	JobsInProgress = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bin2nlp_jobs_in_progress",
			Help: "Number of jobs currently leased by a worker",
		},
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bin2nlp_job_duration_seconds",
			Help:    "End-to-end job processing duration",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"status"},
	)

	// Disassembler metrics
	DisassemblyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bin2nlp_disassembly_duration_seconds",
			Help:    "Time taken to run the disassembler adapter over one upload",
			Buckets: prometheus.DefBuckets,
		},
	)

	DisassemblyFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bin2nlp_disassembly_failures_total",
			Help: "Total disassembler invocations that errored or timed out",
		},
	)

	// Translation orchestrator metrics
	TranslationCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bin2nlp_translation_calls_total",
			Help: "Total provider translation calls by item kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	TranslationTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bin2nlp_translation_tokens_total",
			Help: "Total tokens exchanged with providers",
		},
		[]string{"provider_id", "direction"},
	)

	TranslationCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bin2nlp_translation_call_duration_seconds",
			Help:    "Duration of one job's whole translation phase",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider_id"},
	)

	// Rate limiter metrics
	RateLimitRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bin2nlp_rate_limit_rejections_total",
			Help: "Total requests rejected by the rate limiter, by scope",
		},
		[]string{"scope"},
	)

	// Circuit breaker metrics
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bin2nlp_circuit_breaker_state",
			Help: "Circuit breaker state per provider key (0=closed, 1=half_open, 2=open)",
		},
		[]string{"provider_key"},
	)

	// Alert metrics
	AlertsFiring = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bin2nlp_alerts_firing",
			Help: "Number of currently firing alerts by rule",
		},
		[]string{"rule"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bin2nlp_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bin2nlp_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(JobsInProgress)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(DisassemblyDuration)
	prometheus.MustRegister(DisassemblyFailuresTotal)
	prometheus.MustRegister(TranslationCallsTotal)
	prometheus.MustRegister(TranslationTokens)
	prometheus.MustRegister(TranslationCallDuration)
	prometheus.MustRegister(RateLimitRejectionsTotal)
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(AlertsFiring)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// BreakerStateValue maps a breaker state name to the numeric gauge value
// used by CircuitBreakerState.
func BreakerStateValue(state string) float64 {
	switch state {
	case "half_open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
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
