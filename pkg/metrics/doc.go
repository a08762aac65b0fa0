/*
Package metrics provides Prometheus metrics collection and exposition for
the decompile-and-translate service.

All metrics are package-level collectors registered in init(), exposed at
/admin/metrics/prometheus via Handler(). A background Collector (see
collector.go) periodically samples store and circuit-breaker state into the
gauges that cannot be updated inline from a request path.

# Metrics Catalog

Job Metrics:

bin2nlp_jobs_total{status}:
  - Type: Counter
  - Description: Total number of jobs reaching a terminal status

bin2nlp_jobs_in_progress:
  - Type: Gauge
  - Description: Number of jobs currently leased by a worker

bin2nlp_job_duration_seconds{status}:
  - Type: Histogram
  - Description: End-to-end job processing duration

Disassembly Metrics:

bin2nlp_disassembly_duration_seconds:
  - Type: Histogram
  - Description: Time taken to run the disassembler adapter over one upload

bin2nlp_disassembly_failures_total:
  - Type: Counter
  - Description: Total disassembler invocations that errored or timed out

Translation Metrics:

bin2nlp_translation_calls_total{kind, outcome}:
  - Type: Counter
  - Description: Total provider translation calls by item kind and outcome

bin2nlp_translation_tokens_total{provider_id, direction}:
  - Type: Counter
  - Description: Total tokens exchanged with providers

bin2nlp_translation_call_duration_seconds{provider_id}:
  - Type: Histogram
  - Description: Duration of one job's whole translation phase (the
    orchestrator.Translate call), observed once per job

Rate Limiting and Circuit Breaker Metrics:

bin2nlp_rate_limit_rejections_total{scope}:
  - Type: Counter
  - Description: Total requests rejected by the rate limiter, by scope

bin2nlp_circuit_breaker_state{provider_key}:
  - Type: Gauge
  - Description: 0=closed, 1=half_open, 2=open (see BreakerStateValue)

Alerting Metrics:

bin2nlp_alerts_firing{rule}:
  - Type: Gauge
  - Description: Number of currently firing alerts by rule

API Metrics:

bin2nlp_api_requests_total{route, status}:
  - Type: Counter
  - Description: Total number of API requests by route and status

bin2nlp_api_request_duration_seconds{route}:
  - Type: Histogram
  - Description: API request duration in seconds

# Usage

	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.ObserveDurationVec(metrics.APIRequestDuration, route)

	metrics.JobsTotal.WithLabelValues(string(models.JobStatusFailed)).Inc()

# Integration Points

  - pkg/jobengine: disassembly duration and failures, and the translation
    phase duration
  - pkg/metrics (collector.go): periodic sampling of store/breaker state
    into jobs_in_progress and circuit_breaker_state; it creates the
    jobs_total series at zero but never increments them
  - pkg/api: serves Handler() at /admin/metrics/prometheus

No package updates bin2nlp_jobs_total, bin2nlp_job_duration_seconds,
bin2nlp_translation_calls_total, bin2nlp_translation_tokens_total,
bin2nlp_rate_limit_rejections_total, bin2nlp_alerts_firing,
bin2nlp_api_requests_total, or bin2nlp_api_request_duration_seconds; they
are registered and exported with no observations.

See health.go for the separate liveness/readiness component registry,
which is exposed over JSON rather than the Prometheus text format.
*/
package metrics
