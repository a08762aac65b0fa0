package api

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/bin2nlp/bin2nlp/pkg/metrics"
	"github.com/bin2nlp/bin2nlp/pkg/models"
)

// handleHealth reports the aggregate component health from the registry
// in pkg/metrics, with 503 when it is unhealthy (spec §4.8 "/health").
// The bare liveness probe is handleLive.
func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := metrics.GetHealth()
	status := http.StatusOK
	if health.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (a *API) handleLive(w http.ResponseWriter, r *http.Request) {
	metrics.LivenessHandler().ServeHTTP(w, r)
}

// handleReady probes the dependencies the component registry tracks as
// critical, refreshing them first so a stale registration never reports
// healthy for a dependency that just failed (spec §4.8 "/health/ready").
func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if _, err := a.store.CountJobsByStatus(ctx); err != nil {
		metrics.UpdateComponent("database", false, err.Error())
	} else {
		metrics.UpdateComponent("database", true, "")
	}

	readiness := metrics.GetReadiness()
	status := http.StatusOK
	if readiness.Status != "ready" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, readiness)
}

// systemInfoResponse backs the supplemented /system/info endpoint
// (SPEC_FULL.md §11): a standard companion to /health in services of
// this shape.
type systemInfoResponse struct {
	Version       string `json:"version"`
	GoVersion     string `json:"go_version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	WorkerCount   int    `json:"worker_count"`
	ActiveJobs    int64  `json:"active_jobs"`
}

func (a *API) handleSystemInfo(w http.ResponseWriter, r *http.Request) {
	counts, err := a.store.CountJobsByStatus(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, systemInfoResponse{
		Version:       buildVersion,
		GoVersion:     runtime.Version(),
		UptimeSeconds: int64(time.Since(a.startedAt).Seconds()),
		WorkerCount:   a.cfg.WorkerCount,
		ActiveJobs:    counts[models.JobStatusInProgress],
	})
}

// buildVersion is overridden at link time via -ldflags (spec §11).
var buildVersion = "dev"
