package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bin2nlp/bin2nlp/pkg/apperr"
	"github.com/bin2nlp/bin2nlp/pkg/models"
)

// adminStatsResponse is the job-count-by-status rollup for /admin/stats.
type adminStatsResponse struct {
	JobsByStatus map[models.JobStatus]int64 `json:"jobs_by_status"`
}

func (a *API) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	counts, err := a.store.CountJobsByStatus(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, adminStatsResponse{JobsByStatus: counts})
}

// handleAdminConfig echoes the running configuration, redacting anything
// that looks like a secret (spec §4.3 "api_key ... never logged").
func (a *API) handleAdminConfig(w http.ResponseWriter, r *http.Request) {
	redacted := *a.cfg
	redacted.Auth.APIKeySalt = "***"
	redacted.Database.DSN = "***"
	redacted.Redis.Password = "***"
	writeJSON(w, http.StatusOK, redacted)
}

// --- API key administration (C9) ---

type createAPIKeyRequest struct {
	UserID      string            `json:"user_id"`
	Tier        models.Tier       `json:"tier"`
	Permissions []models.Permission `json:"permissions"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty"`
}

type createAPIKeyResponse struct {
	KeyID     string    `json:"key_id"`
	Secret    string    `json:"secret"`
	UserID    string    `json:"user_id"`
	Tier      models.Tier `json:"tier"`
	CreatedAt time.Time `json:"created_at"`
}

func (a *API) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req createAPIKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Wrap(apperr.KindInvalidRequest, "decode request body", err))
		return
	}
	key, secret, err := a.authn.CreateKey(r.Context(), req.UserID, req.Tier, req.Permissions, req.ExpiresAt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createAPIKeyResponse{
		KeyID:     key.KeyID,
		Secret:    secret,
		UserID:    key.UserID,
		Tier:      key.Tier,
		CreatedAt: key.CreatedAt,
	})
}

func (a *API) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	keys, err := a.authn.ListForUser(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"api_keys": keys})
}

func (a *API) handleRevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	keyID := chi.URLParam(r, "key_id")
	if err := a.authn.Revoke(r.Context(), userID, keyID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key_id": keyID, "status": "revoked"})
}

type bootstrapAdminRequest struct {
	UserID string `json:"user_id"`
}

func (a *API) handleBootstrapAdmin(w http.ResponseWriter, r *http.Request) {
	var req bootstrapAdminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Wrap(apperr.KindInvalidRequest, "decode request body", err))
		return
	}
	key, secret, err := a.authn.BootstrapAdmin(r.Context(), req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createAPIKeyResponse{
		KeyID:     key.KeyID,
		Secret:    secret,
		UserID:    key.UserID,
		Tier:      key.Tier,
		CreatedAt: key.CreatedAt,
	})
}

// --- Circuit breaker administration (C4) ---

func (a *API) handleListBreakers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"breakers": a.breakers.Snapshots()})
}

func (a *API) handleGetBreaker(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	snap := a.breakers.Snapshot(name)
	if snap == nil {
		writeError(w, apperr.New(apperr.KindNotFound, "unknown breaker: "+name))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) handleResetBreaker(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := a.breakers.Reset(name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": name, "status": "reset"})
}

func (a *API) handleForceOpenBreaker(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := a.breakers.ForceOpen(name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": name, "status": "forced_open"})
}

// handleBreakerHealthCheckAll reports which providers currently have an
// open breaker, for a dashboard-style at-a-glance view.
func (a *API) handleBreakerHealthCheckAll(w http.ResponseWriter, r *http.Request) {
	snaps := a.breakers.Snapshots()
	open := make([]string, 0)
	for _, s := range snaps {
		if s.State == models.BreakerOpen {
			open = append(open, s.ProviderKey)
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":      len(snaps),
		"open_count": len(open),
		"open":       open,
	})
}

// --- Alert administration (spec §11 supplemented feature) ---

func (a *API) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	status := models.AlertStatus(r.URL.Query().Get("status"))
	alerts, err := a.alerts.List(r.Context(), status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"alerts": alerts})
}

func (a *API) handleCheckAlerts(w http.ResponseWriter, r *http.Request) {
	fired, err := a.alerts.Check(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"fired": fired})
}

func (a *API) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.alerts.Acknowledge(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "acknowledged"})
}

func (a *API) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.alerts.Resolve(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "resolved"})
}
