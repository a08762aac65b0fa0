package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bin2nlp/bin2nlp/pkg/apperr"
	"github.com/bin2nlp/bin2nlp/pkg/models"
)

// providerSummary describes one configured provider id without ever
// surfacing an api_key (spec §4.3 "api_key ... never logged").
type providerSummary struct {
	ProviderID  string `json:"provider_id"`
	EndpointURL string `json:"endpoint_url,omitempty"`
	Model       string `json:"model,omitempty"`
}

// knownProviderIDs is the set of wire families C3 can construct (spec
// §4.3); a request may still name any id here, configured or not.
var knownProviderIDs = []string{"openai", "anthropic", "gemini", "local"}

func (a *API) handleListProviders(w http.ResponseWriter, r *http.Request) {
	out := make([]providerSummary, 0, len(knownProviderIDs))
	for _, id := range knownProviderIDs {
		d := a.cfg.ProviderDefaults[id]
		out = append(out, providerSummary{ProviderID: id, EndpointURL: d.EndpointURL, Model: d.Model})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"providers": out})
}

func (a *API) handleGetProvider(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !isKnownProvider(id) {
		writeError(w, apperr.New(apperr.KindNotFound, "unknown provider_id: "+id))
		return
	}
	d := a.cfg.ProviderDefaults[id]
	writeJSON(w, http.StatusOK, providerSummary{ProviderID: id, EndpointURL: d.EndpointURL, Model: d.Model})
}

func (a *API) handleProviderHealthCheck(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !isKnownProvider(id) {
		writeError(w, apperr.New(apperr.KindNotFound, "unknown provider_id: "+id))
		return
	}

	params := a.cfg.ResolveProvider(models.ProviderParams{
		ProviderID: id,
		Model:      r.URL.Query().Get("model"),
	})
	p, err := a.providers.Build(params)
	if err != nil {
		writeError(w, err)
		return
	}

	result := p.HealthCheck(r.Context())
	status := http.StatusOK
	if !result.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, result)
}

func isKnownProvider(id string) bool {
	for _, known := range knownProviderIDs {
		if known == id {
			return true
		}
	}
	return false
}
