package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bin2nlp/bin2nlp/pkg/apperr"
	"github.com/bin2nlp/bin2nlp/pkg/log"
	"github.com/bin2nlp/bin2nlp/pkg/models"
)

// decompileSubmitResponse is the 202 body of POST /decompile (spec §6).
type decompileSubmitResponse struct {
	JobID          string                `json:"job_id"`
	Status         string                `json:"status"`
	FileInfo       submittedFile         `json:"file_info"`
	Config         models.AnalysisConfig `json:"config"`
	CheckStatusURL string                `json:"check_status_url"`
}

// submitStatus maps a freshly submitted job's internal status to the wire
// value spec §6's submit response documents. A pending job is reported as
// "queued" since it has not yet been leased by a worker; a cache hit can
// come back already completed, which is echoed as-is.
func submitStatus(s models.JobStatus) string {
	if s == models.JobStatusPending {
		return "queued"
	}
	return string(s)
}

type submittedFile struct {
	Filename    string `json:"filename"`
	SizeBytes   int64  `json:"size_bytes"`
	ContentType string `json:"content_type"`
}

// decompileStatusResponse is the body of GET /decompile/{id}; Result is
// populated only once the job reaches a terminal state (spec §4.8).
type decompileStatusResponse struct {
	JobID              string                 `json:"job_id"`
	Status             models.JobStatus       `json:"status"`
	ProgressPercentage int                    `json:"progress_percentage"`
	CurrentStage       string                 `json:"current_stage,omitempty"`
	ErrorKind          *string                `json:"error_kind,omitempty"`
	ErrorMessage       *string                `json:"error_message,omitempty"`
	CreatedAt          string                 `json:"created_at"`
	UpdatedAt          string                 `json:"updated_at"`
	Result             *models.ResultDocument `json:"result,omitempty"`
}

const maxUploadMemory = 32 << 20 // buffer this much in memory before spilling to temp files

func (a *API) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, apperr.Wrap(apperr.KindInvalidRequest, "parse multipart form", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindInvalidRequest, "missing required field: file", err))
		return
	}
	defer file.Close()

	cfg, err := parseSubmitConfig(r)
	if err != nil {
		writeError(w, err)
		return
	}

	key := apiKeyFromContext(r.Context())
	correlationID := r.Header.Get("X-Correlation-Id")
	job, err := a.engine.Submit(r.Context(), file, header.Filename, cfg, key.UserID, correlationID, models.Priority(r.FormValue("priority")))
	if err != nil {
		writeError(w, err)
		return
	}

	if a.sessions != nil {
		if _, err := a.sessions.Create(r.Context(), job.ID, map[string]string{
			"filename":     header.Filename,
			"content_type": header.Header.Get("Content-Type"),
		}); err != nil {
			log.WithComponent("api").Warn().Err(err).Str("job_id", job.ID).Msg("upload session create failed")
		}
	}

	resp := decompileSubmitResponse{
		JobID:  job.ID,
		Status: submitStatus(job.Status),
		FileInfo: submittedFile{
			Filename:    header.Filename,
			SizeBytes:   header.Size,
			ContentType: header.Header.Get("Content-Type"),
		},
		Config:         redactProvider(job.Config),
		CheckStatusURL: "/decompile/" + job.ID,
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func parseSubmitConfig(r *http.Request) (models.AnalysisConfig, error) {
	depth := models.AnalysisDepth(orDefault(r.FormValue("analysis_depth"), "standard"))
	detail := models.TranslationDetail(orDefault(r.FormValue("translation_detail"), "standard"))
	switch depth {
	case models.AnalysisDepthBasic, models.AnalysisDepthStandard, models.AnalysisDepthComprehensive:
	default:
		return models.AnalysisConfig{}, apperr.New(apperr.KindValidationError, "invalid analysis_depth: "+string(depth))
	}
	switch detail {
	case models.TranslationDetailBasic, models.TranslationDetailStandard, models.TranslationDetailDetailed:
	default:
		return models.AnalysisConfig{}, apperr.New(apperr.KindValidationError, "invalid translation_detail: "+string(detail))
	}

	providerID := orDefault(r.FormValue("llm_provider"), "openai")
	return models.AnalysisConfig{
		AnalysisDepth:     depth,
		TranslationDetail: detail,
		Provider: models.ProviderParams{
			ProviderID:  providerID,
			Model:       r.FormValue("llm_model"),
			EndpointURL: r.FormValue("llm_endpoint_url"),
			APIKey:      r.FormValue("llm_api_key"),
		},
	}, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// redactProvider echoes config back with the API key stripped (spec §6
// "config: /* echoed, api_key redacted */").
func redactProvider(cfg models.AnalysisConfig) models.AnalysisConfig {
	cfg.Provider.APIKey = ""
	return cfg
}

func (a *API) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := a.store.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := decompileStatusResponse{
		JobID:              job.ID,
		Status:             job.Status,
		ProgressPercentage: job.ProgressPercentage,
		CurrentStage:       job.CurrentStage,
		ErrorKind:          job.ErrorKind,
		ErrorMessage:       job.ErrorMessage,
		CreatedAt:          job.CreatedAt.Format(timeLayout),
		UpdatedAt:          job.UpdatedAt.Format(timeLayout),
	}

	if job.Status.Terminal() && job.ResultReference != nil {
		doc, err := a.loadResult(r.Context(), *job.ResultReference)
		if err != nil {
			writeError(w, err)
			return
		}
		resp.Result = doc
	}

	writeJSON(w, http.StatusOK, resp)
}

// loadResult reads and decodes the stored result blob for a terminal job.
func (a *API) loadResult(ctx context.Context, handle string) (*models.ResultDocument, error) {
	rc, err := a.blobs.GetBlob(ctx, handle)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var doc models.ResultDocument
	if err := json.NewDecoder(rc).Decode(&doc); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "decode result blob", err)
	}
	return &doc, nil
}

func (a *API) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.engine.Cancel(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": id, "status": "cancel_requested"})
}

func (a *API) handleDecompileTest(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

const timeLayout = "2006-01-02T15:04:05Z07:00"
