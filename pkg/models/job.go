// Package models defines the persisted entities of the bin2nlp pipeline:
// jobs, cache entries, rate-limit buckets, API keys, circuit-breaker state,
// upload sessions, and worker heartbeats.
package models

import "time"

// JobStatus is the lifecycle state of a Job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status cannot transition further.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Priority is the job priority class. Lower ordinal dequeues first.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Rank maps priority to a sortable ordinal, urgent first.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 3
	default:
		return 2
	}
}

// ValidPriority reports whether p is one of the closed set of priorities.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// AnalysisDepth controls how much the disassembler extracts.
type AnalysisDepth string

const (
	AnalysisDepthBasic         AnalysisDepth = "basic"
	AnalysisDepthStandard      AnalysisDepth = "standard"
	AnalysisDepthComprehensive AnalysisDepth = "comprehensive"
)

// TranslationDetail controls the verbosity requested from providers.
type TranslationDetail string

const (
	TranslationDetailBasic    TranslationDetail = "basic"
	TranslationDetailStandard TranslationDetail = "standard"
	TranslationDetailDetailed TranslationDetail = "detailed"
)

// ProviderParams are the per-request LLM provider construction parameters.
// No field is implicitly resolved from configuration unless the request
// omits it (see pkg/provider Registry.Build).
type ProviderParams struct {
	ProviderID  string `json:"provider_id"`
	Model       string `json:"model"`
	EndpointURL string `json:"endpoint_url,omitempty"`
	APIKey      string `json:"-"` // never marshaled, never logged
}

// Key returns the circuit-breaker / accounting key for this provider
// configuration: (provider_id, endpoint_url, model).
func (p ProviderParams) Key() string {
	return p.ProviderID + "|" + p.EndpointURL + "|" + p.Model
}

// AnalysisConfig is the structured, validated submission configuration.
type AnalysisConfig struct {
	AnalysisDepth     AnalysisDepth     `json:"analysis_depth"`
	TranslationDetail TranslationDetail `json:"translation_detail"`
	Provider          ProviderParams    `json:"provider_params"`
	TimeoutSeconds    int               `json:"timeout_seconds"`
}

// Job is a durable record of one submission through the pipeline.
type Job struct {
	ID                         string
	Status                     JobStatus
	Priority                   Priority
	FileHash                   string
	Filename                   string
	FileReference              string
	Config                     AnalysisConfig
	ResultReference            *string
	ErrorMessage               *string
	ErrorKind                  *string
	ProgressPercentage         int
	CurrentStage               string
	WorkerID                   *string
	CreatedAt                  time.Time
	StartedAt                  *time.Time
	UpdatedAt                  time.Time
	CompletedAt                *time.Time
	SubmittedBy                string
	CorrelationID              string
	ProcessingTimeSeconds      *float64
	EstimatedCompletionSeconds *int
	RetryCount                 int
	TokensIn                   int64
	TokensOut                  int64
	EstimatedCostUSD           float64
}

// CanCancel reports whether the job may still be cancelled.
func (j *Job) CanCancel() bool {
	return j.Status == JobStatusPending || j.Status == JobStatusInProgress
}
