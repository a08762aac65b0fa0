// Package provider implements C3: on-demand construction of an LLM
// provider client from request parameters, and the uniform Provider
// contract every wire-protocol family implements (spec.md §4.3). Wire
// protocols themselves are out of this system's scope (spec.md §1), so
// each family is a thin net/http + encoding/json client rather than a
// vendor SDK — see DESIGN.md.
package provider

import (
	"context"
	"time"

	"github.com/bin2nlp/bin2nlp/pkg/apperr"
	"github.com/bin2nlp/bin2nlp/pkg/models"
)

// Capabilities describes what a provider instance can do, queried once
// after construction and cached for the job's lifetime.
type Capabilities struct {
	MaxContextTokens  int
	SupportsStreaming bool
	CostPer1kTokens   *float64
}

// HealthResult is the outcome of a minimal probe request.
type HealthResult struct {
	Healthy   bool
	LatencyMS int64
	Error     string
}

// Accounting is where a Provider call records what it spent; the caller
// supplies one per request so concurrent calls do not race on a shared
// counter (spec §4.3 "ctx carries ... accounting sinks").
type Accounting struct {
	TokensIn  int
	TokensOut int
	LatencyMS int64
}

// Provider is the uniform client contract every wire-protocol family
// implements (spec.md §4.3). Each Translate* call's strict flag is set by
// the orchestrator on its one allowed retry after a schema parse failure,
// appending an explicit "return only JSON matching this schema" reminder
// to the prompt (spec §4.6).
type Provider interface {
	TranslateFunction(ctx context.Context, fn models.Function, callerNames, calleeNames []string, detail models.TranslationDetail, strict bool, acct *Accounting) (models.FunctionTranslation, error)
	TranslateImport(ctx context.Context, imp models.Import, referencedBy []string, detail models.TranslationDetail, strict bool, acct *Accounting) (models.ImportTranslation, error)
	TranslateString(ctx context.Context, s models.StringFact, detail models.TranslationDetail, strict bool, acct *Accounting) (models.StringTranslation, error)
	TranslateSummary(ctx context.Context, d models.Disassembly, selectedStrings []models.StringFact, detail models.TranslationDetail, strict bool, acct *Accounting) (models.OverallSummary, error)
	HealthCheck(ctx context.Context) HealthResult
	Capabilities() Capabilities
}

// ErrMalformedJSON signals that the model's completion text did not parse
// as the expected structured schema; the orchestrator matches this with
// errors.Is to decide whether a strict retry is warranted (spec §4.6).
var ErrMalformedJSON = apperr.New(apperr.KindProviderFailure, "model response did not match expected JSON schema")

// Registry constructs Provider instances on demand; it never selects one
// from a fixed pool by failover (spec §4.3).
type Registry struct {
	httpTimeout time.Duration
}

// NewRegistry builds a Registry whose HTTP clients share httpTimeout as
// their per-request ceiling (bounded further by the caller's context).
func NewRegistry(httpTimeout time.Duration) *Registry {
	return &Registry{httpTimeout: httpTimeout}
}

// Build constructs a Provider bound to p. provider_id selects the wire
// family; endpoint_url and model are sent verbatim, api_key is the bearer
// credential. No field is resolved from configuration here — callers that
// want process-wide defaults must apply config.Config.ResolveProvider
// first (spec §4.3 "the request parameters are authoritative").
func (r *Registry) Build(p models.ProviderParams) (Provider, error) {
	client := &httpClient{timeout: r.httpTimeout}
	switch p.ProviderID {
	case "openai", "local":
		return newOpenAIStyle(p, client), nil
	case "anthropic":
		return newAnthropicStyle(p, client), nil
	case "gemini":
		return newGeminiStyle(p, client), nil
	default:
		return nil, apperr.New(apperr.KindValidationError, "unknown provider_id: "+p.ProviderID)
	}
}
