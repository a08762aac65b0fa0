package models

// FunctionTranslation is the LLM's explanation of one Function.
type FunctionTranslation struct {
	FunctionAddress uint64   `json:"function_address"`
	NaturalLanguage string   `json:"natural_language"`
	Purpose         string   `json:"purpose,omitempty"`
	Parameters      []string `json:"parameters,omitempty"`
	SecurityNotes   string   `json:"security_notes,omitempty"`
	TokensIn        int      `json:"tokens_in"`
	TokensOut       int      `json:"tokens_out"`
	LatencyMS       int64    `json:"latency_ms"`
	Error           string   `json:"error,omitempty"`
}

// ImportTranslation is the LLM's explanation of one Import.
type ImportTranslation struct {
	Library         string `json:"library"`
	Name            string `json:"name"`
	NaturalLanguage string `json:"natural_language"`
	SecurityNotes   string `json:"security_notes,omitempty"`
	TokensIn        int    `json:"tokens_in"`
	TokensOut       int    `json:"tokens_out"`
	Error           string `json:"error,omitempty"`
}

// StringTranslation is the LLM's explanation of one extracted string.
type StringTranslation struct {
	Address         uint64 `json:"address"`
	NaturalLanguage string `json:"natural_language"`
	Category        string `json:"category,omitempty"`
	TokensIn        int    `json:"tokens_in"`
	TokensOut       int    `json:"tokens_out"`
	Error           string `json:"error,omitempty"`
}

// OverallSummary is the single whole-binary synthesis, produced last.
type OverallSummary struct {
	Text          string   `json:"text"`
	Purpose       string   `json:"purpose,omitempty"`
	KeyBehaviors  []string `json:"key_behaviors,omitempty"`
	SecurityNotes string   `json:"security_notes,omitempty"`
	RiskScore     *float64 `json:"risk_score,omitempty"`
	TokensIn      int      `json:"tokens_in"`
	TokensOut     int      `json:"tokens_out"`
}

// TranslatedResult merges every translation produced for one job.
type TranslatedResult struct {
	OverallSummary       OverallSummary        `json:"overall_summary"`
	FunctionTranslations []FunctionTranslation `json:"functions"`
	ImportTranslations   []ImportTranslation   `json:"imports"`
	StringTranslations   []StringTranslation   `json:"strings"`
	Warnings             []string              `json:"warnings,omitempty"`
	Accounting           Accounting            `json:"accounting"`
}

// Accounting is the per-job token/cost/duration ledger (spec §4.6).
type Accounting struct {
	ProviderID      string  `json:"provider_id"`
	Model           string  `json:"model"`
	TotalTokensIn   int64   `json:"total_tokens_in"`
	TotalTokensOut  int64   `json:"total_tokens_out"`
	EstimatedCost   float64 `json:"estimated_cost"`
	DurationSeconds float64 `json:"durations"`
}

// ResultMetadata is the envelope wrapping a stored result document.
type ResultMetadata struct {
	JobID       string `json:"job_id"`
	CreatedAt   string `json:"created_at"`
	CompletedAt string `json:"completed_at"`
	Versions    string `json:"versions"`
}

// ResultDocument is the full JSON blob persisted to the result store and
// returned by GET /decompile/{id} once a job reaches a terminal state.
type ResultDocument struct {
	Metadata     ResultMetadata   `json:"metadata"`
	Disassembly  Disassembly      `json:"disassembly"`
	Translations TranslatedResult `json:"translations"`
	Accounting   Accounting       `json:"accounting"`
}
