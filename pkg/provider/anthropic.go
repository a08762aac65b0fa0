package provider

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bin2nlp/bin2nlp/pkg/models"
)

// anthropicStyle implements the messages-style wire family (spec §4.3).
type anthropicStyle struct {
	params models.ProviderParams
	client *httpClient
}

func newAnthropicStyle(p models.ProviderParams, c *httpClient) *anthropicStyle {
	if p.EndpointURL == "" {
		p.EndpointURL = "https://api.anthropic.com/v1/messages"
	}
	return &anthropicStyle{params: p, client: c}
}

type messagesRequest struct {
	Model     string           `json:"model"`
	System    string           `json:"system"`
	MaxTokens int              `json:"max_tokens"`
	Messages  []messagesTurn   `json:"messages"`
}

type messagesTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (a *anthropicStyle) complete(ctx context.Context, system, user string, acct *Accounting) (string, error) {
	req := messagesRequest{
		Model:     a.params.Model,
		System:    system,
		MaxTokens: 2048,
		Messages:  []messagesTurn{{Role: "user", Content: user}},
	}
	var resp messagesResponse
	latency, err := a.client.postJSON(ctx, a.params.EndpointURL, a.params.APIKey, req, &resp)
	if acct != nil {
		acct.LatencyMS = latency
	}
	if err != nil {
		return "", err
	}
	if len(resp.Content) == 0 {
		return "", ErrMalformedJSON
	}
	if acct != nil {
		acct.TokensIn += resp.Usage.InputTokens
		acct.TokensOut += resp.Usage.OutputTokens
	}
	return resp.Content[0].Text, nil
}

func (a *anthropicStyle) TranslateFunction(ctx context.Context, fn models.Function, callerNames, calleeNames []string, detail models.TranslationDetail, strict bool, acct *Accounting) (models.FunctionTranslation, error) {
	text, err := a.complete(ctx, functionSystemPrompt(strict), functionUserPrompt(fn, callerNames, calleeNames, detail), acct)
	if err != nil {
		return models.FunctionTranslation{}, err
	}
	var out models.FunctionTranslation
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return models.FunctionTranslation{}, ErrMalformedJSON
	}
	out.FunctionAddress = fn.Address
	return out, nil
}

func (a *anthropicStyle) TranslateImport(ctx context.Context, imp models.Import, referencedBy []string, detail models.TranslationDetail, strict bool, acct *Accounting) (models.ImportTranslation, error) {
	text, err := a.complete(ctx, importSystemPrompt(strict), importUserPrompt(imp, referencedBy, detail), acct)
	if err != nil {
		return models.ImportTranslation{}, err
	}
	var out models.ImportTranslation
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return models.ImportTranslation{}, ErrMalformedJSON
	}
	out.Library, out.Name = imp.Library, imp.Name
	return out, nil
}

func (a *anthropicStyle) TranslateString(ctx context.Context, s models.StringFact, detail models.TranslationDetail, strict bool, acct *Accounting) (models.StringTranslation, error) {
	text, err := a.complete(ctx, stringSystemPrompt(strict), stringUserPrompt(s, detail), acct)
	if err != nil {
		return models.StringTranslation{}, err
	}
	var out models.StringTranslation
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return models.StringTranslation{}, ErrMalformedJSON
	}
	out.Address = s.Address
	return out, nil
}

func (a *anthropicStyle) TranslateSummary(ctx context.Context, d models.Disassembly, selectedStrings []models.StringFact, detail models.TranslationDetail, strict bool, acct *Accounting) (models.OverallSummary, error) {
	text, err := a.complete(ctx, summarySystemPrompt(strict), summaryUserPrompt(d, selectedStrings), acct)
	if err != nil {
		return models.OverallSummary{}, err
	}
	var out models.OverallSummary
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return models.OverallSummary{}, ErrMalformedJSON
	}
	return out, nil
}

func (a *anthropicStyle) HealthCheck(ctx context.Context) HealthResult {
	start := time.Now()
	_, err := a.complete(ctx, "You are a health check.", "Reply with the single word: ok", nil)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return HealthResult{Healthy: false, LatencyMS: latency, Error: err.Error()}
	}
	return HealthResult{Healthy: true, LatencyMS: latency}
}

func (a *anthropicStyle) Capabilities() Capabilities {
	return Capabilities{MaxContextTokens: 200000, SupportsStreaming: true}
}
