package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bin2nlp/bin2nlp/pkg/models"
)

// geminiStyle implements the generate-content wire family (spec §4.3).
type geminiStyle struct {
	params models.ProviderParams
	client *httpClient
}

func newGeminiStyle(p models.ProviderParams, c *httpClient) *geminiStyle {
	if p.EndpointURL == "" {
		p.EndpointURL = fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent", p.Model)
	}
	return &geminiStyle{params: p, client: c}
}

type generateContentRequest struct {
	SystemInstruction geminiContent   `json:"system_instruction"`
	Contents          []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

func (g *geminiStyle) complete(ctx context.Context, system, user string, acct *Accounting) (string, error) {
	req := generateContentRequest{
		SystemInstruction: geminiContent{Parts: []geminiPart{{Text: system}}},
		Contents:          []geminiContent{{Parts: []geminiPart{{Text: user}}}},
	}
	var resp generateContentResponse
	url := g.params.EndpointURL + "?key=" + g.params.APIKey
	latency, err := g.client.postJSON(ctx, url, "", req, &resp)
	if acct != nil {
		acct.LatencyMS = latency
	}
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", ErrMalformedJSON
	}
	if acct != nil {
		acct.TokensIn += resp.UsageMetadata.PromptTokenCount
		acct.TokensOut += resp.UsageMetadata.CandidatesTokenCount
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}

func (g *geminiStyle) TranslateFunction(ctx context.Context, fn models.Function, callerNames, calleeNames []string, detail models.TranslationDetail, strict bool, acct *Accounting) (models.FunctionTranslation, error) {
	text, err := g.complete(ctx, functionSystemPrompt(strict), functionUserPrompt(fn, callerNames, calleeNames, detail), acct)
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

func (g *geminiStyle) TranslateImport(ctx context.Context, imp models.Import, referencedBy []string, detail models.TranslationDetail, strict bool, acct *Accounting) (models.ImportTranslation, error) {
	text, err := g.complete(ctx, importSystemPrompt(strict), importUserPrompt(imp, referencedBy, detail), acct)
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

func (g *geminiStyle) TranslateString(ctx context.Context, s models.StringFact, detail models.TranslationDetail, strict bool, acct *Accounting) (models.StringTranslation, error) {
	text, err := g.complete(ctx, stringSystemPrompt(strict), stringUserPrompt(s, detail), acct)
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

func (g *geminiStyle) TranslateSummary(ctx context.Context, d models.Disassembly, selectedStrings []models.StringFact, detail models.TranslationDetail, strict bool, acct *Accounting) (models.OverallSummary, error) {
	text, err := g.complete(ctx, summarySystemPrompt(strict), summaryUserPrompt(d, selectedStrings), acct)
	if err != nil {
		return models.OverallSummary{}, err
	}
	var out models.OverallSummary
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return models.OverallSummary{}, ErrMalformedJSON
	}
	return out, nil
}

func (g *geminiStyle) HealthCheck(ctx context.Context) HealthResult {
	start := time.Now()
	_, err := g.complete(ctx, "You are a health check.", "Reply with the single word: ok", nil)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return HealthResult{Healthy: false, LatencyMS: latency, Error: err.Error()}
	}
	return HealthResult{Healthy: true, LatencyMS: latency}
}

func (g *geminiStyle) Capabilities() Capabilities {
	return Capabilities{MaxContextTokens: 1000000, SupportsStreaming: false}
}
