package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bin2nlp/bin2nlp/pkg/models"
)

// openAIStyle implements the chat-completions wire family, also used for
// "local" self-hosted endpoints that mimic it (spec §4.3).
type openAIStyle struct {
	params models.ProviderParams
	client *httpClient
}

func newOpenAIStyle(p models.ProviderParams, c *httpClient) *openAIStyle {
	if p.EndpointURL == "" {
		p.EndpointURL = "https://api.openai.com/v1/chat/completions"
	}
	return &openAIStyle{params: p, client: c}
}

type chatCompletionRequest struct {
	Model    string              `json:"model"`
	Messages []chatCompletionMsg `json:"messages"`
}

type chatCompletionMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatCompletionMsg `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (o *openAIStyle) complete(ctx context.Context, system, user string, acct *Accounting) (string, error) {
	req := chatCompletionRequest{
		Model: o.params.Model,
		Messages: []chatCompletionMsg{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}
	var resp chatCompletionResponse
	latency, err := o.client.postJSON(ctx, o.params.EndpointURL, o.params.APIKey, req, &resp)
	if acct != nil {
		acct.LatencyMS = latency
	}
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrMalformedJSON
	}
	if acct != nil {
		acct.TokensIn += resp.Usage.PromptTokens
		acct.TokensOut += resp.Usage.CompletionTokens
	}
	return resp.Choices[0].Message.Content, nil
}

func (o *openAIStyle) TranslateFunction(ctx context.Context, fn models.Function, callerNames, calleeNames []string, detail models.TranslationDetail, strict bool, acct *Accounting) (models.FunctionTranslation, error) {
	system := functionSystemPrompt(strict)
	user := functionUserPrompt(fn, callerNames, calleeNames, detail)
	text, err := o.complete(ctx, system, user, acct)
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

func (o *openAIStyle) TranslateImport(ctx context.Context, imp models.Import, referencedBy []string, detail models.TranslationDetail, strict bool, acct *Accounting) (models.ImportTranslation, error) {
	system := importSystemPrompt(strict)
	user := importUserPrompt(imp, referencedBy, detail)
	text, err := o.complete(ctx, system, user, acct)
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

func (o *openAIStyle) TranslateString(ctx context.Context, s models.StringFact, detail models.TranslationDetail, strict bool, acct *Accounting) (models.StringTranslation, error) {
	system := stringSystemPrompt(strict)
	user := stringUserPrompt(s, detail)
	text, err := o.complete(ctx, system, user, acct)
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

func (o *openAIStyle) TranslateSummary(ctx context.Context, d models.Disassembly, selectedStrings []models.StringFact, detail models.TranslationDetail, strict bool, acct *Accounting) (models.OverallSummary, error) {
	system := summarySystemPrompt(strict)
	user := summaryUserPrompt(d, selectedStrings)
	text, err := o.complete(ctx, system, user, acct)
	if err != nil {
		return models.OverallSummary{}, err
	}
	var out models.OverallSummary
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return models.OverallSummary{}, ErrMalformedJSON
	}
	return out, nil
}

func (o *openAIStyle) HealthCheck(ctx context.Context) HealthResult {
	start := time.Now()
	_, err := o.complete(ctx, "You are a health check.", "Reply with the single word: ok", nil)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return HealthResult{Healthy: false, LatencyMS: latency, Error: err.Error()}
	}
	return HealthResult{Healthy: true, LatencyMS: latency}
}

func (o *openAIStyle) Capabilities() Capabilities {
	return Capabilities{MaxContextTokens: 128000, SupportsStreaming: true}
}

func jsonSchemaReminder(strict bool, schema string) string {
	if !strict {
		return ""
	}
	return fmt.Sprintf(" Return only JSON matching this schema, with no surrounding prose: %s", schema)
}

func functionSystemPrompt(strict bool) string {
	return "You explain disassembled machine code functions to a security analyst. Respond with a single JSON object: " +
		`{"natural_language":string,"purpose":string,"parameters":[string],"security_notes":string}` +
		jsonSchemaReminder(strict, `{"natural_language":string,"purpose":string,"parameters":[string],"security_notes":string}`)
}

func functionUserPrompt(fn models.Function, callers, callees []string, detail models.TranslationDetail) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Function %q at address 0x%x, size %d bytes, detail level %s.\n", fn.Name, fn.Address, fn.SizeBytes, detail)
	if len(callers) > 0 {
		fmt.Fprintf(&b, "Called by: %s\n", strings.Join(callers, ", "))
	}
	if len(callees) > 0 {
		fmt.Fprintf(&b, "Calls: %s\n", strings.Join(callees, ", "))
	}
	b.WriteString("Assembly listing:\n")
	for _, insn := range fn.Assembly {
		fmt.Fprintf(&b, "0x%x: %s %s\n", insn.Address, insn.Mnemonic, insn.Operands)
	}
	return b.String()
}

func importSystemPrompt(strict bool) string {
	return "You explain imported library symbols to a security analyst. Respond with a single JSON object: " +
		`{"natural_language":string,"security_notes":string}` +
		jsonSchemaReminder(strict, `{"natural_language":string,"security_notes":string}`)
}

func importUserPrompt(imp models.Import, referencedBy []string, detail models.TranslationDetail) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Import %s!%s, detail level %s.\n", imp.Library, imp.Name, detail)
	if len(referencedBy) > 0 {
		fmt.Fprintf(&b, "Referenced by functions: %s\n", strings.Join(referencedBy, ", "))
	}
	return b.String()
}

func stringSystemPrompt(strict bool) string {
	return "You classify and explain an extracted string literal from a binary. Respond with a single JSON object: " +
		`{"natural_language":string,"category":string}` +
		jsonSchemaReminder(strict, `{"natural_language":string,"category":string}`)
}

func stringUserPrompt(s models.StringFact, detail models.TranslationDetail) string {
	content := s.Content
	if len(content) > 500 {
		content = content[:500]
	}
	return fmt.Sprintf("String (%s, section %s, address 0x%x, detail level %s): %q", s.Encoding, s.Section, s.Address, detail, content)
}

func summarySystemPrompt(strict bool) string {
	return "You summarize a fully analyzed binary for a security analyst. Respond with a single JSON object: " +
		`{"text":string,"purpose":string,"key_behaviors":[string],"security_notes":string,"risk_score":number}` +
		jsonSchemaReminder(strict, `{"text":string,"purpose":string,"key_behaviors":[string],"security_notes":string,"risk_score":number}`)
}

func summaryUserPrompt(d models.Disassembly, selectedStrings []models.StringFact) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Format: %s, arch: %s, %d-bit, entry 0x%x\n", d.FileInfo.Format, d.FileInfo.Architecture, d.FileInfo.Bits, d.FileInfo.EntryPoint)
	fmt.Fprintf(&b, "%d functions, %d imports, %d exports, %d strings\n", len(d.Functions), len(d.Imports), len(d.Exports), len(selectedStrings))

	top := topFunctionsBySize(d.Functions, 10)
	b.WriteString("Top functions by size:\n")
	for _, fn := range top {
		fmt.Fprintf(&b, "  %s @ 0x%x (%d bytes)\n", fn.Name, fn.Address, fn.SizeBytes)
	}

	b.WriteString("Imports:\n")
	for _, imp := range d.Imports {
		fmt.Fprintf(&b, "  %s!%s\n", imp.Library, imp.Name)
	}

	b.WriteString("Selected strings:\n")
	for _, s := range selectedStrings {
		fmt.Fprintf(&b, "  %q\n", s.Content)
	}
	return b.String()
}

func topFunctionsBySize(fns []models.Function, n int) []models.Function {
	sorted := make([]models.Function, len(fns))
	copy(sorted, fns)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].SizeBytes > sorted[j-1].SizeBytes; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}
