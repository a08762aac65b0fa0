package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bin2nlp/bin2nlp/pkg/apperr"
	"github.com/bin2nlp/bin2nlp/pkg/models"
)

func TestRegistry_Build(t *testing.T) {
	r := NewRegistry(5 * time.Second)

	for _, id := range []string{"openai", "local", "anthropic", "gemini"} {
		p, err := r.Build(models.ProviderParams{ProviderID: id, Model: "test-model"})
		require.NoError(t, err, id)
		assert.NotNil(t, p)
	}

	_, err := r.Build(models.ProviderParams{ProviderID: "unknown-vendor"})
	assert.True(t, apperr.Is(err, apperr.KindValidationError))
}

func TestHTTPClient_PostJSON_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"ok": "yes"})
	}))
	defer srv.Close()

	c := &httpClient{timeout: 5 * time.Second}
	var out map[string]string
	latency, err := c.postJSON(context.Background(), srv.URL, "secret-key", map[string]string{"a": "b"}, &out)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, latency, int64(0))
	assert.Equal(t, "yes", out["ok"])
}

func TestHTTPClient_PostJSON_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("rate limited upstream"))
	}))
	defer srv.Close()

	c := &httpClient{timeout: 5 * time.Second}
	_, err := c.postJSON(context.Background(), srv.URL, "", map[string]string{}, nil)
	assert.True(t, apperr.Is(err, apperr.KindProviderFailure))
}

func TestHTTPClient_PostJSON_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	c := &httpClient{timeout: 5 * time.Millisecond}
	_, err := c.postJSON(context.Background(), srv.URL, "", map[string]string{}, nil)
	assert.True(t, apperr.Is(err, apperr.KindTimeout))
}

func TestOpenAIStyle_TranslateFunction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-test", req.Model)

		resp := chatCompletionResponse{}
		resp.Choices = []struct {
			Message chatCompletionMsg `json:"message"`
		}{{Message: chatCompletionMsg{Role: "assistant", Content: `{"natural_language":"parses a config file","purpose":"config parsing"}`}}}
		resp.Usage.PromptTokens = 42
		resp.Usage.CompletionTokens = 17
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	o := newOpenAIStyle(models.ProviderParams{ProviderID: "openai", Model: "gpt-test", EndpointURL: srv.URL, APIKey: "k"}, &httpClient{timeout: 5 * time.Second})

	var acct Accounting
	fn := models.Function{Name: "parse_config", Address: 0x1000}
	out, err := o.TranslateFunction(context.Background(), fn, nil, nil, models.TranslationDetailStandard, false, &acct)
	require.NoError(t, err)
	assert.Equal(t, "parses a config file", out.NaturalLanguage)
	assert.Equal(t, uint64(0x1000), out.FunctionAddress)
	assert.Equal(t, 42, acct.TokensIn)
	assert.Equal(t, 17, acct.TokensOut)
}

func TestOpenAIStyle_TranslateFunction_MalformedJSONReturnsSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := chatCompletionResponse{}
		resp.Choices = []struct {
			Message chatCompletionMsg `json:"message"`
		}{{Message: chatCompletionMsg{Role: "assistant", Content: "not json at all"}}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	o := newOpenAIStyle(models.ProviderParams{ProviderID: "openai", Model: "m", EndpointURL: srv.URL}, &httpClient{timeout: 5 * time.Second})
	_, err := o.TranslateFunction(context.Background(), models.Function{}, nil, nil, models.TranslationDetailStandard, false, nil)
	assert.ErrorIs(t, err, ErrMalformedJSON)
}

func TestOpenAIStyle_HealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := chatCompletionResponse{}
		resp.Choices = []struct {
			Message chatCompletionMsg `json:"message"`
		}{{Message: chatCompletionMsg{Content: "ok"}}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	o := newOpenAIStyle(models.ProviderParams{ProviderID: "openai", Model: "m", EndpointURL: srv.URL}, &httpClient{timeout: 5 * time.Second})
	res := o.HealthCheck(context.Background())
	assert.True(t, res.Healthy)
}

func TestOpenAIStyle_HealthCheck_Unhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	o := newOpenAIStyle(models.ProviderParams{ProviderID: "openai", Model: "m", EndpointURL: srv.URL}, &httpClient{timeout: 5 * time.Second})
	res := o.HealthCheck(context.Background())
	assert.False(t, res.Healthy)
	assert.NotEmpty(t, res.Error)
}

func TestTopFunctionsBySize(t *testing.T) {
	fns := []models.Function{
		{Name: "a", SizeBytes: 10},
		{Name: "b", SizeBytes: 50},
		{Name: "c", SizeBytes: 30},
	}
	top := topFunctionsBySize(fns, 2)
	require.Len(t, top, 2)
	assert.Equal(t, "b", top[0].Name)
	assert.Equal(t, "c", top[1].Name)
}
