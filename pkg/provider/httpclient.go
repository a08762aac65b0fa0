package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bin2nlp/bin2nlp/pkg/apperr"
)

// httpClient is the shared transport every wire-protocol family's client
// wraps; it never logs the bearer credential (spec §6 "never logged").
type httpClient struct {
	timeout time.Duration
}

func (c *httpClient) postJSON(ctx context.Context, url, apiKey string, body interface{}, out interface{}) (latencyMS int64, err error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindInternal, "marshal provider request", err)
	}

	reqCtx := ctx
	var cancel context.CancelFunc
	if c.timeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, apperr.Wrap(apperr.KindInternal, "build provider request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	start := time.Now()
	resp, err := http.DefaultClient.Do(req)
	latencyMS = time.Since(start).Milliseconds()
	if err != nil {
		if reqCtx.Err() != nil {
			return latencyMS, apperr.New(apperr.KindTimeout, "provider call timed out")
		}
		return latencyMS, apperr.Wrap(apperr.KindProviderFailure, "provider request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return latencyMS, apperr.Wrap(apperr.KindProviderFailure, "read provider response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return latencyMS, apperr.New(apperr.KindProviderFailure, fmt.Sprintf("provider returned %d: %s", resp.StatusCode, truncate(string(data), 300)))
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return latencyMS, apperr.Wrap(apperr.KindProviderFailure, "parse provider response", err)
		}
	}
	return latencyMS, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
