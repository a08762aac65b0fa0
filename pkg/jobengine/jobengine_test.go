package jobengine

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/bin2nlp/bin2nlp/pkg/apperr"
	"github.com/bin2nlp/bin2nlp/pkg/breaker"
	"github.com/bin2nlp/bin2nlp/pkg/config"
	"github.com/bin2nlp/bin2nlp/pkg/disassembler"
	"github.com/bin2nlp/bin2nlp/pkg/metrics"
	"github.com/bin2nlp/bin2nlp/pkg/models"
	"github.com/bin2nlp/bin2nlp/pkg/orchestrator"
	"github.com/bin2nlp/bin2nlp/pkg/provider"
	"github.com/bin2nlp/bin2nlp/pkg/storage/storagetest"
)

func testEngine(t *testing.T) (*Engine, *storagetest.FakeStore, *storagetest.FakeBlobStore) {
	t.Helper()
	cfg := config.Default()
	cfg.MaxFileSizeMB = 1
	store := storagetest.New()
	blobs := storagetest.NewBlobStore()
	adapter := disassembler.NewAdapter("/nonexistent-r2", 0)
	breakers := breaker.NewRegistry(cfg.CircuitBreaker)
	orch := orchestrator.NewOrchestrator(breakers, 2)
	providers := provider.NewRegistry(5 * time.Second)
	e := NewEngine(cfg, store, blobs, adapter, providers, orch)
	return e, store, blobs
}

func TestEngine_Submit_HappyPath(t *testing.T) {
	e, store, blobs := testEngine(t)
	cfg := models.AnalysisConfig{AnalysisDepth: models.AnalysisDepthBasic}

	job, err := e.Submit(context.Background(), bytes.NewReader([]byte("MZ payload")), "sample.exe", cfg, "user1", "corr-1", models.PriorityNormal)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.NotEmpty(t, job.FileHash)
	assert.NotEmpty(t, job.FileReference)

	stored, ok := store.Jobs[job.ID]
	require.True(t, ok)
	assert.Equal(t, job.ID, stored.ID)

	_, ok = blobs.Objects[job.FileReference]
	assert.True(t, ok, "upload blob must be persisted")
}

func TestEngine_Submit_RejectsOversizedFile(t *testing.T) {
	e, _, _ := testEngine(t)
	cfg := models.AnalysisConfig{AnalysisDepth: models.AnalysisDepthBasic}
	big := bytes.Repeat([]byte{0x90}, 2<<20) // 2MiB against a 1MiB cap

	_, err := e.Submit(context.Background(), bytes.NewReader(big), "big.bin", cfg, "user1", "corr-1", models.PriorityNormal)
	assert.True(t, apperr.Is(err, apperr.KindPayloadTooLarge))
}

func TestEngine_Submit_RejectsEmptyFile(t *testing.T) {
	e, _, _ := testEngine(t)
	cfg := models.AnalysisConfig{AnalysisDepth: models.AnalysisDepthBasic}

	_, err := e.Submit(context.Background(), bytes.NewReader(nil), "empty.bin", cfg, "user1", "corr-1", models.PriorityNormal)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInvalidRequest))
}

func TestEngine_Submit_AppliesProviderDefaultsFromConfig(t *testing.T) {
	e, store, _ := testEngine(t)
	e.cfg.ProviderDefaults = map[string]config.ProviderDefaults{
		"openai": {EndpointURL: "https://configured.example/v1/chat/completions", Model: "configured-model"},
	}
	cfg := models.AnalysisConfig{
		AnalysisDepth: models.AnalysisDepthBasic,
		Provider:      models.ProviderParams{ProviderID: "openai"},
	}

	job, err := e.Submit(context.Background(), bytes.NewReader([]byte("x")), "f.bin", cfg, "user1", "corr-1", models.PriorityNormal)
	require.NoError(t, err)
	assert.Equal(t, "https://configured.example/v1/chat/completions", job.Config.Provider.EndpointURL)
	assert.Equal(t, "configured-model", job.Config.Provider.Model)

	stored := store.Jobs[job.ID]
	assert.Equal(t, "configured-model", stored.Config.Provider.Model, "the persisted job must carry the resolved defaults, not the raw request")
}

func TestEngine_Submit_ExplicitProviderFieldsWinOverDefaults(t *testing.T) {
	e, _, _ := testEngine(t)
	e.cfg.ProviderDefaults = map[string]config.ProviderDefaults{
		"openai": {EndpointURL: "https://configured.example/v1/chat/completions", Model: "configured-model"},
	}
	cfg := models.AnalysisConfig{
		AnalysisDepth: models.AnalysisDepthBasic,
		Provider:      models.ProviderParams{ProviderID: "openai", Model: "explicit-model"},
	}

	job, err := e.Submit(context.Background(), bytes.NewReader([]byte("x")), "f.bin", cfg, "user1", "corr-1", models.PriorityNormal)
	require.NoError(t, err)
	assert.Equal(t, "explicit-model", job.Config.Provider.Model)
}

func TestEngine_Submit_DefaultsInvalidPriority(t *testing.T) {
	e, _, _ := testEngine(t)
	cfg := models.AnalysisConfig{AnalysisDepth: models.AnalysisDepthBasic}

	job, err := e.Submit(context.Background(), bytes.NewReader([]byte("x")), "f.bin", cfg, "user1", "", models.Priority("bogus"))
	require.NoError(t, err)
	assert.Equal(t, models.PriorityNormal, job.Priority)
}

func TestEngine_Submit_CacheHitMaterializesCompletedJob(t *testing.T) {
	e, store, _ := testEngine(t)
	cfg := models.AnalysisConfig{AnalysisDepth: models.AnalysisDepthBasic}
	content := []byte("cached-binary-content")

	h := sha256Hex(content)
	cacheKey := canonicalCacheKey(h, cfg)
	require.NoError(t, store.PutCacheEntry(context.Background(), &models.CacheEntry{
		CacheKey:  cacheKey,
		FilePath:  "result/deadbeef",
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}))

	job, err := e.Submit(context.Background(), bytes.NewReader(content), "dup.bin", cfg, "user1", "corr-2", models.PriorityNormal)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 100, job.ProgressPercentage)
	require.NotNil(t, job.ResultReference)
	assert.Equal(t, "result/deadbeef", *job.ResultReference)
}

func TestEngine_Cancel_PendingJobCancelledImmediately(t *testing.T) {
	e, store, _ := testEngine(t)
	job := &models.Job{ID: "job-1", Status: models.JobStatusPending}
	store.Jobs[job.ID] = job

	require.NoError(t, e.Cancel(context.Background(), job.ID))
	assert.Equal(t, models.JobStatusCancelled, store.Jobs[job.ID].Status)
}

func TestEngine_Cancel_InProgressJobInvokesContextCancel(t *testing.T) {
	e, store, _ := testEngine(t)
	job := &models.Job{ID: "job-2", Status: models.JobStatusInProgress}
	store.Jobs[job.ID] = job

	var cancelled bool
	_, cancel := context.WithCancel(context.Background())
	e.cancelMu.Lock()
	e.cancels[job.ID] = func() { cancelled = true; cancel() }
	e.cancelMu.Unlock()

	require.NoError(t, e.Cancel(context.Background(), job.ID))
	assert.True(t, cancelled, "in-progress cancellation must invoke the stored context cancel func")
}

func TestCanonicalCacheKey_StableForSameInputs(t *testing.T) {
	cfg := models.AnalysisConfig{AnalysisDepth: models.AnalysisDepthStandard, TranslationDetail: models.TranslationDetailStandard}
	a := canonicalCacheKey("hash1", cfg)
	b := canonicalCacheKey("hash1", cfg)
	assert.Equal(t, a, b)

	c := canonicalCacheKey("hash2", cfg)
	assert.NotEqual(t, a, c)
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// fakeRadare2Script and the openai-style httptest server below drive a full
// Submit -> execute pass end to end, the same shell-out-faking technique
// used in pkg/disassembler's own tests.
func fakeRadare2Script(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	script := filepath.Join(dir, "fake-r2.sh")
	body := `#!/bin/sh
cat <<'EOF'
{"core":{"format":"elf","type":"exe","bits":64,"arch":"x86"},"bin":{"baddr":"0"}}
EOF
`
	require.NoError(t, os.WriteFile(script, []byte(body), 0o700))
	return script
}

func TestEngine_TryClaimAndExecute_BasicDepthCompletesJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"text\":\"binary summary\"}"}}],"usage":{"prompt_tokens":1,"completion_tokens":1}}`))
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.WorkerCount = 1
	store := storagetest.New()
	blobs := storagetest.NewBlobStore()
	adapter := disassembler.NewAdapter(fakeRadare2Script(t), 0)
	breakers := breaker.NewRegistry(cfg.CircuitBreaker)
	orch := orchestrator.NewOrchestrator(breakers, 2)
	providers := provider.NewRegistry(5 * time.Second)
	e := NewEngine(cfg, store, blobs, adapter, providers, orch)

	job, err := e.Submit(context.Background(), bytes.NewReader([]byte("\x7fELF")), "sample.elf", models.AnalysisConfig{
		AnalysisDepth:     models.AnalysisDepthBasic,
		TranslationDetail: models.TranslationDetailStandard,
		Provider:          models.ProviderParams{ProviderID: "openai", Model: "test", EndpointURL: srv.URL},
	}, "user1", "corr-3", models.PriorityNormal)
	require.NoError(t, err)

	e.tryClaimAndExecute("worker-0")

	completed := store.Jobs[job.ID]
	require.Equal(t, models.JobStatusCompleted, completed.Status)
	require.NotNil(t, completed.ResultReference)

	rc, err := blobs.GetBlob(context.Background(), *completed.ResultReference)
	require.NoError(t, err)
	defer rc.Close()
	var doc models.ResultDocument
	require.NoError(t, json.NewDecoder(rc).Decode(&doc))
	assert.Equal(t, models.FormatELF, doc.Disassembly.FileInfo.Format)

	_, uploadStillPresent := blobs.Objects[job.FileReference]
	assert.False(t, uploadStillPresent, "upload blob must be deleted after a successful run")
}

// fakeRadare2AllEmptyScript branches on the r2 "-c <command>" argument so a
// standard-depth Analyze reaches the per-function listing loop and finds
// every listing empty, exercising the disassembler's tool_failure path and
// the DisassemblyFailuresTotal counter it feeds.
func fakeRadare2AllEmptyScript(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	script := filepath.Join(dir, "fake-r2-empty.sh")
	body := `#!/bin/sh
case "$3" in
  ij)
    cat <<'EOF'
{"core":{"format":"elf","type":"exe","bits":64,"arch":"x86"},"bin":{"baddr":"0"}}
EOF
    ;;
  aflj)
    cat <<'EOF'
[{"name":"fcn.sample","offset":4096,"size":16,"type":"fcn"}]
EOF
    ;;
  aaa) ;;
  *pdfj*)
    echo '{"ops":[]}'
    ;;
  *)
    echo '[]'
    ;;
esac
`
	require.NoError(t, os.WriteFile(script, []byte(body), 0o700))
	return script
}

func TestEngine_TryClaimAndExecute_AllEmptyListingsFailsJobAndIncrementsMetric(t *testing.T) {
	cfg := config.Default()
	store := storagetest.New()
	blobs := storagetest.NewBlobStore()
	adapter := disassembler.NewAdapter(fakeRadare2AllEmptyScript(t), 0)
	breakers := breaker.NewRegistry(cfg.CircuitBreaker)
	orch := orchestrator.NewOrchestrator(breakers, 2)
	providers := provider.NewRegistry(5 * time.Second)
	e := NewEngine(cfg, store, blobs, adapter, providers, orch)

	before := testutil.ToFloat64(metrics.DisassemblyFailuresTotal)

	job, err := e.Submit(context.Background(), bytes.NewReader([]byte("\x7fELF")), "sample.elf", models.AnalysisConfig{
		AnalysisDepth:     models.AnalysisDepthStandard,
		TranslationDetail: models.TranslationDetailStandard,
		Provider:          models.ProviderParams{ProviderID: "openai", Model: "test"},
	}, "user1", "corr-5", models.PriorityNormal)
	require.NoError(t, err)

	e.tryClaimAndExecute("worker-0")

	failed := store.Jobs[job.ID]
	require.Equal(t, models.JobStatusFailed, failed.Status)
	after := testutil.ToFloat64(metrics.DisassemblyFailuresTotal)
	assert.Equal(t, before+1, after, "an all-empty listing must increment DisassemblyFailuresTotal")
}

func TestEngine_TryClaimAndExecute_BasicDepthTranslatesSummaryViaProvider(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"text\":\"binary summary\"}"}}],"usage":{"prompt_tokens":3,"completion_tokens":4}}`))
	}))
	defer srv.Close()

	cfg := config.Default()
	store := storagetest.New()
	blobs := storagetest.NewBlobStore()
	adapter := disassembler.NewAdapter(fakeRadare2Script(t), 0)
	breakers := breaker.NewRegistry(cfg.CircuitBreaker)
	orch := orchestrator.NewOrchestrator(breakers, 2)
	providers := provider.NewRegistry(5 * time.Second)
	e := NewEngine(cfg, store, blobs, adapter, providers, orch)

	job, err := e.Submit(context.Background(), bytes.NewReader([]byte("\x7fELF")), "sample.elf", models.AnalysisConfig{
		AnalysisDepth:     models.AnalysisDepthBasic,
		TranslationDetail: models.TranslationDetailStandard,
		Provider:          models.ProviderParams{ProviderID: "openai", Model: "test", EndpointURL: srv.URL},
	}, "user1", "corr-4", models.PriorityNormal)
	require.NoError(t, err)

	e.tryClaimAndExecute("worker-0")

	completed := store.Jobs[job.ID]
	require.Equal(t, models.JobStatusCompleted, completed.Status)
	assert.GreaterOrEqual(t, calls, 1, "summary translation must have hit the fake provider")
}
