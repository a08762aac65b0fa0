// Package jobengine implements C7: job submission, priority leasing,
// execution, progress reporting, cancellation, and crash recovery
// (spec.md §4.7). The worker pool's ticker-driven heartbeat/reclaim loop
// follows the teacher's health-monitor polling idiom
// (pkg/worker/health_monitor.go).
package jobengine

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bin2nlp/bin2nlp/pkg/apperr"
	"github.com/bin2nlp/bin2nlp/pkg/config"
	"github.com/bin2nlp/bin2nlp/pkg/disassembler"
	"github.com/bin2nlp/bin2nlp/pkg/log"
	"github.com/bin2nlp/bin2nlp/pkg/metrics"
	"github.com/bin2nlp/bin2nlp/pkg/models"
	"github.com/bin2nlp/bin2nlp/pkg/orchestrator"
	"github.com/bin2nlp/bin2nlp/pkg/provider"
	"github.com/bin2nlp/bin2nlp/pkg/storage"
)

// Engine owns the worker pool and background maintenance loops.
type Engine struct {
	cfg          *config.Config
	store        storage.Store
	blobs        storage.BlobStore
	disassembler *disassembler.Adapter
	providers    *provider.Registry
	orchestrator *orchestrator.Orchestrator

	stopCh chan struct{}
	wg     sync.WaitGroup

	cancelMu sync.Mutex
	cancels  map[string]context.CancelFunc
}

// NewEngine wires an Engine from its collaborators.
func NewEngine(cfg *config.Config, store storage.Store, blobs storage.BlobStore, adapter *disassembler.Adapter, providers *provider.Registry, orch *orchestrator.Orchestrator) *Engine {
	return &Engine{
		cfg:          cfg,
		store:        store,
		blobs:        blobs,
		disassembler: adapter,
		providers:    providers,
		orchestrator: orch,
		stopCh:       make(chan struct{}),
		cancels:      make(map[string]context.CancelFunc),
	}
}

// Start launches cfg.WorkerCount worker loops plus the stale-lease
// reclaimer. It returns immediately; call Stop to shut everything down.
func (e *Engine) Start() {
	for i := 0; i < e.cfg.WorkerCount; i++ {
		workerID := fmt.Sprintf("worker-%d", i)
		e.wg.Add(1)
		go e.workerLoop(workerID)
	}
	e.wg.Add(1)
	go e.reclaimLoop()
}

// Stop signals every worker and background loop to exit and waits for them.
func (e *Engine) Stop() {
	close(e.stopCh)
	e.wg.Wait()
}

// Submit implements spec §4.7 step 1-4: validate, hash, dedup via cache,
// else insert a pending Job row.
func (e *Engine) Submit(ctx context.Context, file io.Reader, filename string, cfg models.AnalysisConfig, submittedBy, correlationID string, priority models.Priority) (*models.Job, error) {
	if !models.ValidPriority(priority) {
		priority = models.PriorityNormal
	}
	// Apply providers.<id>.defaults before the config is persisted or
	// cache-keyed, so they reach the real execution path instead of only
	// the provider listing/health-check handlers (spec §4.3).
	cfg.Provider = e.cfg.ResolveProvider(cfg.Provider)

	var buf bytes.Buffer
	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(&buf, h), file)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidRequest, "read upload", err)
	}
	if size == 0 {
		return nil, apperr.New(apperr.KindInvalidRequest, "uploaded file is empty")
	}
	if size > e.cfg.MaxFileSizeBytes() {
		return nil, apperr.New(apperr.KindPayloadTooLarge, "file exceeds max_file_size_mb")
	}
	fileHash := hex.EncodeToString(h.Sum(nil))

	cacheKey := canonicalCacheKey(fileHash, cfg)
	now := time.Now().UTC()
	if entry, err := e.store.GetCacheEntry(ctx, cacheKey, now); err == nil && entry != nil {
		job, err := e.createCompletedFromCache(ctx, entry, fileHash, filename, cfg, submittedBy, correlationID)
		if err == nil {
			_ = e.store.TouchCacheEntry(ctx, cacheKey, now)
			return job, nil
		}
		log.WithComponent("jobengine").Warn().Err(err).Msg("cache hit could not be materialized, falling through to fresh execution")
	}

	handle, _, _, err := e.blobs.PutBlob(ctx, storage.BlobKindUpload, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "store upload blob", err)
	}

	job := &models.Job{
		ID:            uuid.NewString(),
		Status:        models.JobStatusPending,
		Priority:      priority,
		FileHash:      fileHash,
		Filename:      filename,
		FileReference: handle,
		Config:        cfg,
		SubmittedBy:   submittedBy,
		CorrelationID: correlationID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.store.InsertJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (e *Engine) createCompletedFromCache(ctx context.Context, entry *models.CacheEntry, fileHash, filename string, cfg models.AnalysisConfig, submittedBy, correlationID string) (*models.Job, error) {
	now := time.Now().UTC()
	resultRef := entry.FilePath
	job := &models.Job{
		ID:                 uuid.NewString(),
		Status:             models.JobStatusCompleted,
		Priority:           models.PriorityNormal,
		FileHash:           fileHash,
		Filename:           filename,
		FileReference:      "",
		Config:             cfg,
		ResultReference:    &resultRef,
		ProgressPercentage: 100,
		CurrentStage:       "completed",
		SubmittedBy:        submittedBy,
		CorrelationID:      correlationID,
		CreatedAt:          now,
		UpdatedAt:          now,
		CompletedAt:        &now,
		StartedAt:          &now,
	}
	if err := e.store.InsertJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// canonicalCacheKey hashes (file_hash, canonical(config)) per spec §3. JSON
// field order from struct declaration order gives stable canonicalization.
func canonicalCacheKey(fileHash string, cfg models.AnalysisConfig) string {
	data, _ := json.Marshal(cfg)
	h := sha256.New()
	h.Write([]byte(fileHash))
	h.Write([]byte{0})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Cancel implements spec §4.7's cancellation rule.
func (e *Engine) Cancel(ctx context.Context, jobID string) error {
	ok, wasInProgress, err := e.store.CancelJob(ctx, jobID)
	if err != nil {
		return err
	}
	if ok && wasInProgress {
		e.cancelMu.Lock()
		if cancel, found := e.cancels[jobID]; found {
			cancel()
		}
		e.cancelMu.Unlock()
	}
	return nil
}

func (e *Engine) workerLoop(workerID string) {
	defer e.wg.Done()
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	heartbeat := time.NewTicker(e.cfg.HeartbeatInterval())
	defer heartbeat.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-heartbeat.C:
			_ = e.store.UpsertHeartbeat(context.Background(), &models.WorkerHeartbeat{WorkerID: workerID, LastHeartbeat: time.Now().UTC()})
		case <-ticker.C:
			e.tryClaimAndExecute(workerID)
		}
	}
}

func (e *Engine) tryClaimAndExecute(workerID string) {
	ctx := context.Background()
	job, err := e.store.DequeueNextJob(ctx, workerID)
	if err != nil {
		log.WithWorkerID(workerID).Error().Err(err).Msg("dequeue failed")
		return
	}
	if job == nil {
		return
	}

	jobCtx, cancel := context.WithTimeout(context.Background(), time.Duration(job.Config.TimeoutSeconds)*time.Second)
	if job.Config.TimeoutSeconds <= 0 {
		cancel()
		jobCtx, cancel = context.WithTimeout(context.Background(), e.cfg.AnalysisTimeout())
	}
	e.cancelMu.Lock()
	e.cancels[job.ID] = cancel
	e.cancelMu.Unlock()
	defer func() {
		cancel()
		e.cancelMu.Lock()
		delete(e.cancels, job.ID)
		e.cancelMu.Unlock()
	}()

	e.execute(jobCtx, workerID, job)
}

// execute runs the per-job pipeline described in spec §4.7's execution
// loop, steps 1-7.
func (e *Engine) execute(ctx context.Context, workerID string, job *models.Job) {
	logger := log.WithJobID(job.ID)

	isCancelled := func() bool {
		cancelled, err := e.store.IsCancelled(ctx, job.ID)
		return err == nil && cancelled
	}

	rc, err := e.blobs.GetBlob(ctx, job.FileReference)
	if err != nil {
		e.fail(ctx, job.ID, apperr.KindInternal, "open upload blob: "+err.Error())
		return
	}
	tmpPath, cleanup, err := spoolToTempFile(rc)
	rc.Close()
	defer cleanup()
	if err != nil {
		e.fail(ctx, job.ID, apperr.KindInternal, "spool upload blob: "+err.Error())
		return
	}

	_ = e.store.UpdateJobProgress(ctx, job.ID, 0, "disassembling")
	daTimer := metrics.NewTimer()
	disassembly, daErr := e.disassembler.Analyze(ctx, tmpPath, job.Config.AnalysisDepth, isCancelled)
	daTimer.ObserveDuration(metrics.DisassemblyDuration)
	if daErr != nil {
		metrics.DisassemblyFailuresTotal.Inc()
		e.fail(ctx, job.ID, apperr.As(daErr), daErr.Error())
		return
	}
	_ = e.store.UpdateJobProgress(ctx, job.ID, 60, "translating")

	if isCancelled() {
		e.finalizeCancelled(ctx, job.ID)
		return
	}

	resolvedProvider := job.Config.Provider
	p, err := e.providers.Build(resolvedProvider)
	if err != nil {
		e.fail(ctx, job.ID, apperr.As(err), err.Error())
		return
	}

	onProgress := func(done, total int) {
		if total == 0 {
			return
		}
		pct := 60 + int(float64(done)/float64(total)*35)
		_ = e.store.UpdateJobProgress(ctx, job.ID, pct, "translating")
	}

	trTimer := metrics.NewTimer()
	translated, trErr := e.orchestrator.Translate(ctx, disassembly, p, resolvedProvider.Key(), job.Config.TranslationDetail, isCancelled, onProgress)
	trTimer.ObserveDurationVec(metrics.TranslationCallDuration, resolvedProvider.ProviderID)
	if trErr != nil && apperr.Is(trErr, apperr.KindCancelled) {
		e.finalizeCancelled(ctx, job.ID)
		return
	}

	doc := models.ResultDocument{
		Metadata: models.ResultMetadata{
			JobID:       job.ID,
			CreatedAt:   job.CreatedAt.Format(time.RFC3339),
			CompletedAt: time.Now().UTC().Format(time.RFC3339),
		},
		Disassembly: *disassembly,
	}
	if translated != nil {
		doc.Translations = *translated
		doc.Accounting = translated.Accounting
		doc.Accounting.Model = resolvedProvider.Model
		if costCap := p.Capabilities().CostPer1kTokens; costCap != nil {
			doc.Accounting.EstimatedCost = float64(doc.Accounting.TotalTokensIn+doc.Accounting.TotalTokensOut) / 1000 * (*costCap)
		}
	}

	data, _ := json.Marshal(doc)
	handle, _, _, putErr := e.blobs.PutBlob(ctx, storage.BlobKindResult, bytes.NewReader(data))
	if putErr != nil {
		e.fail(ctx, job.ID, apperr.KindInternal, "store result blob: "+putErr.Error())
		return
	}

	if trErr != nil {
		// Partial-failure floor not met: still write the result for
		// diagnosis, but the job itself is marked failed (spec §7).
		_ = e.store.FailJob(ctx, job.ID, string(apperr.As(trErr)), trErr.Error())
		logger.Warn().Err(trErr).Msg("job failed translation floor, result retained for diagnosis")
		return
	}

	if err := e.store.CompleteJob(ctx, job.ID, handle, doc.Accounting.TotalTokensIn, doc.Accounting.TotalTokensOut, doc.Accounting.EstimatedCost); err != nil {
		logger.Error().Err(err).Msg("failed to mark job completed after successful translation")
		return
	}

	cacheKey := canonicalCacheKey(job.FileHash, job.Config)
	_ = e.store.PutCacheEntry(ctx, &models.CacheEntry{
		CacheKey:     cacheKey,
		FilePath:     handle,
		ExpiresAt:    time.Now().UTC().Add(time.Duration(e.cfg.ResultTTLHours) * time.Hour),
		LastAccessed: time.Now().UTC(),
		DataSizeBytes: int64(len(data)),
	})

	_ = e.blobs.DeleteBlob(ctx, job.FileReference)
}

func (e *Engine) fail(ctx context.Context, jobID string, kind apperr.Kind, message string) {
	_ = e.store.FailJob(ctx, jobID, string(kind), message)
	log.WithJobID(jobID).Error().Str("kind", string(kind)).Msg(message)
}

func (e *Engine) finalizeCancelled(ctx context.Context, jobID string) {
	job, err := e.store.GetJob(ctx, jobID)
	if err == nil && job.FileReference != "" {
		_ = e.blobs.DeleteBlob(ctx, job.FileReference)
	}
	log.WithJobID(jobID).Info().Msg("job execution stopped at checkpoint for cancellation")
}

func (e *Engine) reclaimLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.HeartbeatInterval())
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			staleSince := time.Now().UTC().Add(-e.cfg.StaleLeaseDuration())
			requeued, failed, err := e.store.ReclaimStaleJobs(context.Background(), staleSince, e.cfg.MaxRetries)
			if err != nil {
				log.WithComponent("jobengine").Error().Err(err).Msg("reclaim pass failed")
				continue
			}
			if requeued+failed > 0 {
				log.WithComponent("jobengine").Info().Int("requeued", requeued).Int("failed", failed).Msg("stale lease reclaim")
			}
		}
	}
}
