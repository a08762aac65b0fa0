// Package storage implements C1: a transactional Postgres structured
// store for jobs/cache/rate-limits/keys/heartbeats/alerts
// (pkg/storage/postgres.go; upload sessions live in pkg/uploadsession) and a
// content-addressed blob filesystem for uploads and results
// (pkg/storage/blob.go). See spec.md §4.1.
package storage

import (
	"context"
	"io"
	"time"

	"github.com/bin2nlp/bin2nlp/pkg/models"
)

// BlobKind distinguishes short-lived uploads from TTL'd results.
type BlobKind string

const (
	BlobKindUpload BlobKind = "upload"
	BlobKindResult BlobKind = "result"
)

// BlobStore is the content-addressed filesystem tier of C1.
type BlobStore interface {
	PutBlob(ctx context.Context, kind BlobKind, r io.Reader) (handle string, size int64, sha256Hex string, err error)
	GetBlob(ctx context.Context, handle string) (io.ReadCloser, error)
	DeleteBlob(ctx context.Context, handle string) error
	StatBlob(ctx context.Context, handle string) (size int64, err error)
	GC(ctx context.Context, uploadTTL, resultTTL time.Duration) (removed int, err error)
}

// Store is the structured tier of C1: jobs, cache, rate limits, API keys,
// heartbeats, and alerts. Circuit-breaker state is held in memory by
// pkg/breaker and is not persisted here.
type Store interface {
	// Jobs
	InsertJob(ctx context.Context, j *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	GetJobByFileHashAndConfig(ctx context.Context, fileHash, cacheKey string) (*models.Job, error)
	DequeueNextJob(ctx context.Context, workerID string) (*models.Job, error)
	UpdateJobProgress(ctx context.Context, id string, percent int, stage string) error
	CompleteJob(ctx context.Context, id, resultReference string, tokensIn, tokensOut int64, costUSD float64) error
	FailJob(ctx context.Context, id, kind, message string) error
	CancelJob(ctx context.Context, id string) (ok bool, wasInProgress bool, err error)
	IsCancelled(ctx context.Context, id string) (bool, error)
	ReclaimStaleJobs(ctx context.Context, staleSince time.Time, maxRetries int) (requeued, failed int, err error)
	ListJobs(ctx context.Context, status models.JobStatus, limit int) ([]*models.Job, error)

	// Cache (spec §4.1 dedup cache; pure read on hit)
	GetCacheEntry(ctx context.Context, cacheKey string, now time.Time) (*models.CacheEntry, error)
	PutCacheEntry(ctx context.Context, e *models.CacheEntry) error
	TouchCacheEntry(ctx context.Context, cacheKey string, now time.Time) error
	GCCacheEntries(ctx context.Context, now time.Time) (int, error)

	// Rate limiting (C5 delegates the transactional body here)
	CheckAndConsume(ctx context.Context, scope models.RateLimitScope, identifier string, windowSeconds, maxRequests int) (allowed bool, err error)
	GCRateLimitBuckets(ctx context.Context, olderThan time.Time) (int, error)

	// API keys
	CreateAPIKey(ctx context.Context, k *models.ApiKey) error
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*models.ApiKey, error)
	ListAPIKeysByUser(ctx context.Context, userID string) ([]*models.ApiKey, error)
	RevokeAPIKey(ctx context.Context, userID, keyID string) error
	TouchAPIKeyLastUsed(ctx context.Context, keyID string, at time.Time) error
	AnyAdminExists(ctx context.Context) (bool, error)

	// Worker heartbeats (crash detection, spec §3/§5)
	UpsertHeartbeat(ctx context.Context, h *models.WorkerHeartbeat) error
	ListHeartbeats(ctx context.Context) ([]*models.WorkerHeartbeat, error)
	DeleteHeartbeat(ctx context.Context, workerID string) error

	// Alerts (spec §11 supplemented feature)
	CreateAlert(ctx context.Context, a *models.Alert) error
	ListAlerts(ctx context.Context, status models.AlertStatus) ([]*models.Alert, error)
	UpdateAlertStatus(ctx context.Context, id string, status models.AlertStatus, at time.Time) error

	// Stats for admin surface
	CountJobsByStatus(ctx context.Context) (map[models.JobStatus]int64, error)

	Close()
}
