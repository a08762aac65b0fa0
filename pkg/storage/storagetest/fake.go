// Package storagetest provides an in-memory storage.Store double for unit
// tests of packages that depend on the store interface (ratelimit, auth,
// alerts, jobengine) without a live Postgres instance.
package storagetest

import (
	"context"
	"sync"
	"time"

	"github.com/bin2nlp/bin2nlp/pkg/apperr"
	"github.com/bin2nlp/bin2nlp/pkg/models"
)

// FakeStore is a minimal, goroutine-safe in-memory stand-in for
// storage.Store. It implements the full interface so it can be passed
// anywhere a storage.Store is expected; unexercised methods return
// zero values rather than panicking.
type FakeStore struct {
	mu sync.Mutex

	Jobs     map[string]*models.Job
	Cache    map[string]*models.CacheEntry
	Buckets  map[string]*models.RateLimitBucket
	Keys     map[string]*models.ApiKey // by KeyHash
	KeysByID map[string]*models.ApiKey // by KeyID
	Alerts   map[string]*models.Alert

	// AllowFunc overrides CheckAndConsume when set, for tests that need to
	// force a specific admit/deny sequence.
	AllowFunc func(scope models.RateLimitScope, identifier string) (bool, error)
}

// New returns an empty FakeStore.
func New() *FakeStore {
	return &FakeStore{
		Jobs:     make(map[string]*models.Job),
		Cache:    make(map[string]*models.CacheEntry),
		Buckets:  make(map[string]*models.RateLimitBucket),
		Keys:     make(map[string]*models.ApiKey),
		KeysByID: make(map[string]*models.ApiKey),
		Alerts:   make(map[string]*models.Alert),
	}
}

func (f *FakeStore) InsertJob(ctx context.Context, j *models.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Jobs[j.ID] = j
	return nil
}

func (f *FakeStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.Jobs[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "job not found")
	}
	return j, nil
}

func (f *FakeStore) GetJobByFileHashAndConfig(ctx context.Context, fileHash, cacheKey string) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.Jobs {
		if j.FileHash == fileHash {
			return j, nil
		}
	}
	return nil, apperr.New(apperr.KindNotFound, "no cached job")
}

func (f *FakeStore) DequeueNextJob(ctx context.Context, workerID string) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.Jobs {
		if j.Status == models.JobStatusPending {
			j.Status = models.JobStatusInProgress
			j.WorkerID = &workerID
			return j, nil
		}
	}
	return nil, nil
}

func (f *FakeStore) UpdateJobProgress(ctx context.Context, id string, percent int, stage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j, ok := f.Jobs[id]; ok {
		j.ProgressPercentage = percent
		j.CurrentStage = stage
	}
	return nil
}

func (f *FakeStore) CompleteJob(ctx context.Context, id, resultReference string, tokensIn, tokensOut int64, costUSD float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.Jobs[id]
	if !ok {
		return apperr.New(apperr.KindNotFound, "job not found")
	}
	j.Status = models.JobStatusCompleted
	j.ResultReference = &resultReference
	j.TokensIn, j.TokensOut, j.EstimatedCostUSD = tokensIn, tokensOut, costUSD
	return nil
}

func (f *FakeStore) FailJob(ctx context.Context, id, kind, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.Jobs[id]
	if !ok {
		return apperr.New(apperr.KindNotFound, "job not found")
	}
	j.Status = models.JobStatusFailed
	j.ErrorKind, j.ErrorMessage = &kind, &message
	return nil
}

func (f *FakeStore) CancelJob(ctx context.Context, id string) (bool, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.Jobs[id]
	if !ok {
		return false, false, apperr.New(apperr.KindNotFound, "job not found")
	}
	if !j.CanCancel() {
		return false, false, nil
	}
	wasInProgress := j.Status == models.JobStatusInProgress
	j.Status = models.JobStatusCancelled
	return true, wasInProgress, nil
}

func (f *FakeStore) IsCancelled(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.Jobs[id]
	return ok && j.Status == models.JobStatusCancelled, nil
}

func (f *FakeStore) ReclaimStaleJobs(ctx context.Context, staleSince time.Time, maxRetries int) (int, int, error) {
	return 0, 0, nil
}

func (f *FakeStore) ListJobs(ctx context.Context, status models.JobStatus, limit int) ([]*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Job
	for _, j := range f.Jobs {
		if status == "" || j.Status == status {
			out = append(out, j)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *FakeStore) GetCacheEntry(ctx context.Context, cacheKey string, now time.Time) (*models.CacheEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.Cache[cacheKey]
	if !ok || e.Expired(now) {
		return nil, nil
	}
	return e, nil
}

func (f *FakeStore) PutCacheEntry(ctx context.Context, e *models.CacheEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Cache[e.CacheKey] = e
	return nil
}

func (f *FakeStore) TouchCacheEntry(ctx context.Context, cacheKey string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.Cache[cacheKey]; ok {
		e.LastAccessed = now
		e.AccessCount++
	}
	return nil
}

func (f *FakeStore) GCCacheEntries(ctx context.Context, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	removed := 0
	for k, e := range f.Cache {
		if e.Expired(now) {
			delete(f.Cache, k)
			removed++
		}
	}
	return removed, nil
}

// CheckAndConsume implements a simple fixed-window counter per
// (scope, identifier), good enough to exercise ratelimit.Limiter's
// admit/deny branching without a real database window function.
func (f *FakeStore) CheckAndConsume(ctx context.Context, scope models.RateLimitScope, identifier string, windowSeconds, maxRequests int) (bool, error) {
	if f.AllowFunc != nil {
		return f.AllowFunc(scope, identifier)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := string(scope) + ":" + identifier
	b, ok := f.Buckets[key]
	now := time.Now()
	if !ok || now.Sub(b.WindowStart) > time.Duration(windowSeconds)*time.Second {
		b = &models.RateLimitBucket{Scope: scope, Identifier: identifier, WindowStart: now, WindowSeconds: windowSeconds, MaxRequests: maxRequests}
		f.Buckets[key] = b
	}
	if b.RequestCount >= maxRequests {
		return false, nil
	}
	b.RequestCount++
	return true, nil
}

func (f *FakeStore) GCRateLimitBuckets(ctx context.Context, olderThan time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	removed := 0
	for k, b := range f.Buckets {
		if b.WindowStart.Before(olderThan) {
			delete(f.Buckets, k)
			removed++
		}
	}
	return removed, nil
}

func (f *FakeStore) CreateAPIKey(ctx context.Context, k *models.ApiKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Keys[k.KeyHash] = k
	f.KeysByID[k.KeyID] = k
	return nil
}

func (f *FakeStore) GetAPIKeyByHash(ctx context.Context, keyHash string) (*models.ApiKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.Keys[keyHash]
	if !ok {
		return nil, apperr.New(apperr.KindUnauthorized, "unknown api key")
	}
	return k, nil
}

func (f *FakeStore) ListAPIKeysByUser(ctx context.Context, userID string) ([]*models.ApiKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.ApiKey
	for _, k := range f.KeysByID {
		if k.UserID == userID {
			out = append(out, k)
		}
	}
	return out, nil
}

func (f *FakeStore) RevokeAPIKey(ctx context.Context, userID, keyID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.KeysByID[keyID]
	if !ok || k.UserID != userID {
		return apperr.New(apperr.KindNotFound, "api key not found")
	}
	k.Status = models.KeyStatusRevoked
	return nil
}

func (f *FakeStore) TouchAPIKeyLastUsed(ctx context.Context, keyID string, at time.Time) error {
	return nil
}

func (f *FakeStore) AnyAdminExists(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range f.KeysByID {
		if k.HasPermission(models.PermissionAdmin) {
			return true, nil
		}
	}
	return false, nil
}

func (f *FakeStore) UpsertHeartbeat(ctx context.Context, h *models.WorkerHeartbeat) error {
	return nil
}

func (f *FakeStore) ListHeartbeats(ctx context.Context) ([]*models.WorkerHeartbeat, error) {
	return nil, nil
}

func (f *FakeStore) DeleteHeartbeat(ctx context.Context, workerID string) error {
	return nil
}

func (f *FakeStore) CreateAlert(ctx context.Context, a *models.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Alerts[a.ID] = a
	return nil
}

func (f *FakeStore) ListAlerts(ctx context.Context, status models.AlertStatus) ([]*models.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Alert
	for _, a := range f.Alerts {
		if status == "" || a.Status == status {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *FakeStore) UpdateAlertStatus(ctx context.Context, id string, status models.AlertStatus, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.Alerts[id]
	if !ok {
		return apperr.New(apperr.KindNotFound, "alert not found")
	}
	a.Status = status
	a.UpdatedAt = at
	if status == models.AlertStatusResolved {
		a.ResolvedAt = &at
	}
	return nil
}

func (f *FakeStore) CountJobsByStatus(ctx context.Context) (map[models.JobStatus]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[models.JobStatus]int64)
	for _, j := range f.Jobs {
		out[j.Status]++
	}
	return out, nil
}

func (f *FakeStore) Close() {}
