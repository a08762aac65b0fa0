// Package ratelimit implements C5: sliding-window request admission keyed
// by scope and identifier, delegating the transactional check-and-consume
// body to the structured store (spec.md §4.5).
package ratelimit

import (
	"context"

	"github.com/bin2nlp/bin2nlp/pkg/config"
	"github.com/bin2nlp/bin2nlp/pkg/models"
	"github.com/bin2nlp/bin2nlp/pkg/storage"
)

// Limiter resolves tier/scope configuration and asks the store to perform
// the atomic prune-sum-upsert described in spec.md §4.5.
type Limiter struct {
	store   storage.Store
	cfg     *config.Config
}

// NewLimiter builds a Limiter backed by store and cfg's per-tier limits.
func NewLimiter(store storage.Store, cfg *config.Config) *Limiter {
	return &Limiter{store: store, cfg: cfg}
}

// AllowAPIKey checks the per-API-key HTTP quota for tier.
func (l *Limiter) AllowAPIKey(ctx context.Context, keyID string, tier models.Tier) (bool, error) {
	limit, ok := l.cfg.RateLimits[tier]
	if !ok {
		limit = l.cfg.RateLimits[models.TierBasic]
	}
	return l.store.CheckAndConsume(ctx, models.ScopeAPIKey, keyID, limit.WindowSeconds, limit.MaxRequests)
}

// AllowIP checks the unauthenticated per-IP quota, always basic tier.
func (l *Limiter) AllowIP(ctx context.Context, ip string) (bool, error) {
	limit := l.cfg.RateLimits[models.TierBasic]
	return l.store.CheckAndConsume(ctx, models.ScopeIP, ip, limit.WindowSeconds, limit.MaxRequests)
}

// AllowGlobal checks the aggregate-abuse ceiling, independent of caller
// identity (spec §4.5 "Global scope protects against aggregate abuse").
func (l *Limiter) AllowGlobal(ctx context.Context, windowSeconds, maxRequests int) (bool, error) {
	return l.store.CheckAndConsume(ctx, models.ScopeGlobal, "global", windowSeconds, maxRequests)
}

// AllowProviderUsage checks a separate LLM-usage counter tracked alongside
// HTTP rate limits, scoped per API key and provider key (spec §4.5
// "separate per-scope counters").
func (l *Limiter) AllowProviderUsage(ctx context.Context, keyID, providerKey string, windowSeconds, maxRequests int) (bool, error) {
	identifier := keyID + ":" + providerKey
	return l.store.CheckAndConsume(ctx, models.ScopeAPIKey, identifier, windowSeconds, maxRequests)
}
