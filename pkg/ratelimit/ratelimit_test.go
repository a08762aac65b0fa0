package ratelimit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bin2nlp/bin2nlp/pkg/config"
	"github.com/bin2nlp/bin2nlp/pkg/models"
	"github.com/bin2nlp/bin2nlp/pkg/storage/storagetest"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.RateLimits = map[models.Tier]models.TierLimit{
		models.TierBasic:   {WindowSeconds: 60, MaxRequests: 2},
		models.TierPremium: {WindowSeconds: 60, MaxRequests: 100},
	}
	return cfg
}

func TestLimiter_AllowAPIKey_WithinQuota(t *testing.T) {
	l := NewLimiter(storagetest.New(), testConfig())

	allowed, err := l.AllowAPIKey(context.Background(), "key-1", models.TierBasic)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestLimiter_AllowAPIKey_ExceedsQuota(t *testing.T) {
	l := NewLimiter(storagetest.New(), testConfig())

	for i := 0; i < 2; i++ {
		allowed, err := l.AllowAPIKey(context.Background(), "key-1", models.TierBasic)
		require.NoError(t, err)
		require.True(t, allowed)
	}

	allowed, err := l.AllowAPIKey(context.Background(), "key-1", models.TierBasic)
	require.NoError(t, err)
	assert.False(t, allowed, "third request within the window must be rejected")
}

func TestLimiter_AllowAPIKey_UnknownTierFallsBackToBasic(t *testing.T) {
	l := NewLimiter(storagetest.New(), testConfig())

	for i := 0; i < 2; i++ {
		allowed, err := l.AllowAPIKey(context.Background(), "key-1", models.Tier("unknown"))
		require.NoError(t, err)
		require.True(t, allowed)
	}
	allowed, _ := l.AllowAPIKey(context.Background(), "key-1", models.Tier("unknown"))
	assert.False(t, allowed)
}

func TestLimiter_AllowIP_ScopedSeparatelyFromAPIKey(t *testing.T) {
	store := storagetest.New()
	l := NewLimiter(store, testConfig())

	for i := 0; i < 2; i++ {
		allowed, err := l.AllowIP(context.Background(), "203.0.113.5")
		require.NoError(t, err)
		require.True(t, allowed)
	}
	allowed, _ := l.AllowIP(context.Background(), "203.0.113.5")
	assert.False(t, allowed)

	// A different IP has its own bucket.
	allowed, err := l.AllowIP(context.Background(), "203.0.113.6")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestLimiter_AllowProviderUsage_ScopedPerKeyAndProvider(t *testing.T) {
	l := NewLimiter(storagetest.New(), testConfig())

	allowed, err := l.AllowProviderUsage(context.Background(), "key-1", "openai|gpt-4", 60, 1)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = l.AllowProviderUsage(context.Background(), "key-1", "openai|gpt-4", 60, 1)
	require.NoError(t, err)
	assert.False(t, allowed)

	// Different provider key under the same api key has a distinct bucket.
	allowed, err = l.AllowProviderUsage(context.Background(), "key-1", "anthropic|claude", 60, 1)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestLimiter_AllowGlobal(t *testing.T) {
	l := NewLimiter(storagetest.New(), testConfig())

	allowed, err := l.AllowGlobal(context.Background(), 60, 1)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = l.AllowGlobal(context.Background(), 60, 1)
	require.NoError(t, err)
	assert.False(t, allowed)
}
