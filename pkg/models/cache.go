package models

import "time"

// CacheEntry deduplicates identical (file_hash, analysis_config) inputs so
// a repeat submission can skip execution entirely (spec §3, §8 S5).
type CacheEntry struct {
	CacheKey     string
	FilePath     string
	ExpiresAt    time.Time
	LastAccessed time.Time
	AccessCount  int64
	Tags         []string
	DataSizeBytes int64
}

// Expired reports whether the entry is stale relative to now.
func (c CacheEntry) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
