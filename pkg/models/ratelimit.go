package models

import "time"

// RateLimitScope is the dimension a quota is enforced against.
type RateLimitScope string

const (
	ScopeGlobal RateLimitScope = "global"
	ScopeAPIKey RateLimitScope = "api_key"
	ScopeIP     RateLimitScope = "ip"
)

// RateLimitBucket is one sliding-window counter row (spec §3, §4.5).
type RateLimitBucket struct {
	Scope         RateLimitScope
	Identifier    string
	WindowStart   time.Time
	RequestCount  int
	WindowSeconds int
	MaxRequests   int
}

// Tier is an API key's rate-limit and feature class.
type Tier string

const (
	TierBasic      Tier = "basic"
	TierStandard   Tier = "standard"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

// TierLimit is the (window, max) pair configured for a tier.
type TierLimit struct {
	WindowSeconds int
	MaxRequests   int
}
