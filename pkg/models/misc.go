package models

import "time"

// BreakerState is one state of the circuit breaker state machine (C4).
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// CircuitBreakerSnapshot is a read-only view of a breaker's current state,
// returned by the admin surface.
type CircuitBreakerSnapshot struct {
	ProviderKey           string
	State                 BreakerState
	FailureCount          uint32
	SuccessCountHalfOpen  uint32
	OpenedAt              *time.Time
}

// UploadSession is short-lived upload metadata, TTL-backed (spec §3).
type UploadSession struct {
	SessionID string
	JobID     string
	CreatedAt time.Time
	ExpiresAt time.Time
	Metadata  map[string]string
}

// WorkerHeartbeat records a worker's last-known liveness and assignment.
type WorkerHeartbeat struct {
	WorkerID      string
	LastHeartbeat time.Time
	CurrentJobID  *string
}

// AlertSeverity classifies an Alert's urgency.
type AlertSeverity string

const (
	AlertSeverityInfo     AlertSeverity = "info"
	AlertSeverityWarning  AlertSeverity = "warning"
	AlertSeverityCritical AlertSeverity = "critical"
)

// AlertStatus is the lifecycle of an Alert.
type AlertStatus string

const (
	AlertStatusFiring       AlertStatus = "firing"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
)

// Alert is a thin wrapper around a threshold crossing (spec §9 open
// question; see pkg/alerts).
type Alert struct {
	ID         string
	Rule       string
	Severity   AlertSeverity
	Status     AlertStatus
	Message    string
	Value      float64
	Threshold  float64
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ResolvedAt *time.Time
}
