// Package alerts implements the supplemented admin alert thin-wrapper:
// spec.md §9 leaves alert-generation rules unspecified beyond "treat
// alerts as a thin wrapper around counters crossing thresholds." Checker
// re-evaluates breaker state and job failure rate against configured
// thresholds on each poll and materializes Alert rows.
package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bin2nlp/bin2nlp/pkg/breaker"
	"github.com/bin2nlp/bin2nlp/pkg/log"
	"github.com/bin2nlp/bin2nlp/pkg/models"
	"github.com/bin2nlp/bin2nlp/pkg/storage"
)

// Thresholds configures when Checker fires an alert.
type Thresholds struct {
	// JobFailureRate is the fraction (0-1) of terminal jobs in the sample
	// that must be failed before a warning fires.
	JobFailureRate float64
	// MinSampleSize is the minimum number of terminal jobs considered
	// before JobFailureRate is evaluated, avoiding noise on a cold start.
	MinSampleSize int64
}

// DefaultThresholds mirrors the values documented in the admin dashboard.
func DefaultThresholds() Thresholds {
	return Thresholds{JobFailureRate: 0.25, MinSampleSize: 10}
}

// Checker polls counters and turns threshold crossings into Alert rows.
type Checker struct {
	store      storage.Store
	breakers   *breaker.Registry
	thresholds Thresholds
}

// NewChecker builds a Checker backed by store and breakers.
func NewChecker(store storage.Store, breakers *breaker.Registry, thresholds Thresholds) *Checker {
	return &Checker{store: store, breakers: breakers, thresholds: thresholds}
}

// Check runs one evaluation pass, creating a new firing Alert for each
// rule that is over its threshold. It does not deduplicate against
// already-firing alerts: every pass that finds a rule over its threshold
// creates a new Alert row.
func (c *Checker) Check(ctx context.Context) ([]*models.Alert, error) {
	var fired []*models.Alert

	if a, err := c.checkJobFailureRate(ctx); err != nil {
		return fired, err
	} else if a != nil {
		fired = append(fired, a)
	}

	fired = append(fired, c.checkOpenBreakers(ctx)...)

	return fired, nil
}

func (c *Checker) checkJobFailureRate(ctx context.Context) (*models.Alert, error) {
	counts, err := c.store.CountJobsByStatus(ctx)
	if err != nil {
		return nil, err
	}
	failed := counts[models.JobStatusFailed]
	completed := counts[models.JobStatusCompleted]
	sample := failed + completed
	if sample < c.thresholds.MinSampleSize {
		return nil, nil
	}
	rate := float64(failed) / float64(sample)
	if rate < c.thresholds.JobFailureRate {
		return nil, nil
	}

	alert := &models.Alert{
		ID:        uuid.NewString(),
		Rule:      "job_failure_rate",
		Severity:  models.AlertSeverityWarning,
		Status:    models.AlertStatusFiring,
		Message:   fmt.Sprintf("%.0f%% of the last %d terminal jobs failed", rate*100, sample),
		Value:     rate,
		Threshold: c.thresholds.JobFailureRate,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := c.store.CreateAlert(ctx, alert); err != nil {
		return nil, err
	}
	return alert, nil
}

func (c *Checker) checkOpenBreakers(ctx context.Context) []*models.Alert {
	var fired []*models.Alert
	for _, snap := range c.breakers.Snapshots() {
		if snap.State != models.BreakerOpen {
			continue
		}
		alert := &models.Alert{
			ID:        uuid.NewString(),
			Rule:      "circuit_breaker_open",
			Severity:  models.AlertSeverityCritical,
			Status:    models.AlertStatusFiring,
			Message:   fmt.Sprintf("circuit breaker for %q is open", snap.ProviderKey),
			Value:     float64(snap.FailureCount),
			Threshold: 1,
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
		}
		if err := c.store.CreateAlert(ctx, alert); err != nil {
			log.WithComponent("alerts").Error().Err(err).Str("provider_key", snap.ProviderKey).Msg("failed to persist breaker alert")
			continue
		}
		fired = append(fired, alert)
	}
	return fired
}

// List returns alerts in the given status, or every alert if status is "".
func (c *Checker) List(ctx context.Context, status models.AlertStatus) ([]*models.Alert, error) {
	return c.store.ListAlerts(ctx, status)
}

// Acknowledge transitions id to acknowledged.
func (c *Checker) Acknowledge(ctx context.Context, id string) error {
	return c.store.UpdateAlertStatus(ctx, id, models.AlertStatusAcknowledged, time.Now().UTC())
}

// Resolve transitions id to resolved.
func (c *Checker) Resolve(ctx context.Context, id string) error {
	return c.store.UpdateAlertStatus(ctx, id, models.AlertStatusResolved, time.Now().UTC())
}

// Run polls Check on interval until ctx is cancelled, logging failures
// the way the teacher's scheduler ticker does (spec §11 "supervised
// background timer").
func (c *Checker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fired, err := c.Check(ctx)
			if err != nil {
				log.WithComponent("alerts").Error().Err(err).Msg("alert check failed")
				continue
			}
			if len(fired) > 0 {
				log.WithComponent("alerts").Warn().Int("count", len(fired)).Msg("alerts fired")
			}
		}
	}
}
