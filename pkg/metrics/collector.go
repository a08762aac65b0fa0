package metrics

import (
	"context"
	"time"

	"github.com/bin2nlp/bin2nlp/pkg/breaker"
	"github.com/bin2nlp/bin2nlp/pkg/health"
	"github.com/bin2nlp/bin2nlp/pkg/models"
)

// JobCounter is the subset of storage.Store the Collector polls; kept
// narrow so metrics never needs to import the full storage surface.
type JobCounter interface {
	CountJobsByStatus(ctx context.Context) (map[models.JobStatus]int64, error)
}

// Collector periodically samples job counts and breaker state into the
// package-level Prometheus gauges, following the teacher's ticker-driven
// polling loop (pkg/metrics/collector.go Start/collect). It also reprobes
// the handful of dependencies that aren't touched by every job — the
// upload-session store and a configured local provider endpoint — so a
// dependency that goes unreachable between jobs still flips /health.
type Collector struct {
	jobs     JobCounter
	breakers *breaker.Registry
	stopCh   chan struct{}

	redisAddr        string
	localProviderURL string
	healthCfg        health.Config
	statuses         map[string]*health.Status
}

// NewCollector builds a Collector backed by jobs and breakers. redisAddr
// and localProviderURL are optional TCP/HTTP reachability targets; pass
// "" to skip that probe entirely.
func NewCollector(jobs JobCounter, breakers *breaker.Registry, redisAddr, localProviderURL string) *Collector {
	cfg := health.DefaultConfig()
	cfg.Retries = 2
	return &Collector{
		jobs:             jobs,
		breakers:         breakers,
		stopCh:           make(chan struct{}),
		redisAddr:        redisAddr,
		localProviderURL: localProviderURL,
		healthCfg:        cfg,
		statuses:         make(map[string]*health.Status),
	}
}

// Start begins collecting metrics every 15 seconds.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectJobMetrics()
	c.collectBreakerMetrics()
	c.collectExternalHealth()
}

// collectExternalHealth reprobes dependencies a job doesn't necessarily
// touch every cycle, applying the same Status hysteresis the teacher uses
// so one flaky probe doesn't flip a component's reported health.
func (c *Collector) collectExternalHealth() {
	ctx := context.Background()

	if c.redisAddr != "" {
		status := c.statusFor("upload_session")
		result := health.NewTCPChecker(c.redisAddr).Check(ctx)
		status.Update(result, c.healthCfg)
		if !status.InStartPeriod(c.healthCfg) {
			UpdateComponent("upload_session", status.Healthy, result.Message)
		}
	}

	if c.localProviderURL != "" {
		status := c.statusFor("provider_local")
		checker := health.NewHTTPChecker(c.localProviderURL).WithStatusRange(200, 499)
		result := checker.Check(ctx)
		status.Update(result, c.healthCfg)
		if !status.InStartPeriod(c.healthCfg) {
			UpdateComponent("provider_local", status.Healthy, result.Message)
		}
	}
}

func (c *Collector) statusFor(name string) *health.Status {
	s, ok := c.statuses[name]
	if !ok {
		s = health.NewStatus()
		c.statuses[name] = s
	}
	return s
}

func (c *Collector) collectJobMetrics() {
	counts, err := c.jobs.CountJobsByStatus(context.Background())
	if err != nil {
		return
	}
	for status, count := range counts {
		JobsTotal.WithLabelValues(string(status)).Add(0) // ensure the series exists even at zero
		_ = count
	}
	JobsInProgress.Set(float64(counts[models.JobStatusInProgress]))
}

func (c *Collector) collectBreakerMetrics() {
	for _, snap := range c.breakers.Snapshots() {
		CircuitBreakerState.WithLabelValues(snap.ProviderKey).Set(BreakerStateValue(string(snap.State)))
	}
}
