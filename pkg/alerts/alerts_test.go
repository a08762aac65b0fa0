package alerts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bin2nlp/bin2nlp/pkg/breaker"
	"github.com/bin2nlp/bin2nlp/pkg/config"
	"github.com/bin2nlp/bin2nlp/pkg/models"
	"github.com/bin2nlp/bin2nlp/pkg/storage/storagetest"
)

func addJobs(store *storagetest.FakeStore, completed, failed int) {
	for i := 0; i < completed; i++ {
		id := "completed-" + string(rune('a'+i))
		store.Jobs[id] = &models.Job{ID: id, Status: models.JobStatusCompleted}
	}
	for i := 0; i < failed; i++ {
		id := "failed-" + string(rune('a'+i))
		store.Jobs[id] = &models.Job{ID: id, Status: models.JobStatusFailed}
	}
}

func TestChecker_JobFailureRate_BelowMinSample(t *testing.T) {
	store := storagetest.New()
	addJobs(store, 2, 1)
	c := NewChecker(store, breaker.NewRegistry(config.Default().CircuitBreaker), Thresholds{JobFailureRate: 0.25, MinSampleSize: 10})

	fired, err := c.Check(context.Background())
	require.NoError(t, err)
	assert.Empty(t, fired, "sample too small to evaluate")
}

func TestChecker_JobFailureRate_CrossesThreshold(t *testing.T) {
	store := storagetest.New()
	addJobs(store, 6, 4)
	c := NewChecker(store, breaker.NewRegistry(config.Default().CircuitBreaker), Thresholds{JobFailureRate: 0.25, MinSampleSize: 10})

	fired, err := c.Check(context.Background())
	require.NoError(t, err)
	require.Len(t, fired, 1)
	assert.Equal(t, "job_failure_rate", fired[0].Rule)
	assert.Equal(t, models.AlertSeverityWarning, fired[0].Severity)
}

func TestChecker_JobFailureRate_BelowThreshold(t *testing.T) {
	store := storagetest.New()
	addJobs(store, 9, 1)
	c := NewChecker(store, breaker.NewRegistry(config.Default().CircuitBreaker), Thresholds{JobFailureRate: 0.25, MinSampleSize: 10})

	fired, err := c.Check(context.Background())
	require.NoError(t, err)
	assert.Empty(t, fired)
}

func TestChecker_OpenBreakerFiresAlert(t *testing.T) {
	store := storagetest.New()
	cfg := config.Default().CircuitBreaker
	cfg.FailureThreshold = 1
	breakers := breaker.NewRegistry(cfg)
	_ = breakers.Execute(context.Background(), "openai:gpt-4", func(ctx context.Context) error {
		return assertError
	})

	c := NewChecker(store, breakers, DefaultThresholds())
	fired, err := c.Check(context.Background())
	require.NoError(t, err)
	require.Len(t, fired, 1)
	assert.Equal(t, "circuit_breaker_open", fired[0].Rule)
	assert.Equal(t, models.AlertSeverityCritical, fired[0].Severity)
}

var assertError = assertErr{}

type assertErr struct{}

func (assertErr) Error() string { return "provider failure" }

func TestChecker_ListAcknowledgeResolve(t *testing.T) {
	store := storagetest.New()
	c := NewChecker(store, breaker.NewRegistry(config.Default().CircuitBreaker), DefaultThresholds())

	require.NoError(t, store.CreateAlert(context.Background(), &models.Alert{
		ID: "alert-1", Rule: "job_failure_rate", Status: models.AlertStatusFiring,
	}))

	firing, err := c.List(context.Background(), models.AlertStatusFiring)
	require.NoError(t, err)
	require.Len(t, firing, 1)

	require.NoError(t, c.Acknowledge(context.Background(), "alert-1"))
	acked, err := c.List(context.Background(), models.AlertStatusAcknowledged)
	require.NoError(t, err)
	require.Len(t, acked, 1)

	require.NoError(t, c.Resolve(context.Background(), "alert-1"))
	resolved, err := c.List(context.Background(), models.AlertStatusResolved)
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.NotNil(t, resolved[0].ResolvedAt)
}
