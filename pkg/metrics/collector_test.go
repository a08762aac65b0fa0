package metrics

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bin2nlp/bin2nlp/pkg/breaker"
	"github.com/bin2nlp/bin2nlp/pkg/config"
	"github.com/bin2nlp/bin2nlp/pkg/models"
)

type fakeJobCounter struct{}

func (fakeJobCounter) CountJobsByStatus(ctx context.Context) (map[models.JobStatus]int64, error) {
	return map[models.JobStatus]int64{models.JobStatusInProgress: 2}, nil
}

func TestCollector_CollectExternalHealth_RegistersComponents(t *testing.T) {
	healthChecker = &HealthChecker{components: make(map[string]ComponentHealth), startTime: time.Now()}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	breakers := breaker.NewRegistry(config.CircuitBreakerConfig{FailureThreshold: 5, WindowSeconds: 60, CoolDownSeconds: 30, SuccessThreshold: 2})
	c := NewCollector(fakeJobCounter{}, breakers, ln.Addr().String(), srv.URL)
	c.collectExternalHealth()

	health := GetHealth()
	if status, ok := health.Components["upload_session"]; !ok || status != "healthy" {
		t.Errorf("expected upload_session healthy, got %v (ok=%v)", status, ok)
	}
	if status, ok := health.Components["provider_local"]; !ok || status != "healthy" {
		t.Errorf("expected provider_local healthy, got %v (ok=%v)", status, ok)
	}
}

func TestCollector_CollectExternalHealth_UnreachableRedisMarksUnhealthyAfterRetries(t *testing.T) {
	healthChecker = &HealthChecker{components: make(map[string]ComponentHealth), startTime: time.Now()}

	breakers := breaker.NewRegistry(config.CircuitBreakerConfig{FailureThreshold: 5, WindowSeconds: 60, CoolDownSeconds: 30, SuccessThreshold: 2})
	c := NewCollector(fakeJobCounter{}, breakers, "127.0.0.1:1", "")
	c.healthCfg.StartPeriod = 0

	// healthCfg.Retries defaults to 2; the status only flips unhealthy once
	// consecutive failures reach that threshold.
	c.collectExternalHealth()
	c.collectExternalHealth()

	health := GetHealth()
	if status := health.Components["upload_session"]; status == "healthy" {
		t.Errorf("expected upload_session unhealthy after repeated failures, got %q", status)
	}
}

func TestCollector_CollectExternalHealth_SkipsUnconfiguredTargets(t *testing.T) {
	healthChecker = &HealthChecker{components: make(map[string]ComponentHealth), startTime: time.Now()}

	breakers := breaker.NewRegistry(config.CircuitBreakerConfig{FailureThreshold: 5, WindowSeconds: 60, CoolDownSeconds: 30, SuccessThreshold: 2})
	c := NewCollector(fakeJobCounter{}, breakers, "", "")
	c.collectExternalHealth()

	health := GetHealth()
	if _, ok := health.Components["upload_session"]; ok {
		t.Error("expected no upload_session probe when redisAddr is empty")
	}
	if _, ok := health.Components["provider_local"]; ok {
		t.Error("expected no provider_local probe when localProviderURL is empty")
	}
}
