package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"jobsight/orchestrator/internal/balancer"
	"jobsight/orchestrator/internal/breaker"
	"jobsight/orchestrator/internal/engine"
	"jobsight/orchestrator/internal/health"
	"jobsight/orchestrator/internal/history"
	"jobsight/orchestrator/internal/metrics"
	"jobsight/orchestrator/internal/models"
	"jobsight/orchestrator/internal/registry"
)

// fakeEngine serves the engine wire contract with a fixed payload.
func fakeEngine(t *testing.T, version string, confidence float64, delay time.Duration) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		if delay > 0 {
			time.Sleep(delay)
		}
		json.NewEncoder(w).Encode(engine.PredictResponse{
			ModelVersion: version,
			Confidence:   confidence,
			Results:      map[string]any{"model_version": version},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func brokenEngine(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	return srv
}

type testDeps struct {
	orch     *Orchestrator
	breakers *breaker.Set
}

func newTestOrchestrator(t *testing.T, engineTimeout time.Duration, breakerThreshold int, versions ...models.ModelVersion) testDeps {
	t.Helper()

	reg := registry.New()
	for _, mv := range versions {
		reg.Register(mv)
	}
	breakers := breaker.NewSet(breaker.Settings{FailureThreshold: breakerThreshold, RecoveryTimeout: time.Minute})
	client := engine.NewClient()
	monitor := health.NewMonitor(reg, breakers, client, time.Minute, time.Second)
	orch := New(Options{
		Registry:      reg,
		Balancer:      balancer.New(reg, breakers, monitor, balancer.StrategyRoundRobin),
		Breakers:      breakers,
		Monitor:       monitor,
		Engines:       client,
		Collector:     metrics.NewCollector(128),
		History:       history.New(100),
		EngineTimeout: engineTimeout,
	})
	return testDeps{orch: orch, breakers: breakers}
}

func modelFor(capability models.Capability, version, endpoint string) models.ModelVersion {
	return models.ModelVersion{
		Name:       string(capability) + "-detector",
		Version:    version,
		Capability: capability,
		Endpoint:   endpoint,
		Enabled:    true,
	}
}

func detectionRequest(capabilities ...models.Capability) models.DetectionRequest {
	return models.DetectionRequest{
		PhotoID:      "photo-1",
		PhotoURL:     "s3://photos/site/roof.jpg",
		Capabilities: capabilities,
		Priority:     models.PriorityNormal,
	}
}

func TestProcessAllEnginesSucceed(t *testing.T) {
	damage := fakeEngine(t, "v1.2.0", 0.92, 0)
	material := fakeEngine(t, "v1.1.0", 0.81, 0)
	deps := newTestOrchestrator(t, time.Second, 5,
		modelFor(models.CapabilityDamage, "v1.2.0", damage.URL),
		modelFor(models.CapabilityMaterial, "v1.1.0", material.URL),
	)

	resp := deps.orch.Process(context.Background(), detectionRequest(models.CapabilityDamage, models.CapabilityMaterial), "")

	require.Equal(t, models.StatusCompleted, resp.Status)
	require.NotEmpty(t, resp.RequestID)
	require.NotEmpty(t, resp.DetectionID)
	require.Equal(t, "photo-1", resp.PhotoID)
	require.True(t, strings.HasPrefix(resp.CorrelationID, "orch-"))
	require.Empty(t, resp.Error)

	require.Len(t, resp.Results, 2)
	require.Empty(t, resp.Results[models.CapabilityDamage].Error)
	require.InDelta(t, 0.92, resp.Results[models.CapabilityDamage].Confidence, 1e-9)
	require.Equal(t, "v1.2.0", resp.ModelVersions[models.CapabilityDamage])
	require.Equal(t, "v1.1.0", resp.ModelVersions[models.CapabilityMaterial])
}

func TestProcessPartialOnTimeout(t *testing.T) {
	damage := fakeEngine(t, "v1.2.0", 0.92, 400*time.Millisecond)
	material := fakeEngine(t, "v1.1.0", 0.81, 0)
	deps := newTestOrchestrator(t, 100*time.Millisecond, 5,
		modelFor(models.CapabilityDamage, "v1.2.0", damage.URL),
		modelFor(models.CapabilityMaterial, "v1.1.0", material.URL),
	)

	resp := deps.orch.Process(context.Background(), detectionRequest(models.CapabilityDamage, models.CapabilityMaterial), "")

	require.Equal(t, models.StatusPartial, resp.Status)
	require.Contains(t, resp.Results[models.CapabilityDamage].Error, "timeout")
	require.Empty(t, resp.Results[models.CapabilityMaterial].Error)
}

func TestProcessNoHealthyEngine(t *testing.T) {
	disabled := modelFor(models.CapabilityDamage, "v1.2.0", "http://damage-engine:8001")
	disabled.Enabled = false
	deps := newTestOrchestrator(t, time.Second, 5, disabled)

	resp := deps.orch.Process(context.Background(), detectionRequest(models.CapabilityDamage), "")

	require.Equal(t, models.StatusFailed, resp.Status)
	require.Equal(t, "all detection engines failed", resp.Error)
	require.Contains(t, resp.Results[models.CapabilityDamage].Error, "no healthy engine")
}

func TestProcessUnknownCapabilityDoesNotBlockOthers(t *testing.T) {
	damage := fakeEngine(t, "v1.2.0", 0.92, 0)
	deps := newTestOrchestrator(t, time.Second, 5,
		modelFor(models.CapabilityDamage, "v1.2.0", damage.URL),
	)

	resp := deps.orch.Process(context.Background(), detectionRequest(models.CapabilityDamage, models.CapabilityVolume), "")

	require.Equal(t, models.StatusPartial, resp.Status)
	require.Empty(t, resp.Results[models.CapabilityDamage].Error)
	require.Contains(t, resp.Results[models.CapabilityVolume].Error, "unknown capability")
}

func TestProcessDeduplicatesCapabilities(t *testing.T) {
	damage := fakeEngine(t, "v1.2.0", 0.92, 0)
	deps := newTestOrchestrator(t, time.Second, 5,
		modelFor(models.CapabilityDamage, "v1.2.0", damage.URL),
	)

	resp := deps.orch.Process(context.Background(),
		detectionRequest(models.CapabilityDamage, models.CapabilityDamage), "")

	require.Equal(t, models.StatusCompleted, resp.Status)
	require.Len(t, resp.Results, 1)
}

func TestProcessDefaultsToDamageAndMaterial(t *testing.T) {
	damage := fakeEngine(t, "v1.2.0", 0.92, 0)
	material := fakeEngine(t, "v1.1.0", 0.81, 0)
	deps := newTestOrchestrator(t, time.Second, 5,
		modelFor(models.CapabilityDamage, "v1.2.0", damage.URL),
		modelFor(models.CapabilityMaterial, "v1.1.0", material.URL),
	)

	resp := deps.orch.Process(context.Background(), detectionRequest(), "")

	require.Contains(t, resp.Results, models.CapabilityDamage)
	require.Contains(t, resp.Results, models.CapabilityMaterial)
}

func TestProcessKeepsCallerCorrelationID(t *testing.T) {
	damage := fakeEngine(t, "v1.2.0", 0.92, 0)
	deps := newTestOrchestrator(t, time.Second, 5,
		modelFor(models.CapabilityDamage, "v1.2.0", damage.URL),
	)

	resp := deps.orch.Process(context.Background(), detectionRequest(models.CapabilityDamage), "trace-42")
	require.Equal(t, "trace-42", resp.CorrelationID)
}

func TestProcessFailuresTripBreaker(t *testing.T) {
	broken := brokenEngine(t)
	deps := newTestOrchestrator(t, time.Second, 2,
		modelFor(models.CapabilityDamage, "v1.2.0", broken.URL),
	)

	for i := 0; i < 2; i++ {
		resp := deps.orch.Process(context.Background(), detectionRequest(models.CapabilityDamage), "")
		require.Equal(t, models.StatusFailed, resp.Status)
		require.Contains(t, resp.Results[models.CapabilityDamage].Error, "status 500")
	}
	require.Equal(t, breaker.StateOpen, deps.breakers.Get(broken.URL).State())

	// With the breaker open the dispatcher fails fast without a remote call.
	resp := deps.orch.Process(context.Background(), detectionRequest(models.CapabilityDamage), "")
	require.Equal(t, models.StatusFailed, resp.Status)
	require.Contains(t, resp.Results[models.CapabilityDamage].Error, "no healthy engine")
}

func TestStatusReturnsStoredResponse(t *testing.T) {
	damage := fakeEngine(t, "v1.2.0", 0.92, 0)
	deps := newTestOrchestrator(t, time.Second, 5,
		modelFor(models.CapabilityDamage, "v1.2.0", damage.URL),
	)

	resp := deps.orch.Process(context.Background(), detectionRequest(models.CapabilityDamage), "")

	stored, err := deps.orch.Status(resp.RequestID)
	require.NoError(t, err)
	require.Equal(t, resp, stored)

	_, err = deps.orch.Status("not-a-request")
	require.ErrorIs(t, err, models.ErrRequestNotFound)
}

func TestPublisherReceivesCompletedResponse(t *testing.T) {
	damage := fakeEngine(t, "v1.2.0", 0.92, 0)
	deps := newTestOrchestrator(t, time.Second, 5,
		modelFor(models.CapabilityDamage, "v1.2.0", damage.URL),
	)

	var published models.DetectionResponse
	deps.orch.SetPublisher(func(resp models.DetectionResponse) { published = resp })

	resp := deps.orch.Process(context.Background(), detectionRequest(models.CapabilityDamage), "")
	require.Equal(t, resp, published)
}

func TestProcessRecordsMetrics(t *testing.T) {
	damage := fakeEngine(t, "v1.2.0", 0.92, 0)
	deps := newTestOrchestrator(t, time.Second, 5,
		modelFor(models.CapabilityDamage, "v1.2.0", damage.URL),
	)

	deps.orch.Process(context.Background(), detectionRequest(models.CapabilityDamage), "")

	snap := deps.orch.Metrics()
	require.Equal(t, int64(1), snap.TotalRequests)
	require.Equal(t, int64(1), snap.SuccessfulRequests)
	require.Equal(t, int64(1), snap.EngineMetrics[models.CapabilityDamage].TotalRequests)
}
