package balancer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"jobsight/orchestrator/internal/breaker"
	"jobsight/orchestrator/internal/models"
	"jobsight/orchestrator/internal/registry"
)

func testSetup(strategy string, endpoints ...string) (*Balancer, *breaker.Set) {
	reg := registry.New()
	for i, endpoint := range endpoints {
		reg.Register(models.ModelVersion{
			Name:       "damage-detector-" + string(rune('a'+i)),
			Version:    "v1.0.0",
			Capability: models.CapabilityDamage,
			Endpoint:   endpoint,
			Enabled:    true,
		})
	}
	breakers := breaker.NewSet(breaker.Settings{FailureThreshold: 1, RecoveryTimeout: time.Minute})
	return New(reg, breakers, nil, strategy), breakers
}

func TestRoundRobinVisitsEveryEndpoint(t *testing.T) {
	for _, k := range []int{1, 2, 3, 5} {
		endpoints := make([]string, k)
		for i := range endpoints {
			endpoints[i] = "http://engine-" + string(rune('a'+i)) + ":8001"
		}
		bal, _ := testSetup(StrategyRoundRobin, endpoints...)

		// Every K consecutive selections must visit each endpoint exactly once.
		for round := 0; round < 3; round++ {
			seen := make(map[string]int)
			for i := 0; i < k; i++ {
				mv, err := bal.Select(models.CapabilityDamage)
				require.NoError(t, err)
				seen[mv.Endpoint]++
			}
			require.Len(t, seen, k)
			for _, count := range seen {
				require.Equal(t, 1, count)
			}
		}
	}
}

func TestSelectSkipsOpenBreakers(t *testing.T) {
	bal, breakers := testSetup(StrategyRoundRobin,
		"http://engine-a:8001", "http://engine-b:8001", "http://engine-c:8001")

	breakers.Get("http://engine-b:8001").RecordFailure()
	require.Equal(t, breaker.StateOpen, breakers.Get("http://engine-b:8001").State())

	for i := 0; i < 10; i++ {
		mv, err := bal.Select(models.CapabilityDamage)
		require.NoError(t, err)
		require.NotEqual(t, "http://engine-b:8001", mv.Endpoint)
	}
}

func TestSelectNoHealthyEngine(t *testing.T) {
	bal, breakers := testSetup(StrategyRoundRobin, "http://engine-a:8001")
	breakers.Get("http://engine-a:8001").RecordFailure()

	_, err := bal.Select(models.CapabilityDamage)
	require.ErrorIs(t, err, models.ErrNoHealthyEngine)
}

func TestSelectUnknownCapability(t *testing.T) {
	bal, _ := testSetup(StrategyRoundRobin, "http://engine-a:8001")
	_, err := bal.Select(models.CapabilityVolume)
	require.ErrorIs(t, err, models.ErrUnknownCapability)
}

func TestABTestTrafficSplit(t *testing.T) {
	bal, _ := testSetup(StrategyRoundRobin, "http://engine-a:8001")

	modelA := models.ModelVersion{
		Name: "damage-detector", Version: "v1.2.0",
		Capability: models.CapabilityDamage, Endpoint: "http://a:8001", Enabled: true,
	}
	modelB := models.ModelVersion{
		Name: "damage-detector", Version: "v1.3.0-rc1",
		Capability: models.CapabilityDamage, Endpoint: "http://b:8001", Enabled: true,
	}
	bal.registry.SetABTest(models.ABTestConfig{
		ExperimentID: "exp-1",
		ModelA:       modelA,
		ModelB:       modelB,
		TrafficSplit: 0.3,
		Enabled:      true,
	})

	const trials = 10000
	countA := 0
	for i := 0; i < trials; i++ {
		mv, err := bal.Select(models.CapabilityDamage)
		require.NoError(t, err)
		if mv.Version == modelA.Version {
			countA++
		}
	}

	share := float64(countA) / float64(trials)
	require.InDelta(t, 0.3, share, 0.02)
}

type staticLatency map[string]int64

func (s staticLatency) ResponseTime(_ models.Capability, endpoint string) (int64, bool) {
	ms, ok := s[endpoint]
	return ms, ok
}

func TestLeastLatencyPrefersFastestEndpoint(t *testing.T) {
	reg := registry.New()
	for _, endpoint := range []string{"http://slow:8001", "http://fast:8001", "http://medium:8001"} {
		reg.Register(models.ModelVersion{
			Name:       endpoint,
			Version:    "v1.0.0",
			Capability: models.CapabilityDamage,
			Endpoint:   endpoint,
			Enabled:    true,
		})
	}
	breakers := breaker.NewSet(breaker.Settings{FailureThreshold: 1, RecoveryTimeout: time.Minute})
	latencies := staticLatency{
		"http://slow:8001":   220,
		"http://fast:8001":   12,
		"http://medium:8001": 80,
	}
	bal := New(reg, breakers, latencies, StrategyLeastLatency)

	for i := 0; i < 5; i++ {
		mv, err := bal.Select(models.CapabilityDamage)
		require.NoError(t, err)
		require.Equal(t, "http://fast:8001", mv.Endpoint)
	}

	// When the fastest endpoint trips its breaker, traffic moves to the
	// next fastest.
	breakers.Get("http://fast:8001").RecordFailure()
	mv, err := bal.Select(models.CapabilityDamage)
	require.NoError(t, err)
	require.Equal(t, "http://medium:8001", mv.Endpoint)
}
