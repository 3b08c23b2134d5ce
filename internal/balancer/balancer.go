package balancer

import (
	"math/rand/v2"
	"sort"
	"sync"

	"jobsight/orchestrator/internal/breaker"
	"jobsight/orchestrator/internal/models"
	"jobsight/orchestrator/internal/registry"
)

const (
	StrategyRoundRobin   = "round_robin"
	StrategyLeastLatency = "least_latency"
	StrategyRandom       = "random"
)

// LatencyProvider supplies the last observed probe latency for an endpoint.
// Endpoints that were never probed report ok=false and sort first so new
// endpoints get traffic under least_latency.
type LatencyProvider interface {
	ResponseTime(capability models.Capability, endpoint string) (ms int64, ok bool)
}

// Balancer picks an endpoint/model version for one capability call. It never
// retries past its chosen endpoint; retrying elsewhere is the dispatcher's
// decision across separate calls.
type Balancer struct {
	registry *registry.Registry
	breakers *breaker.Set
	latency  LatencyProvider
	strategy string

	mu      sync.Mutex
	cursors map[models.Capability]int
}

func New(reg *registry.Registry, breakers *breaker.Set, latency LatencyProvider, strategy string) *Balancer {
	switch strategy {
	case StrategyRoundRobin, StrategyLeastLatency, StrategyRandom:
	default:
		strategy = StrategyRoundRobin
	}
	return &Balancer{
		registry: reg,
		breakers: breakers,
		latency:  latency,
		strategy: strategy,
		cursors:  make(map[models.Capability]int),
	}
}

// Select returns the model version to call for a capability. An enabled A/B
// experiment overrides the default strategy: a uniform draw below the traffic
// split routes to model A, otherwise model B. Without an experiment the
// enabled candidates are ordered by the configured strategy and the first one
// whose breaker admits the call wins, so a HALF_OPEN probe slot is only
// consumed by the endpoint that is actually invoked.
func (b *Balancer) Select(capability models.Capability) (models.ModelVersion, error) {
	if test, ok := b.registry.ABTestFor(capability); ok {
		if rand.Float64() < test.TrafficSplit {
			return test.ModelA, nil
		}
		return test.ModelB, nil
	}

	candidates, err := b.registry.List(capability)
	if err != nil {
		return models.ModelVersion{}, err
	}
	if len(candidates) == 0 {
		return models.ModelVersion{}, models.NoHealthyEngine(capability)
	}

	for _, mv := range b.order(capability, candidates) {
		if b.breakers.Get(mv.Endpoint).AllowRequest() {
			return mv, nil
		}
	}
	return models.ModelVersion{}, models.NoHealthyEngine(capability)
}

// order arranges candidates according to the strategy. Round-robin advances
// a shared per-capability cursor exactly once per selection.
func (b *Balancer) order(capability models.Capability, candidates []models.ModelVersion) []models.ModelVersion {
	out := append([]models.ModelVersion(nil), candidates...)

	switch b.strategy {
	case StrategyLeastLatency:
		sort.SliceStable(out, func(i, j int) bool {
			li, okI := b.latencyFor(capability, out[i].Endpoint)
			lj, okJ := b.latencyFor(capability, out[j].Endpoint)
			if okI != okJ {
				return !okI
			}
			return li < lj
		})
	case StrategyRandom:
		rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	default:
		b.mu.Lock()
		start := b.cursors[capability] % len(out)
		b.cursors[capability]++
		b.mu.Unlock()
		rotated := make([]models.ModelVersion, 0, len(out))
		rotated = append(rotated, out[start:]...)
		rotated = append(rotated, out[:start]...)
		out = rotated
	}
	return out
}

func (b *Balancer) latencyFor(capability models.Capability, endpoint string) (int64, bool) {
	if b.latency == nil {
		return 0, false
	}
	return b.latency.ResponseTime(capability, endpoint)
}
