package health

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"jobsight/orchestrator/internal/breaker"
	"jobsight/orchestrator/internal/engine"
	"jobsight/orchestrator/internal/models"
	"jobsight/orchestrator/internal/registry"
)

// Monitor probes every registered enabled endpoint on a fixed interval,
// independent of request traffic. Probe outcomes update EngineHealth records
// and feed the same circuit breakers the request path uses, so both passive
// traffic and active probing drive breaker transitions through one counter.
type Monitor struct {
	interval     time.Duration
	probeTimeout time.Duration
	registry     *registry.Registry
	breakers     *breaker.Set
	client       *engine.Client

	mu      sync.RWMutex
	records map[string]*record

	doneCh chan struct{}
}

// record wraps one EngineHealth with its own lock; records are created once
// per (capability, endpoint) and updated in place for the process lifetime.
type record struct {
	mu     sync.Mutex
	health models.EngineHealth
}

func NewMonitor(reg *registry.Registry, breakers *breaker.Set, client *engine.Client, interval, probeTimeout time.Duration) *Monitor {
	return &Monitor{
		interval:     interval,
		probeTimeout: probeTimeout,
		registry:     reg,
		breakers:     breakers,
		client:       client,
		records:      make(map[string]*record),
		doneCh:       make(chan struct{}),
	}
}

// Start begins periodic probing in a goroutine until the context is
// cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.CheckNow(ctx)
		for {
			select {
			case <-ticker.C:
				m.CheckNow(ctx)
			case <-ctx.Done():
				return
			case <-m.doneCh:
				return
			}
		}
	}()
}

func (m *Monitor) Stop() {
	close(m.doneCh)
}

// CheckNow probes all enabled endpoints concurrently and waits for every
// probe to resolve.
func (m *Monitor) CheckNow(ctx context.Context) {
	var wg sync.WaitGroup
	for capability, versions := range m.registry.All() {
		for _, mv := range versions {
			if !mv.Enabled {
				continue
			}
			wg.Add(1)
			go func(capability models.Capability, endpoint string) {
				defer wg.Done()
				m.probe(ctx, capability, endpoint)
			}(capability, mv.Endpoint)
		}
	}
	wg.Wait()
}

func (m *Monitor) probe(ctx context.Context, capability models.Capability, endpoint string) {
	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	elapsed, err := m.client.Probe(probeCtx, endpoint)
	rec := m.record(capability, endpoint)

	rec.mu.Lock()
	rec.health.LastCheck = time.Now().UTC()
	rec.health.ResponseTimeMS = elapsed.Milliseconds()
	if err != nil {
		rec.health.Healthy = false
		rec.health.ErrorCount++
		rec.health.ConsecutiveFailures++
	} else {
		rec.health.Healthy = true
		rec.health.ConsecutiveFailures = 0
	}
	rec.mu.Unlock()

	if err != nil {
		log.Printf("Health check failed for %s at %s: %v", capability, endpoint, err)
		m.breakers.Get(endpoint).RecordFailure()
		return
	}
	m.breakers.Get(endpoint).RecordSuccess()
}

func (m *Monitor) record(capability models.Capability, endpoint string) *record {
	key := string(capability) + "|" + endpoint

	m.mu.RLock()
	rec, ok := m.records[key]
	m.mu.RUnlock()
	if ok {
		return rec
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok = m.records[key]; ok {
		return rec
	}
	rec = &record{health: models.EngineHealth{
		Capability: capability,
		Endpoint:   endpoint,
		Healthy:    true,
	}}
	m.records[key] = rec
	return rec
}

// Snapshot returns a copy of every health record grouped by capability,
// ordered by endpoint within each group.
func (m *Monitor) Snapshot() map[models.Capability][]models.EngineHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[models.Capability][]models.EngineHealth)
	for _, rec := range m.records {
		rec.mu.Lock()
		h := rec.health
		rec.mu.Unlock()
		out[h.Capability] = append(out[h.Capability], h)
	}
	for _, group := range out {
		sort.Slice(group, func(i, j int) bool { return group[i].Endpoint < group[j].Endpoint })
	}
	return out
}

// ResponseTime reports the last probed latency for an endpoint. The second
// return is false when the endpoint has never been probed.
func (m *Monitor) ResponseTime(capability models.Capability, endpoint string) (int64, bool) {
	m.mu.RLock()
	rec, ok := m.records[string(capability)+"|"+endpoint]
	m.mu.RUnlock()
	if !ok {
		return 0, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.health.ResponseTimeMS, true
}
