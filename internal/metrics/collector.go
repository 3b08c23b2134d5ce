package metrics

import (
	"sort"
	"sync"

	"jobsight/orchestrator/internal/models"
)

// Collector keeps bounded rolling sample windows: one for whole requests and
// one per capability. Oldest samples are overwritten ring-buffer style, so
// memory never grows with traffic. Snapshots are recomputed from the current
// window contents on demand.
type Collector struct {
	capacity int
	requests *requestWindow

	mu      sync.RWMutex
	engines map[models.Capability]*engineWindow
}

func NewCollector(windowSize int) *Collector {
	if windowSize < 1 {
		windowSize = 1024
	}
	return &Collector{
		capacity: windowSize,
		requests: &requestWindow{samples: make([]requestSample, windowSize)},
		engines:  make(map[models.Capability]*engineWindow),
	}
}

type requestSample struct {
	latencyMS float64
	status    models.DetectionStatus
}

type requestWindow struct {
	mu      sync.Mutex
	samples []requestSample
	next    int
	count   int
}

type engineSample struct {
	latencyMS  float64
	confidence float64
	failed     bool
}

type engineWindow struct {
	mu      sync.Mutex
	samples []engineSample
	next    int
	count   int
}

// RecordRequest stores the terminal status and wall-clock latency of one
// dispatched request.
func (c *Collector) RecordRequest(status models.DetectionStatus, latencyMS int64) {
	w := c.requests
	w.mu.Lock()
	w.samples[w.next] = requestSample{latencyMS: float64(latencyMS), status: status}
	w.next = (w.next + 1) % len(w.samples)
	if w.count < len(w.samples) {
		w.count++
	}
	w.mu.Unlock()
}

// RecordEngine stores the outcome of one capability call.
func (c *Collector) RecordEngine(capability models.Capability, success bool, latencyMS int64, confidence float64) {
	w := c.engineWindow(capability)
	w.mu.Lock()
	w.samples[w.next] = engineSample{
		latencyMS:  float64(latencyMS),
		confidence: confidence,
		failed:     !success,
	}
	w.next = (w.next + 1) % len(w.samples)
	if w.count < len(w.samples) {
		w.count++
	}
	w.mu.Unlock()
}

func (c *Collector) engineWindow(capability models.Capability) *engineWindow {
	c.mu.RLock()
	w, ok := c.engines[capability]
	c.mu.RUnlock()
	if ok {
		return w
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if w, ok = c.engines[capability]; ok {
		return w
	}
	w = &engineWindow{samples: make([]engineSample, c.capacity)}
	c.engines[capability] = w
	return w
}

// Snapshot derives OrchestratorMetrics from the current windows.
func (c *Collector) Snapshot() models.OrchestratorMetrics {
	out := models.OrchestratorMetrics{
		EngineMetrics: make(map[models.Capability]models.EngineMetrics),
	}

	w := c.requests
	w.mu.Lock()
	latencies := make([]float64, 0, w.count)
	for i := 0; i < w.count; i++ {
		s := w.samples[i]
		latencies = append(latencies, s.latencyMS)
		out.TotalRequests++
		switch s.status {
		case models.StatusCompleted:
			out.SuccessfulRequests++
		case models.StatusFailed:
			out.FailedRequests++
		}
	}
	w.mu.Unlock()

	if out.TotalRequests > 0 {
		var sum float64
		for _, l := range latencies {
			sum += l
		}
		out.AvgLatencyMS = sum / float64(len(latencies))
		sort.Float64s(latencies)
		out.P50LatencyMS = percentile(latencies, 0.50)
		out.P90LatencyMS = percentile(latencies, 0.90)
		out.P95LatencyMS = percentile(latencies, 0.95)
		out.ErrorRate = float64(out.FailedRequests) / float64(out.TotalRequests)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for capability, ew := range c.engines {
		ew.mu.Lock()
		var em models.EngineMetrics
		var latencySum, confidenceSum float64
		for i := 0; i < ew.count; i++ {
			s := ew.samples[i]
			em.TotalRequests++
			latencySum += s.latencyMS
			confidenceSum += s.confidence
			if s.failed {
				em.ErrorCount++
			}
		}
		ew.mu.Unlock()
		if em.TotalRequests > 0 {
			em.AvgLatencyMS = latencySum / float64(em.TotalRequests)
			em.AvgConfidence = confidenceSum / float64(em.TotalRequests)
			em.ErrorRate = float64(em.ErrorCount) / float64(em.TotalRequests)
		}
		out.EngineMetrics[capability] = em
	}
	return out
}

// percentile interpolates linearly between the two nearest ranks of an
// already sorted sample set, so fixed window contents give exact values.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	k := float64(len(sorted)-1) * p
	f := int(k)
	c := f + 1
	if c >= len(sorted) {
		return sorted[f]
	}
	return sorted[f] + (k-float64(f))*(sorted[c]-sorted[f])
}
