package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"jobsight/orchestrator/internal/balancer"
	"jobsight/orchestrator/internal/breaker"
	"jobsight/orchestrator/internal/engine"
	"jobsight/orchestrator/internal/health"
	"jobsight/orchestrator/internal/history"
	"jobsight/orchestrator/internal/metrics"
	"jobsight/orchestrator/internal/models"
	"jobsight/orchestrator/internal/registry"
)

// defaultCapabilities is what a request runs when it names none.
var defaultCapabilities = []models.Capability{models.CapabilityDamage, models.CapabilityMaterial}

// Orchestrator fans a detection request out to the selected engines, applies
// per-call deadlines, and merges the partial results into one response. One
// instance owns all shared state, so tests can run several side by side.
type Orchestrator struct {
	registry  *registry.Registry
	balancer  *balancer.Balancer
	breakers  *breaker.Set
	monitor   *health.Monitor
	engines   *engine.Client
	collector *metrics.Collector
	history   *history.History

	engineTimeout time.Duration
	publish       func(models.DetectionResponse)
}

type Options struct {
	Registry      *registry.Registry
	Balancer      *balancer.Balancer
	Breakers      *breaker.Set
	Monitor       *health.Monitor
	Engines       *engine.Client
	Collector     *metrics.Collector
	History       *history.History
	EngineTimeout time.Duration
}

func New(opts Options) *Orchestrator {
	if opts.EngineTimeout <= 0 {
		opts.EngineTimeout = 5 * time.Second
	}
	return &Orchestrator{
		registry:      opts.Registry,
		balancer:      opts.Balancer,
		breakers:      opts.Breakers,
		monitor:       opts.Monitor,
		engines:       opts.Engines,
		collector:     opts.Collector,
		history:       opts.History,
		engineTimeout: opts.EngineTimeout,
	}
}

// SetPublisher installs a callback invoked with every completed response,
// used to push live updates to WebSocket subscribers.
func (o *Orchestrator) SetPublisher(publish func(models.DetectionResponse)) {
	o.publish = publish
}

// Process runs the full fan-out/aggregate cycle. It always returns a
// well-formed response: per-capability failures degrade the status to
// partial or failed instead of aborting the request.
func (o *Orchestrator) Process(ctx context.Context, req models.DetectionRequest, correlationID string) models.DetectionResponse {
	start := time.Now()
	requestID := uuid.NewString()
	if correlationID == "" {
		correlationID = "orch-" + requestID
	}

	capabilities := dedupe(req.Capabilities)
	if len(capabilities) == 0 {
		capabilities = defaultCapabilities
	}

	log.Printf("Processing detection request %s for photo %s with capabilities %v (correlation: %s)",
		requestID, req.PhotoID, capabilities, correlationID)

	results := make([]models.EngineResult, len(capabilities))
	var wg sync.WaitGroup
	for i, capability := range capabilities {
		wg.Add(1)
		go func(i int, capability models.Capability) {
			defer wg.Done()
			results[i] = o.callEngine(ctx, capability, req)
		}(i, capability)
	}
	wg.Wait()

	response := models.DetectionResponse{
		RequestID:     requestID,
		DetectionID:   uuid.NewString(),
		PhotoID:       req.PhotoID,
		Results:       make(map[models.Capability]models.EngineResult, len(results)),
		ModelVersions: make(map[models.Capability]string, len(results)),
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
	}

	successful := 0
	for _, result := range results {
		response.Results[result.Capability] = result
		if result.ModelVersion != "" {
			response.ModelVersions[result.Capability] = result.ModelVersion
		}
		if result.Error == "" {
			successful++
		}
	}

	switch {
	case successful == len(capabilities):
		response.Status = models.StatusCompleted
	case successful > 0:
		response.Status = models.StatusPartial
	default:
		response.Status = models.StatusFailed
		response.Error = "all detection engines failed"
	}

	response.ProcessingTimeMS = time.Since(start).Milliseconds()
	o.collector.RecordRequest(response.Status, response.ProcessingTimeMS)
	o.history.Put(response)

	log.Printf("Completed detection request %s with status %s in %dms",
		requestID, response.Status, response.ProcessingTimeMS)

	if o.publish != nil {
		o.publish(response)
	}
	return response
}

// callEngine runs one capability call under its own deadline and feeds the
// outcome back into the endpoint's breaker and the metrics window.
func (o *Orchestrator) callEngine(ctx context.Context, capability models.Capability, req models.DetectionRequest) models.EngineResult {
	mv, err := o.balancer.Select(capability)
	if err != nil {
		log.Printf("Engine selection failed for %s: %v", capability, err)
		o.collector.RecordEngine(capability, false, 0, 0)
		return models.EngineResult{
			Capability:   capability,
			ModelVersion: "unavailable",
			Error:        err.Error(),
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, o.engineTimeout)
	defer cancel()

	callStart := time.Now()
	out, err := o.engines.Predict(callCtx, mv.Endpoint, engine.PredictRequest{
		PhotoURL:     req.PhotoURL,
		Metadata:     req.Metadata,
		ModelVersion: mv.Version,
	})
	elapsedMS := time.Since(callStart).Milliseconds()

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("engine timeout after %dms: %w", elapsedMS, err)
		}
		log.Printf("Engine %s call for %s failed: %v", mv.Endpoint, capability, err)
		o.breakers.Get(mv.Endpoint).RecordFailure()
		o.collector.RecordEngine(capability, false, elapsedMS, 0)
		return models.EngineResult{
			Capability:       capability,
			ModelVersion:     mv.Version,
			ProcessingTimeMS: elapsedMS,
			Error:            err.Error(),
		}
	}

	o.breakers.Get(mv.Endpoint).RecordSuccess()
	o.collector.RecordEngine(capability, true, elapsedMS, out.Confidence)

	version := out.ModelVersion
	if version == "" {
		version = mv.Version
	}
	return models.EngineResult{
		Capability:       capability,
		ModelVersion:     version,
		Confidence:       out.Confidence,
		Results:          out.Results,
		ProcessingTimeMS: elapsedMS,
	}
}

// Status looks a previously processed request up in the history.
func (o *Orchestrator) Status(requestID string) (models.DetectionResponse, error) {
	return o.history.Get(requestID)
}

// HealthSummary is the operator-facing view of engine health.
type HealthSummary struct {
	Status         string                                      `json:"status"`
	TotalEngines   int                                         `json:"total_engines"`
	HealthyEngines int                                         `json:"healthy_engines"`
	Engines        map[models.Capability][]models.EngineHealth `json:"engines"`
	BreakerStates  map[string]breaker.State                    `json:"breaker_states"`
}

func (o *Orchestrator) Health() HealthSummary {
	snapshot := o.monitor.Snapshot()
	summary := HealthSummary{
		Engines:       snapshot,
		BreakerStates: o.breakers.States(),
	}
	for _, group := range snapshot {
		for _, h := range group {
			summary.TotalEngines++
			if h.Healthy {
				summary.HealthyEngines++
			}
		}
	}
	if summary.HealthyEngines == summary.TotalEngines {
		summary.Status = "healthy"
	} else {
		summary.Status = "degraded"
	}
	return summary
}

func (o *Orchestrator) Metrics() models.OrchestratorMetrics {
	return o.collector.Snapshot()
}

func (o *Orchestrator) Models() map[models.Capability][]models.ModelVersion {
	return o.registry.All()
}

func dedupe(capabilities []models.Capability) []models.Capability {
	seen := make(map[models.Capability]struct{}, len(capabilities))
	out := make([]models.Capability, 0, len(capabilities))
	for _, c := range capabilities {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
