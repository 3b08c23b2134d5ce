package models

import "time"

// Capability is a category of detection task backed by one or more engines.
type Capability string

const (
	CapabilityDamage   Capability = "damage"
	CapabilityMaterial Capability = "material"
	CapabilityVolume   Capability = "volume"
)

// AllCapabilities lists every supported capability.
var AllCapabilities = []Capability{CapabilityDamage, CapabilityMaterial, CapabilityVolume}

func (c Capability) Valid() bool {
	switch c {
	case CapabilityDamage, CapabilityMaterial, CapabilityVolume:
		return true
	}
	return false
}

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

type DetectionStatus string

const (
	StatusQueued     DetectionStatus = "queued"
	StatusProcessing DetectionStatus = "processing"
	StatusCompleted  DetectionStatus = "completed"
	StatusFailed     DetectionStatus = "failed"
	StatusPartial    DetectionStatus = "partial"
)

// ModelVersion describes one deployed engine model. Immutable once registered.
type ModelVersion struct {
	Name                string     `json:"name"`
	Version             string     `json:"version"`
	Capability          Capability `json:"capability"`
	Endpoint            string     `json:"endpoint"`
	ConfidenceThreshold float64    `json:"confidence_threshold"`
	Enabled             bool       `json:"enabled"`
}

// ABTestConfig routes a fraction of traffic to ModelA instead of default
// load balancing. TrafficSplit is the probability of choosing ModelA.
type ABTestConfig struct {
	ExperimentID string       `json:"experiment_id"`
	ModelA       ModelVersion `json:"model_a"`
	ModelB       ModelVersion `json:"model_b"`
	TrafficSplit float64      `json:"traffic_split"`
	Enabled      bool         `json:"enabled"`
}

type DetectionRequest struct {
	PhotoID      string            `json:"photo_id"`
	PhotoURL     string            `json:"photo_url"`
	Capabilities []Capability      `json:"capabilities"`
	Priority     Priority          `json:"priority"`
	Metadata     map[string]string `json:"metadata"`
}

// EngineResult is the outcome of a single capability call. Error is set when
// the call failed; the payload is opaque to the orchestrator.
type EngineResult struct {
	Capability       Capability     `json:"capability"`
	ModelVersion     string         `json:"model_version"`
	Confidence       float64        `json:"confidence"`
	Results          map[string]any `json:"results"`
	ProcessingTimeMS int64          `json:"processing_time_ms"`
	Error            string         `json:"error,omitempty"`
}

type DetectionResponse struct {
	RequestID        string                      `json:"request_id"`
	DetectionID      string                      `json:"detection_id"`
	PhotoID          string                      `json:"photo_id"`
	Status           DetectionStatus             `json:"status"`
	Results          map[Capability]EngineResult `json:"results"`
	ProcessingTimeMS int64                       `json:"processing_time_ms"`
	ModelVersions    map[Capability]string       `json:"model_versions"`
	Timestamp        time.Time                   `json:"timestamp"`
	CorrelationID    string                      `json:"correlation_id,omitempty"`
	Error            string                      `json:"error,omitempty"`
}

// EngineHealth is the monitor's view of one (capability, endpoint) pair.
// Records are created once and updated in place for the process lifetime.
type EngineHealth struct {
	Capability          Capability `json:"capability"`
	Endpoint            string     `json:"endpoint"`
	Healthy             bool       `json:"healthy"`
	LastCheck           time.Time  `json:"last_check"`
	ResponseTimeMS      int64      `json:"response_time_ms"`
	ErrorCount          int        `json:"error_count"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
}

type EngineMetrics struct {
	TotalRequests int64   `json:"total_requests"`
	ErrorCount    int64   `json:"error_count"`
	ErrorRate     float64 `json:"error_rate"`
	AvgLatencyMS  float64 `json:"avg_latency_ms"`
	AvgConfidence float64 `json:"avg_confidence"`
}

// OrchestratorMetrics is derived on demand from the collector's sample
// windows; it is never authoritative storage of raw events.
type OrchestratorMetrics struct {
	TotalRequests      int64                        `json:"total_requests"`
	SuccessfulRequests int64                        `json:"successful_requests"`
	FailedRequests     int64                        `json:"failed_requests"`
	AvgLatencyMS       float64                      `json:"avg_latency_ms"`
	P50LatencyMS       float64                      `json:"p50_latency_ms"`
	P90LatencyMS       float64                      `json:"p90_latency_ms"`
	P95LatencyMS       float64                      `json:"p95_latency_ms"`
	ErrorRate          float64                      `json:"error_rate"`
	EngineMetrics      map[Capability]EngineMetrics `json:"engine_metrics"`
}
