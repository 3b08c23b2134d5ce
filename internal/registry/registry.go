package registry

import (
	"log"
	"sync"

	"jobsight/orchestrator/internal/models"
)

// Registry is the catalog of model versions per capability, plus any A/B
// experiments layered on top. Writes are rare (boot or admin reload), reads
// happen on every request.
type Registry struct {
	mu      sync.RWMutex
	models  map[models.Capability][]models.ModelVersion
	abTests map[string]models.ABTestConfig
}

func New() *Registry {
	return &Registry{
		models:  make(map[models.Capability][]models.ModelVersion),
		abTests: make(map[string]models.ABTestConfig),
	}
}

// Register adds a model version under its capability. Registration is
// idempotent by (name, version): re-registering replaces the existing entry
// in place, keeping its position in the round-robin order.
func (r *Registry) Register(mv models.ModelVersion) {
	r.mu.Lock()
	defer r.mu.Unlock()

	versions := r.models[mv.Capability]
	for i, existing := range versions {
		if existing.Name == mv.Name && existing.Version == mv.Version {
			versions[i] = mv
			log.Printf("Updated model %s %s for %s", mv.Name, mv.Version, mv.Capability)
			return
		}
	}
	r.models[mv.Capability] = append(versions, mv)
	log.Printf("Registered model %s %s for %s at %s", mv.Name, mv.Version, mv.Capability, mv.Endpoint)
}

// List returns the enabled model versions for a capability in registration
// order. Returns ErrUnknownCapability when nothing was ever registered.
func (r *Registry) List(capability models.Capability) ([]models.ModelVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions, ok := r.models[capability]
	if !ok {
		return nil, models.UnknownCapability(capability)
	}
	enabled := make([]models.ModelVersion, 0, len(versions))
	for _, mv := range versions {
		if mv.Enabled {
			enabled = append(enabled, mv)
		}
	}
	return enabled, nil
}

// Get returns the named model for a capability, or the latest enabled one
// when name is empty.
func (r *Registry) Get(capability models.Capability, name string) (models.ModelVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions, ok := r.models[capability]
	if !ok {
		return models.ModelVersion{}, models.UnknownCapability(capability)
	}
	if name == "" {
		for i := len(versions) - 1; i >= 0; i-- {
			if versions[i].Enabled {
				return versions[i], nil
			}
		}
		return models.ModelVersion{}, models.NoHealthyEngine(capability)
	}
	for _, mv := range versions {
		if mv.Name == name {
			return mv, nil
		}
	}
	return models.ModelVersion{}, models.UnknownCapability(capability)
}

// All returns every registered version, including disabled ones.
func (r *Registry) All() map[models.Capability][]models.ModelVersion {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[models.Capability][]models.ModelVersion, len(r.models))
	for capability, versions := range r.models {
		out[capability] = append([]models.ModelVersion(nil), versions...)
	}
	return out
}

// SetABTest installs or replaces an experiment keyed by its id.
func (r *Registry) SetABTest(cfg models.ABTestConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.abTests[cfg.ExperimentID] = cfg
	log.Printf("A/B test %s: %s vs %s split=%.2f enabled=%v",
		cfg.ExperimentID, cfg.ModelA.Name, cfg.ModelB.Name, cfg.TrafficSplit, cfg.Enabled)
}

// ABTestFor returns the enabled experiment targeting a capability, if any.
func (r *Registry) ABTestFor(capability models.Capability) (models.ABTestConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, cfg := range r.abTests {
		if cfg.Enabled && cfg.ModelA.Capability == capability {
			return cfg, true
		}
	}
	return models.ABTestConfig{}, false
}
