package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNoHealthyEngine means every candidate endpoint for a capability is
	// circuit-open or disabled. Surfaced as an EngineResult error, never as
	// a hard failure of the whole request.
	ErrNoHealthyEngine = errors.New("no healthy engine available")

	// ErrUnknownCapability means no model was ever registered for the
	// capability. A configuration error, fatal only to that capability.
	ErrUnknownCapability = errors.New("unknown capability")

	// ErrRequestNotFound is returned by history lookups for ids that were
	// never stored or have been evicted.
	ErrRequestNotFound = errors.New("detection request not found")
)

func NoHealthyEngine(c Capability) error {
	return fmt.Errorf("%w for capability %q", ErrNoHealthyEngine, c)
}

func UnknownCapability(c Capability) error {
	return fmt.Errorf("%w: %q", ErrUnknownCapability, c)
}
