package breaker

import (
	"log"
	"sync"
	"time"
)

type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

type Settings struct {
	// FailureThreshold is the failure count that trips CLOSED -> OPEN.
	FailureThreshold int
	// RecoveryTimeout is how long an OPEN breaker waits before allowing a
	// half-open probe.
	RecoveryTimeout time.Duration
}

func DefaultSettings() Settings {
	return Settings{FailureThreshold: 5, RecoveryTimeout: 60 * time.Second}
}

// Breaker is the failure-isolation state machine for one engine endpoint.
// In HALF_OPEN at most one probe call is in flight at a time; concurrent
// callers are rejected until the probe resolves.
type Breaker struct {
	mu            sync.Mutex
	settings      Settings
	state         State
	failureCount  int
	openedAt      time.Time
	probeInFlight bool
	endpoint      string
}

func New(endpoint string, settings Settings) *Breaker {
	if settings.FailureThreshold < 1 {
		settings.FailureThreshold = 1
	}
	return &Breaker{
		settings: settings,
		state:    StateClosed,
		endpoint: endpoint,
	}
}

// AllowRequest reports whether a call to the endpoint may proceed. When an
// OPEN breaker's recovery timeout has elapsed it transitions to HALF_OPEN
// and admits exactly one caller as the probe; everyone else fails fast.
func (b *Breaker) AllowRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.openedAt) >= b.settings.RecoveryTimeout {
			log.Printf("Circuit breaker for %s entering half-open", b.endpoint)
			b.state = StateHalfOpen
			b.probeInFlight = true
			return true
		}
		return false
	case StateHalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true
	}
	return false
}

// RecordSuccess closes the breaker after a successful half-open probe and
// resets the failure count. A success while CLOSED changes nothing: only a
// transition into CLOSED clears the counter.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		log.Printf("Circuit breaker for %s recovered, closing", b.endpoint)
		b.state = StateClosed
		b.failureCount = 0
		b.probeInFlight = false
	}
}

// RecordFailure counts a failed call. A failed half-open probe reopens the
// breaker immediately; a CLOSED breaker opens once the threshold is reached.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	switch b.state {
	case StateHalfOpen:
		log.Printf("Circuit breaker for %s probe failed, reopening", b.endpoint)
		b.state = StateOpen
		b.openedAt = time.Now()
		b.probeInFlight = false
	case StateClosed:
		if b.failureCount >= b.settings.FailureThreshold {
			log.Printf("Circuit breaker for %s opened after %d failures", b.endpoint, b.failureCount)
			b.state = StateOpen
			b.openedAt = time.Now()
		}
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}
