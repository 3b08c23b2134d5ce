package breaker

import "sync"

// Set holds one breaker per endpoint, created lazily so request traffic and
// health probing always observe the same state machine for an endpoint.
type Set struct {
	mu       sync.Mutex
	settings Settings
	breakers map[string]*Breaker
}

func NewSet(settings Settings) *Set {
	return &Set{
		settings: settings,
		breakers: make(map[string]*Breaker),
	}
}

func (s *Set) Get(endpoint string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.breakers[endpoint]
	if !ok {
		b = New(endpoint, s.settings)
		s.breakers[endpoint] = b
	}
	return b
}

// States returns the current state per endpoint.
func (s *Set) States() map[string]State {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]State, len(s.breakers))
	for endpoint, b := range s.breakers {
		out[endpoint] = b.State()
	}
	return out
}
