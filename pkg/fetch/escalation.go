package fetch

import (
	"sort"
	"sync"
)

// EscalationState remembers which domains must be fetched through the
// rendered path. Flags are never cleared during a run. Safe for concurrent use.
type EscalationState struct {
	mu      sync.RWMutex
	domains map[string]bool
}

// NewEscalationState creates an empty state, optionally pre-seeded with domains.
func NewEscalationState(domains ...string) *EscalationState {
	s := &EscalationState{domains: make(map[string]bool, len(domains))}
	for _, d := range domains {
		if d != "" {
			s.domains[d] = true
		}
	}
	return s
}

// IsEscalated reports whether domain must use the rendered path.
func (s *EscalationState) IsEscalated(domain string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.domains[domain]
}

// Escalate flags domain. Returns true only for the call that set the flag.
func (s *EscalationState) Escalate(domain string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.domains[domain] {
		return false
	}
	s.domains[domain] = true
	return true
}

// Domains returns the escalated domains in sorted order.
func (s *EscalationState) Domains() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.domains))
	for d := range s.domains {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
