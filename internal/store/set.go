package store

import "sync"

// Set is an unordered collection of unique text members.
type Set struct {
	mu      sync.RWMutex
	members map[string]struct{}
}

// NewSet creates a new empty Set.
func NewSet() *Set {
	return &Set{
		members: make(map[string]struct{}),
	}
}

// Add adds one or more members. Returns the number of members actually added (not already present).
// Duplicates within members count once.
func (s *Set) Add(members ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	added := 0
	for _, m := range members {
		if _, exists := s.members[m]; !exists {
			s.members[m] = struct{}{}
			added++
		}
	}
	return added
}

// IsMember returns true if the member exists in the set.
func (s *Set) IsMember(member string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.members[member]
	return exists
}

// Card returns the number of members in the set.
func (s *Set) Card() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.members)
}
