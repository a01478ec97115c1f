package contract

import (
	"strings"
	"sync"
)

// Set is the finite contract lookup built once at startup. Lookups by
// resource key and by route are case-insensitive. A Set never serves a
// contract that failed validation; the builder guarantees that.
type Set struct {
	mu      sync.RWMutex
	byKey   map[string]*Resource
	byRoute map[string]*Resource
	keys    []string
}

// NewSet creates a lookup over the given resources. Uniqueness of keys
// and routes has already been enforced by the builder's validation pass.
func NewSet(resources []*Resource) *Set {
	s := &Set{
		byKey:   make(map[string]*Resource, len(resources)),
		byRoute: make(map[string]*Resource, len(resources)),
	}
	for _, rc := range resources {
		s.byKey[strings.ToLower(rc.ResourceKey)] = rc
		s.byRoute[strings.ToLower(rc.Route)] = rc
		s.keys = append(s.keys, rc.ResourceKey)
	}
	return s
}

// ByKey returns the contract for the given resource key.
func (s *Set) ByKey(key string) (*Resource, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rc, ok := s.byKey[strings.ToLower(key)]
	return rc, ok
}

// ByRoute returns the contract for the given route segment.
func (s *Set) ByRoute(route string) (*Resource, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rc, ok := s.byRoute[strings.ToLower(route)]
	return rc, ok
}

// Keys returns the resource keys in registration order.
func (s *Set) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, len(s.keys))
	copy(keys, s.keys)
	return keys
}

// Replace swaps the contract for a resource key. This is how rebuilt
// dynamic contracts go live after their backing definition changed; the
// old contract keeps serving in-flight requests.
func (s *Set) Replace(rc *Resource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(rc.ResourceKey)
	if _, known := s.byKey[key]; !known {
		s.keys = append(s.keys, rc.ResourceKey)
	} else {
		for route, old := range s.byRoute {
			if strings.EqualFold(old.ResourceKey, rc.ResourceKey) {
				delete(s.byRoute, route)
			}
		}
	}
	s.byKey[key] = rc
	s.byRoute[strings.ToLower(rc.Route)] = rc
}

// Remove drops the contract for a resource key, e.g. after its dynamic
// definition was deleted.
func (s *Set) Remove(resourceKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(resourceKey)
	rc, ok := s.byKey[key]
	if !ok {
		return
	}
	delete(s.byKey, key)
	delete(s.byRoute, strings.ToLower(rc.Route))
	for i, k := range s.keys {
		if strings.EqualFold(k, resourceKey) {
			s.keys = append(s.keys[:i], s.keys[i+1:]...)
			break
		}
	}
}
