package resilience

import (
	"sort"
	"sync"
)

// Group keeps one breaker per key, created on first use with shared settings
type Group struct {
	settings Settings

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewGroup creates an empty group
func NewGroup(settings Settings) *Group {
	return &Group{
		settings: settings,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for key, creating it if needed
func (g *Group) Get(key string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.breakers[key]
	if !ok {
		b = New(key, g.settings)
		g.breakers[key] = b
	}
	return b
}

// Remove forgets the breaker for key
func (g *Group) Remove(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.breakers, key)
}

// Keys returns the tracked keys, sorted
func (g *Group) Keys() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	keys := make([]string, 0, len(g.breakers))
	for k := range g.breakers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
