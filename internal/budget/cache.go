package budget

import (
	"sync"
	"time"

	"github.com/samijaber1/cellguard/internal/storage"
)

// State is a cached budget along with when it was cached.
type State struct {
	Budget    storage.ErrorBudget
	UpdatedAt time.Time
	TTL       time.Duration
}

// IsStale returns true if the cached state is older than its TTL
func (s *State) IsStale(now time.Time) bool {
	return now.Sub(s.UpdatedAt) > s.TTL
}

// Cache is a thread-safe cache of evaluated budgets keyed by service id.
type Cache struct {
	mu     sync.RWMutex
	states map[int64]*State
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		states: make(map[int64]*State),
	}
}

// Get retrieves cached state for a service.
func (c *Cache) Get(serviceID int64) (*State, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	state, exists := c.states[serviceID]
	return state, exists
}

// Set stores state for a service.
func (c *Cache) Set(serviceID int64, state *State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.states[serviceID] = state
}

// Delete removes a cached state.
func (c *Cache) Delete(serviceID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.states, serviceID)
}

// Size returns the number of cached states.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.states)
}
