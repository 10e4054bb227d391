package orglock

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

// Registry serializes all state mutation for a single organization.
// Webhook processing and user-initiated commands acquire the same lock, so
// a UI undo cannot race a concurrently arriving provider event. Events for
// distinct organizations proceed in parallel.
type Registry struct {
	mu    sync.Mutex
	locks map[snowflake.ID]*sync.Mutex
}

func NewRegistry() *Registry {
	return &Registry{locks: make(map[snowflake.ID]*sync.Mutex)}
}

func (r *Registry) Lock(orgID snowflake.ID) func() {
	r.mu.Lock()
	lock, ok := r.locks[orgID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[orgID] = lock
	}
	r.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
