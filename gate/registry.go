package gate

import "sync"

// key identifies an in-flight mutation by its (tenant, table, field) tuple
type key struct {
	tenantID string
	table    string
	field    string
}

/*
InFlightRegistry enforces per-key mutual exclusion: at most one mutation may
be in flight for a given (tenant, table, field) tuple at any time. Lock
scope is exactly one key, released on completion or failure, never held
across a cycle boundary.
*/
type InFlightRegistry struct {
	mu   sync.Mutex
	keys map[key]struct{}
}

// NewInFlightRegistry creates an empty registry
func NewInFlightRegistry() *InFlightRegistry {
	return &InFlightRegistry{keys: make(map[key]struct{})}
}

/*
TryAcquire claims the key if no mutation for it is in flight. Failure to
acquire is an expected, non-exceptional outcome, not an error.
*/
func (r *InFlightRegistry) TryAcquire(tenantID, table, field string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{tenantID: tenantID, table: table, field: field}
	if _, held := r.keys[k]; held {
		return false
	}

	r.keys[k] = struct{}{}
	return true
}

// Release frees the key for the next mutation
func (r *InFlightRegistry) Release(tenantID, table, field string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.keys, key{tenantID: tenantID, table: table, field: field})
}

// Count returns the number of mutations currently in flight
func (r *InFlightRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keys)
}
