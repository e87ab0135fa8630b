package staking

// Registry is the set of participant ids with nonzero stake. Participant
// records live in the ledger's arena and are never deleted; the registry
// only tracks which of them are currently active. Membership, insertion
// and removal are all O(1), and no iteration order is guaranteed.
type Registry struct {
	ids map[uint32]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ids: make(map[uint32]struct{})}
}

// Contains reports whether the id is registered.
func (r *Registry) Contains(id uint32) bool {
	_, ok := r.ids[id]
	return ok
}

// Add registers an id. No-op if already present.
func (r *Registry) Add(id uint32) {
	r.ids[id] = struct{}{}
}

// Remove deregisters an id. No-op if absent.
func (r *Registry) Remove(id uint32) {
	delete(r.ids, id)
}

// Len returns the number of active stakers.
func (r *Registry) Len() int {
	return len(r.ids)
}

// IDs returns the registered ids in unspecified order.
func (r *Registry) IDs() []uint32 {
	out := make([]uint32, 0, len(r.ids))
	for id := range r.ids {
		out = append(out, id)
	}
	return out
}
