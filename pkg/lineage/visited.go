package lineage

import (
	"slices"
	"sync"
)

// VisitedSet records identities already enqueued during one traversal.
// An identity is added at most once. The zero value is not usable; use
// NewVisitedSet.
type VisitedSet struct {
	mu    sync.Mutex
	order []string
	seen  map[string]struct{}
}

func NewVisitedSet() *VisitedSet {
	return &VisitedSet{seen: make(map[string]struct{})}
}

// Add inserts id and reports whether it was new.
func (v *VisitedSet) Add(id string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.seen[id]; ok {
		return false
	}
	v.seen[id] = struct{}{}
	v.order = append(v.order, id)
	return true
}

func (v *VisitedSet) Contains(id string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.seen[id]
	return ok
}

func (v *VisitedSet) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.seen)
}

// IDs returns the identities in insertion order.
func (v *VisitedSet) IDs() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.order)
}
