// Package anchor ties comment threads to the document: it keeps the reverse
// index from annotation IDs to the mark nodes carrying them, keeps that index
// in step with every committed update, and tracks which annotations the
// current selection activates.
package anchor

import (
	"maps"
	"slices"
	"sync"

	"marginalia/internal/doc"
)

// Index maps annotation IDs to the live mark nodes carrying them. It is
// derived from the document and only the Synchronizer writes to it.
type Index struct {
	mu      sync.RWMutex
	byID    map[string]map[doc.NodeKey]struct{}
	lastIDs map[doc.NodeKey][]string
}

func NewIndex() *Index {
	return &Index{
		byID:    map[string]map[doc.NodeKey]struct{}{},
		lastIDs: map[doc.NodeKey][]string{},
	}
}

// Keys returns the marks carrying id in ascending key order.
func (ix *Index) Keys(id string) []doc.NodeKey {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return slices.Sorted(maps.Keys(ix.byID[id]))
}

func (ix *Index) Has(id string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.byID[id]
	return ok
}

// IDs lists the indexed annotation IDs in sorted order.
func (ix *Index) IDs() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return slices.Sorted(maps.Keys(ix.byID))
}

// Snapshot copies the whole index.
func (ix *Index) Snapshot() map[string][]doc.NodeKey {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make(map[string][]doc.NodeKey, len(ix.byID))
	for id, keys := range ix.byID {
		out[id] = slices.Sorted(maps.Keys(keys))
	}
	return out
}

// Len is the number of indexed IDs.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.byID)
}

// set records that key now carries exactly ids.
func (ix *Index) set(key doc.NodeKey, ids []string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, id := range ix.lastIDs[key] {
		if !slices.Contains(ids, id) {
			ix.unlinkLocked(id, key)
		}
	}
	for _, id := range ids {
		keys, ok := ix.byID[id]
		if !ok {
			keys = map[doc.NodeKey]struct{}{}
			ix.byID[id] = keys
		}
		keys[key] = struct{}{}
	}
	ix.lastIDs[key] = slices.Clone(ids)
}

// evict forgets key entirely.
func (ix *Index) evict(key doc.NodeKey) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, id := range ix.lastIDs[key] {
		ix.unlinkLocked(id, key)
	}
	delete(ix.lastIDs, key)
}

func (ix *Index) unlinkLocked(id string, key doc.NodeKey) {
	keys := ix.byID[id]
	delete(keys, key)
	if len(keys) == 0 {
		delete(ix.byID, id)
	}
}
