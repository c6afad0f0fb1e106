package connection

import (
	"sort"
	"sync"
)

// BlockList is the set of blocked user identifiers.
type BlockList struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewBlockList creates a block list holding ids.
func NewBlockList(ids ...string) *BlockList {
	b := &BlockList{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		b.Add(id)
	}
	return b
}

// Add blocks id. It reports whether id was newly added.
func (b *BlockList) Add(id string) bool {
	if id == "" {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.ids[id]; ok {
		return false
	}
	b.ids[id] = struct{}{}
	return true
}

// Remove unblocks id. It reports whether id was blocked.
func (b *BlockList) Remove(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.ids[id]; !ok {
		return false
	}
	delete(b.ids, id)
	return true
}

// Contains reports whether id is blocked.
func (b *BlockList) Contains(id string) bool {
	if id == "" {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.ids[id]
	return ok
}

// Any reports whether any of ids is blocked.
func (b *BlockList) Any(ids ...string) bool {
	for _, id := range ids {
		if b.Contains(id) {
			return true
		}
	}
	return false
}

// List returns the blocked ids sorted.
func (b *BlockList) List() []string {
	b.mu.RLock()
	out := make([]string, 0, len(b.ids))
	for id := range b.ids {
		out = append(out, id)
	}
	b.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Len returns the number of blocked ids.
func (b *BlockList) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.ids)
}
