package jit

import (
	"sync"
	"sync/atomic"

	"github.com/google/btree"
)

// Handle is the opaque immediate that emitted code carries in place of a
// Go pointer. Handles are unique across all pin tables.
type Handle uint64

const handleBase Handle = 0x5eed << 48

var nextHandle atomic.Uint64

type pinned struct {
	handle Handle
	value  any
}

// PinTable keeps every object whose identity is baked into a code block
// alive and resolvable for as long as the code block is.
type PinTable struct {
	mu    sync.RWMutex
	tree  *btree.BTreeG[pinned]
	index map[any]Handle
}

// NewPinTable creates an empty table
func NewPinTable() *PinTable {
	return &PinTable{
		tree: btree.NewG[pinned](8, func(a, b pinned) bool {
			return a.handle < b.handle
		}),
		index: make(map[any]Handle),
	}
}

// Pin records v and returns its handle. Pinning the same pointer twice
// returns the same handle. v must be comparable.
func (t *PinTable) Pin(v any) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	if h, ok := t.index[v]; ok {
		return h
	}
	h := handleBase | Handle(nextHandle.Add(1))
	t.tree.ReplaceOrInsert(pinned{handle: h, value: v})
	t.index[v] = h
	return h
}

// Lookup returns the object pinned under h
func (t *PinTable) Lookup(h uint64) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p, ok := t.tree.Get(pinned{handle: Handle(h)})
	return p.value, ok
}

// Len returns the number of pinned objects
func (t *PinTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tree.Len()
}

// Ascend calls fn for each pinned object in handle order until fn returns false
func (t *PinTable) Ascend(fn func(h Handle, v any) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	t.tree.Ascend(func(p pinned) bool {
		return fn(p.handle, p.value)
	})
}
