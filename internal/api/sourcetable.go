package api

import (
	"sync"

	"github.com/google/btree"

	"github.com/compcache/compcache/types"
)

// SourceTable holds pending in-memory compile units so later resolves in
// the same process compile together with earlier, possibly mutually
// referential ones. Only used when no staging directory is configured.
type SourceTable struct {
	mu    sync.Mutex
	units *btree.BTreeG[types.CompileUnit]
}

func unitLess(a, b types.CompileUnit) bool { return a.Name < b.Name }

func NewSourceTable() *SourceTable {
	return &SourceTable{units: btree.NewG(2, unitLess)}
}

// Put registers or overwrites the pending unit for name.
func (t *SourceTable) Put(name, source string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.units.ReplaceOrInsert(types.CompileUnit{Name: name, Source: source})
}

// Remove drops the pending unit for name. Called after a failed compile
// so one broken unit does not poison every later pass.
func (t *SourceTable) Remove(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.units.Delete(types.CompileUnit{Name: name})
}

// Snapshot returns a stable, name-ordered copy of the pending units. The
// compiler iterates the copy, so concurrent Puts during a slow pass are
// harmless.
func (t *SourceTable) Snapshot() []types.CompileUnit {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]types.CompileUnit, 0, t.units.Len())
	t.units.Ascend(func(u types.CompileUnit) bool {
		out = append(out, u)
		return true
	})
	return out
}

// Len returns the number of pending units.
func (t *SourceTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.units.Len()
}
