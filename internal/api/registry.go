package api

import (
	"log/slog"
	"runtime"
	"sync"
	"time"
	"weak"

	"github.com/compcache/compcache/types"
)

// scopeState is the per-scope private state of the cache: the loaded
// artifact handles, the virtual output store the compiler writes into,
// the pending source units, and the per-name lock tables.
type scopeState struct {
	mu     sync.Mutex
	loaded map[string]types.Handle
	// building serializes the miss path per name so a batch of identical
	// concurrent resolves triggers at most one compile pass.
	building map[string]*sync.Mutex
	// defining tracks in-flight define claims; the first claimant runs
	// the define primitive, later ones wait for its result.
	defining map[string]*defineOp

	out     *OutputStore
	sources *SourceTable
}

type defineOp struct {
	done   chan struct{}
	handle types.Handle
	err    error
}

// buildLock returns the mutex serializing builds of name in this scope.
// Lock entries are retained for the scope's lifetime, bounded by the set
// of names ever resolved through it.
func (st *scopeState) buildLock(name string) *sync.Mutex {
	st.mu.Lock()
	defer st.mu.Unlock()
	l, ok := st.building[name]
	if !ok {
		l = &sync.Mutex{}
		st.building[name] = l
	}
	return l
}

// Registry maps scope identities to their private cache state. Scopes are
// held weakly: the entry is purged when the scope is collected, and the
// registry is never the reason a scope stays alive.
type Registry struct {
	mu     sync.Mutex
	scopes map[weak.Pointer[types.Scope]]*scopeState

	timeout time.Duration
	logger  *slog.Logger
}

func NewRegistry(harvestTimeout time.Duration, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		scopes:  make(map[weak.Pointer[types.Scope]]*scopeState),
		timeout: harvestTimeout,
		logger:  logger,
	}
}

// state returns the scope's cache state, creating it on first use. The
// cleanup registered on the scope removes the entry once the last strong
// reference to the scope is gone.
func (r *Registry) state(scope *types.Scope) *scopeState {
	key := weak.Make(scope)
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.scopes[key]; ok {
		return st
	}
	st := &scopeState{
		loaded:   make(map[string]types.Handle),
		building: make(map[string]*sync.Mutex),
		defining: make(map[string]*defineOp),
		out:      NewOutputStore(r.timeout, r.logger),
		sources:  NewSourceTable(),
	}
	r.scopes[key] = st
	runtime.AddCleanup(scope, func(k weak.Pointer[types.Scope]) {
		r.mu.Lock()
		delete(r.scopes, k)
		r.mu.Unlock()
	}, key)
	return st
}

// Len returns the number of live scope entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.scopes)
}
