// Package api implements the compilation cache core: the per-scope
// artifact cache, the virtual output store a compile pass writes into,
// the pending source table, and the staging-directory persistence.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/compcache/compcache/types"
)

// Cache orchestrates resolve calls: cache check, compile, harvest,
// idempotent define, cache population. One Cache serves any number of
// scopes; per-scope state lives in the weak registry.
type Cache struct {
	cfg     types.CacheConfig
	reg     *Registry
	staging *Staging
	logger  *slog.Logger
}

// NewCache creates a cache from cfg. When both staging directories are
// configured the staging area is initialized and locked.
func NewCache(cfg types.CacheConfig) (*Cache, error) {
	cfg = cfg.WithDefaults()
	c := &Cache{
		cfg:    cfg,
		reg:    NewRegistry(cfg.HarvestTimeout, cfg.Logger),
		logger: cfg.Logger,
	}
	if cfg.Staging() {
		st, err := InitStaging(cfg)
		if err != nil {
			return nil, err
		}
		c.staging = st
	}
	return c, nil
}

// Release frees the staging lock, if any.
func (c *Cache) Release() error {
	return c.staging.Release()
}

// Staging returns the staging area, or nil in in-memory mode.
func (c *Cache) Staging() *Staging { return c.staging }

// Cached returns the loaded handle for name in scope, if present.
func (c *Cache) Cached(scope *types.Scope, name string) (types.Handle, bool) {
	st := c.reg.state(scope)
	st.mu.Lock()
	defer st.mu.Unlock()
	h, ok := st.loaded[name]
	return h, ok
}

// LoadedNames returns the sorted names defined in scope so far.
func (c *Cache) LoadedNames(scope *types.Scope) []string {
	st := c.reg.state(scope)
	st.mu.Lock()
	defer st.mu.Unlock()
	names := make([]string, 0, len(st.loaded))
	for n := range st.loaded {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ClearBuffers drops every output buffer of the scope. Frees memory held
// by past compile passes; safe because defined artifacts live in the
// loaded map, independent of the buffers.
func (c *Cache) ClearBuffers(scope *types.Scope) {
	c.reg.state(scope).out.Clear()
}

// PendingUnits returns the number of pending in-memory source units for
// the scope.
func (c *Cache) PendingUnits(scope *types.Scope) int {
	return c.reg.state(scope).sources.Len()
}

// Scopes returns the number of live scopes known to the cache.
func (c *Cache) Scopes() int { return c.reg.Len() }

// Resolve returns the artifact handle for name in scope, compiling source
// on a cache miss. Repeat calls for a loaded name return the cached
// handle without consulting the compiler, even when the new source text
// differs. Concurrent resolves of the same (scope, name) trigger at most
// one compile pass; the rest observe the winner's result.
//
// userSink, when non-nil, receives the raw diagnostic stream of a compile
// pass regardless of outcome. comp runs the pass; the caller resolves the
// process-wide default before getting here.
func (c *Cache) Resolve(ctx context.Context, scope *types.Scope, name, source string,
	userSink types.DiagnosticsSink, comp types.Compiler,
) (types.Handle, error) {
	if comp == nil {
		return nil, fmt.Errorf("no compiler configured")
	}
	st := c.reg.state(scope)

	// Common path: repeat call for an already-loaded name.
	st.mu.Lock()
	if h, ok := st.loaded[name]; ok {
		st.mu.Unlock()
		return h, nil
	}
	st.mu.Unlock()

	// Serialize the miss path per name so a batch of identical
	// concurrent resolves compiles once.
	lock := st.buildLock(name)
	lock.Lock()
	defer lock.Unlock()

	st.mu.Lock()
	if h, ok := st.loaded[name]; ok {
		st.mu.Unlock()
		return h, nil
	}
	st.mu.Unlock()

	collector := &types.DiagnosticCollector{}
	sink := types.TeeDiagnostics(collector, userSink)

	var units []types.CompileUnit
	if c.staging != nil {
		path, err := c.staging.WriteSource(name, source)
		if err != nil {
			return nil, err
		}
		units = []types.CompileUnit{{Name: name, Source: source, Path: path}}
	} else {
		st.sources.Put(name, source)
		units = st.sources.Snapshot()
	}

	if ok := comp.Compile(ctx, units, st.out, sink); !ok {
		// Exclude the broken unit from future passes; earlier units
		// stay pending and unrelated resolves remain unaffected.
		if c.staging == nil {
			st.sources.Remove(name)
		}
		return nil, &types.BuildError{Unit: name, Diagnostics: collector.Errors()}
	}

	harvested, timedOut, err := st.out.HarvestAll(ctx)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(harvested))
	for n := range harvested {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, hn := range names {
		code := harvested[hn]
		st.mu.Lock()
		_, loaded := st.loaded[hn]
		st.mu.Unlock()
		if loaded {
			continue
		}
		if c.staging != nil {
			if err := c.staging.WriteArtifact(hn, code); err != nil {
				c.logger.Warn("could not stage artifact", "artifact", hn, "error", err)
			}
		}
		if _, err := c.define(scope, st, hn, code); err != nil {
			return nil, err
		}
	}

	st.mu.Lock()
	h, ok := st.loaded[name]
	st.mu.Unlock()
	if ok {
		return h, nil
	}

	// The pass did not emit name as a distinct artifact. It may still be
	// a name the scope could already see; ordinary lookup covers that,
	// and the result is cached like a built artifact.
	if h, err := scope.Lookup(name); err == nil {
		st.mu.Lock()
		st.loaded[name] = h
		st.mu.Unlock()
		return h, nil
	}
	for _, tn := range timedOut {
		if tn == name {
			return nil, &types.TimeoutError{Name: name, Timeout: c.cfg.HarvestTimeout}
		}
	}
	return nil, &types.NotFoundError{Name: name}
}

// define injects code under name exactly once per scope. The first caller
// to claim the name runs the define primitive while holding no locks;
// racing callers wait on the claim and observe the winner's result. A
// rejected define is fatal and propagated to every waiter.
func (c *Cache) define(scope *types.Scope, st *scopeState, name string, code []byte) (types.Handle, error) {
	st.mu.Lock()
	if h, ok := st.loaded[name]; ok {
		st.mu.Unlock()
		return h, nil
	}
	op, inflight := st.defining[name]
	if !inflight {
		op = &defineOp{done: make(chan struct{})}
		st.defining[name] = op
	}
	st.mu.Unlock()

	if inflight {
		<-op.done
		return op.handle, op.err
	}

	h, err := scope.Define(name, code)
	if err != nil {
		err = &types.DefineError{Name: name, Err: err}
	}

	st.mu.Lock()
	if err == nil {
		st.loaded[name] = h
	}
	delete(st.defining, name)
	st.mu.Unlock()

	op.handle, op.err = h, err
	close(op.done)
	return h, err
}
