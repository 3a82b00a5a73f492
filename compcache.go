// Package compcache is a runtime source-to-artifact compilation cache:
// given a unit name and source text it produces a loadable artifact
// handle, reusing previously built artifacts and guaranteeing that
// concurrent requests for the same unit trigger at most one build.
//
// The actual compiler and the mechanism injecting artifact bytes into an
// executable scope are pluggable collaborators (types.Compiler and
// types.Definer); a wazero-backed reference pair ships with the module.
package compcache

import (
	"context"
	"sync"

	"github.com/compcache/compcache/internal/api"
	"github.com/compcache/compcache/types"
)

// CachedCompiler is the main entry point to this library. Create one
// instance per staging area (or one in-memory instance) and call it for
// every resolve; it is safe for concurrent use.
type CachedCompiler struct {
	cfg   types.CacheConfig
	cache *api.Cache
}

// New creates a compiler that stages source and artifact bytes under the
// given directories. Pass empty strings for a purely in-memory cache.
func New(sourceDir, artifactDir string) (*CachedCompiler, error) {
	return NewWithConfig(types.CacheConfig{
		SourceDir:   sourceDir,
		ArtifactDir: artifactDir,
	})
}

// NewWithConfig creates a compiler with a custom configuration.
func NewWithConfig(cfg types.CacheConfig) (*CachedCompiler, error) {
	cfg = cfg.WithDefaults()
	cache, err := api.NewCache(cfg)
	if err != nil {
		return nil, err
	}
	return &CachedCompiler{cfg: cfg, cache: cache}, nil
}

// Resolve returns the artifact handle for name in scope, compiling
// source on a cache miss. Once a name has resolved, later calls return
// the cached handle regardless of the source text they carry. Failures
// are typed: *types.BuildError, *types.NotFoundError, *types.DefineError
// or *types.TimeoutError.
func (cc *CachedCompiler) Resolve(ctx context.Context, scope *types.Scope, name, source string) (types.Handle, error) {
	return cc.ResolveWithDiagnostics(ctx, scope, name, source, nil)
}

// ResolveWithDiagnostics is Resolve with a caller-supplied sink that
// receives the raw diagnostic stream of any compile pass this call
// triggers, including non-error severities, regardless of outcome.
func (cc *CachedCompiler) ResolveWithDiagnostics(ctx context.Context, scope *types.Scope, name, source string,
	sink types.DiagnosticsSink,
) (types.Handle, error) {
	// The compiler instance is captured once per call: a concurrent
	// toolchain reset never switches a build mid-flight.
	comp := cc.cfg.Compiler
	if comp == nil {
		comp = DefaultCompiler()
	}
	return cc.cache.Resolve(ctx, scope, name, source, sink, comp)
}

// Cached returns the loaded handle for name in scope without triggering
// a build.
func (cc *CachedCompiler) Cached(scope *types.Scope, name string) (types.Handle, bool) {
	return cc.cache.Cached(scope, name)
}

// LoadedNames returns the sorted artifact names defined in scope through
// this cache.
func (cc *CachedCompiler) LoadedNames(scope *types.Scope) []string {
	return cc.cache.LoadedNames(scope)
}

// ClearBuffers drops the scope's output buffers to bound memory growth.
// Already-defined artifacts are unaffected.
func (cc *CachedCompiler) ClearBuffers(scope *types.Scope) {
	cc.cache.ClearBuffers(scope)
}

// Close releases the staging lock, if staging is configured.
func (cc *CachedCompiler) Close() error {
	return cc.cache.Release()
}

var (
	defaultOnce     sync.Once
	defaultInstance *CachedCompiler
)

// Default returns the shared in-memory CachedCompiler.
func Default() *CachedCompiler {
	defaultOnce.Do(func() {
		// In-memory config cannot fail to construct.
		defaultInstance, _ = NewWithConfig(types.CacheConfig{})
	})
	return defaultInstance
}

// Load resolves name through the shared in-memory instance.
func Load(ctx context.Context, scope *types.Scope, name, source string) (types.Handle, error) {
	return Default().Resolve(ctx, scope, name, source)
}
