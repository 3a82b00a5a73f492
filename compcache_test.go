package compcache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compcache/compcache/internal/wasmdef"
	"github.com/compcache/compcache/types"
)

// emptyModule is the smallest valid wasm binary: magic + version.
var emptyModule = []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}

func withWasmScope(t *testing.T) *types.Scope {
	t.Helper()
	ctx := context.Background()
	ws := wasmdef.NewWasmScope(ctx)
	t.Cleanup(func() { ws.Close(ctx) })
	return types.NewScope(t.Name(), ws)
}

func TestResolveWasmEndToEnd(t *testing.T) {
	cc, err := New("", "")
	require.NoError(t, err)
	defer cc.Close()
	scope := withWasmScope(t)

	h, err := cc.Resolve(context.Background(), scope, "eg.Empty", string(emptyModule))
	require.NoError(t, err)
	require.NotNil(t, h)

	// Repeat call hits the cache and returns the same handle.
	h2, err := cc.Resolve(context.Background(), scope, "eg.Empty", "different source, ignored")
	require.NoError(t, err)
	assert.Equal(t, h, h2)
	assert.Equal(t, []string{"eg.Empty"}, cc.LoadedNames(scope))
}

func TestResolveWasmBuildFailure(t *testing.T) {
	cc, err := New("", "")
	require.NoError(t, err)
	defer cc.Close()
	scope := withWasmScope(t)
	ctx := context.Background()

	_, err = cc.Resolve(ctx, scope, "eg.Bad", "this is not wasm")
	var buildErr *types.BuildError
	require.ErrorAs(t, err, &buildErr)
	assert.Contains(t, buildErr.Error(), "bad magic")

	// The failed unit does not poison the next resolve on this scope.
	_, err = cc.Resolve(ctx, scope, "eg.Empty", string(emptyModule))
	require.NoError(t, err)
}

func TestResolveWithStaging(t *testing.T) {
	srcDir := filepath.Join(t.TempDir(), "src")
	outDir := filepath.Join(t.TempDir(), "out")
	cc, err := New(srcDir, outDir)
	require.NoError(t, err)
	defer cc.Close()
	scope := withWasmScope(t)

	_, err = cc.Resolve(context.Background(), scope, "eg.Empty", string(emptyModule))
	require.NoError(t, err)

	src, err := os.ReadFile(filepath.Join(srcDir, "eg", "Empty.wat"))
	require.NoError(t, err)
	assert.Equal(t, emptyModule, src)

	art, err := os.ReadFile(filepath.Join(outDir, "eg", "Empty.wasm"))
	require.NoError(t, err)
	assert.Equal(t, emptyModule, art)
}

func TestIsolatedScopes(t *testing.T) {
	cc, err := New("", "")
	require.NoError(t, err)
	defer cc.Close()
	ctx := context.Background()

	s1 := withWasmScope(t)
	s2 := withWasmScope(t)
	_, err = cc.Resolve(ctx, s1, "eg.Empty", string(emptyModule))
	require.NoError(t, err)

	// Scopes are isolated caching domains.
	_, ok := cc.Cached(s2, "eg.Empty")
	assert.False(t, ok)
	assert.Empty(t, cc.LoadedNames(s2))
}

type countCompiler struct {
	calls int
	inner types.Compiler
}

func (c *countCompiler) Compile(ctx context.Context, units []types.CompileUnit,
	sink types.OutputSink, diags types.DiagnosticsSink,
) bool {
	c.calls++
	return c.inner.Compile(ctx, units, sink, diags)
}

func TestToolchainOverrideAndReset(t *testing.T) {
	counting := &countCompiler{inner: wasmdef.BinaryCompiler{}}
	SetDefaultCompiler(counting)
	defer ResetToolchain()

	cc, err := New("", "")
	require.NoError(t, err)
	defer cc.Close()
	scope := withWasmScope(t)

	_, err = cc.Resolve(context.Background(), scope, "eg.Empty", string(emptyModule))
	require.NoError(t, err)
	assert.Equal(t, 1, counting.calls)

	ResetToolchain()
	assert.IsType(t, wasmdef.BinaryCompiler{}, DefaultCompiler())
}

func TestConfiguredCompilerWinsOverDefault(t *testing.T) {
	counting := &countCompiler{inner: wasmdef.BinaryCompiler{}}
	cc, err := NewWithConfig(types.CacheConfig{Compiler: counting})
	require.NoError(t, err)
	defer cc.Close()
	scope := withWasmScope(t)

	_, err = cc.Resolve(context.Background(), scope, "eg.Empty", string(emptyModule))
	require.NoError(t, err)
	assert.Equal(t, 1, counting.calls)
}

func TestLoadUsesSharedInstance(t *testing.T) {
	scope := withWasmScope(t)
	h, err := Load(context.Background(), scope, "eg.Empty", string(emptyModule))
	require.NoError(t, err)
	require.NotNil(t, h)

	h2, ok := Default().Cached(scope, "eg.Empty")
	require.True(t, ok)
	assert.Equal(t, h, h2)
}
