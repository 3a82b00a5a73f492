package compcache

import (
	"sync/atomic"

	"github.com/compcache/compcache/internal/wasmdef"
	"github.com/compcache/compcache/types"
)

// toolchain holds the process-wide default compiler. Resolves capture the
// instance once at entry, so swapping it never affects in-flight builds.
type toolchain struct {
	compiler types.Compiler
}

var currentToolchain atomic.Pointer[toolchain]

func init() {
	ResetToolchain()
}

// DefaultCompiler returns the process-wide default compiler.
func DefaultCompiler() types.Compiler {
	return currentToolchain.Load().compiler
}

// SetDefaultCompiler installs c as the process-wide default. Safe to call
// concurrently with in-flight resolves; they keep the compiler they
// captured at entry.
func SetDefaultCompiler(c types.Compiler) {
	currentToolchain.Store(&toolchain{compiler: c})
}

// ResetToolchain restores the built-in default, the wazero pass-through
// compiler for precompiled wasm units.
func ResetToolchain() {
	SetDefaultCompiler(wasmdef.BinaryCompiler{})
}
