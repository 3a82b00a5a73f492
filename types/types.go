// Package types defines the public data model of the compilation cache:
// compile units, diagnostics, the opaque compiler and definer collaborators,
// and the closed error taxonomy returned by resolve operations.
package types

import (
	"context"
	"sync"
)

// Handle is the opaque result of defining an artifact in a scope. For the
// wazero-backed definer this is a wazero.CompiledModule; test definers may
// return anything.
type Handle any

// CompileUnit pairs a unit name with its source text. Names are dotted,
// case-sensitive, and unique within a scope. In staging mode Path carries
// the on-disk location the source was persisted to, for compilers that
// read from files.
type CompileUnit struct {
	Name   string
	Source string
	Path   string
}

// Severity classifies a diagnostic. Only SeverityError affects the outcome
// of a compile pass.
type Severity int

const (
	SeverityNote Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	default:
		return "note"
	}
}

// Diagnostic is a single message emitted by a compiler pass.
type Diagnostic struct {
	Severity Severity
	// Unit is the name of the compile unit the message refers to, if any.
	Unit    string
	Message string
}

func (d Diagnostic) String() string {
	if d.Unit == "" {
		return d.Severity.String() + ": " + d.Message
	}
	return d.Severity.String() + ": " + d.Unit + ": " + d.Message
}

// DiagnosticsSink receives the raw diagnostic stream of a compile pass.
// Implementations must be safe for concurrent use.
type DiagnosticsSink interface {
	Report(Diagnostic)
}

// DiagnosticCollector is a DiagnosticsSink that accumulates everything it
// receives. The zero value is ready to use.
type DiagnosticCollector struct {
	mu  sync.Mutex
	all []Diagnostic
}

func (c *DiagnosticCollector) Report(d Diagnostic) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.all = append(c.all, d)
}

// All returns a copy of every collected diagnostic in arrival order.
func (c *DiagnosticCollector) All() []Diagnostic {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Diagnostic, len(c.all))
	copy(out, c.all)
	return out
}

// Errors returns only the SeverityError diagnostics.
func (c *DiagnosticCollector) Errors() []Diagnostic {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Diagnostic
	for _, d := range c.all {
		if d.Severity == SeverityError {
			out = append(out, d)
		}
	}
	return out
}

// TeeDiagnostics fans a diagnostic stream out to multiple sinks. Nil sinks
// are skipped, so callers can pass an optional user sink unconditionally.
func TeeDiagnostics(sinks ...DiagnosticsSink) DiagnosticsSink {
	return teeSink(sinks)
}

type teeSink []DiagnosticsSink

func (t teeSink) Report(d Diagnostic) {
	for _, s := range t {
		if s != nil {
			s.Report(d)
		}
	}
}

// OutputSink is the write-side view of the virtual output store handed to a
// compiler pass. OpenForWrite registers a named output buffer on first use
// and returns the already-registered buffer on subsequent calls for the
// same name (first registration wins).
type OutputSink interface {
	OpenForWrite(name string) OutputWriter
}

// OutputWriter is one named artifact output. The writer appends with Write,
// then fires the buffer's completion signal with Close. Close is idempotent.
// Abort marks the output as failed so harvesting skips it.
type OutputWriter interface {
	Write(p []byte) (int, error)
	Close() error
	Abort(err error)
}

// Compiler is the opaque compile operation. It receives a stable snapshot
// of every pending unit, writes zero or more named binary artifacts to the
// sink, reports diagnostics, and returns whether the pass succeeded (no
// error-severity diagnostics).
type Compiler interface {
	Compile(ctx context.Context, units []CompileUnit, sink OutputSink, diags DiagnosticsSink) bool
}

// Definer is the opaque primitive that injects artifact bytes into an
// executable scope. Define fails fatally (it is never retried) when the
// scope rejects the bytes. Lookup resolves a name the scope can already
// see, whether or not it was defined through this cache.
type Definer interface {
	Define(name string, code []byte) (Handle, error)
	Lookup(name string) (Handle, error)
}

// Scope is an isolated artifact-loading context, the classloader analogue.
// Pointer identity is what keys the cache: two *Scope values are distinct
// caching domains even if they share a Definer. The cache holds scopes
// weakly and is never the reason a scope stays alive.
type Scope struct {
	name    string
	definer Definer
}

// NewScope wraps a definer in a fresh scope identity.
func NewScope(name string, d Definer) *Scope {
	return &Scope{name: name, definer: d}
}

func (s *Scope) Name() string { return s.name }

// Define injects bytes under name via the scope's definer.
func (s *Scope) Define(name string, code []byte) (Handle, error) {
	return s.definer.Define(name, code)
}

// Lookup resolves a name already visible to the scope.
func (s *Scope) Lookup(name string) (Handle, error) {
	return s.definer.Lookup(name)
}
