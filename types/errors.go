package types

import (
	"fmt"
	"strings"
	"time"
)

// BuildError reports a failed compile pass. It carries every error-severity
// diagnostic so syntax and type errors in submitted source are directly
// actionable by the caller.
type BuildError struct {
	// Unit is the name whose resolve triggered the failing pass.
	Unit        string
	Diagnostics []Diagnostic
}

func (e *BuildError) Error() string {
	if len(e.Diagnostics) == 0 {
		return fmt.Sprintf("build of %q failed", e.Unit)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "build of %q failed:", e.Unit)
	for _, d := range e.Diagnostics {
		sb.WriteString("\n\t")
		sb.WriteString(d.String())
	}
	return sb.String()
}

// NotFoundError reports that a name never materialized: the compile pass
// succeeded but neither the harvest nor the scope could produce the name.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("artifact %q not found", e.Name)
}

// DefineError reports that the define primitive rejected artifact bytes.
// This is fatal for the resolve that hit it and is never retried.
type DefineError struct {
	Name string
	Err  error
}

func (e *DefineError) Error() string {
	return fmt.Sprintf("define of %q rejected: %v", e.Name, e.Err)
}

func (e *DefineError) Unwrap() error { return e.Err }

// TimeoutError reports that the requested name's own output buffer did not
// complete within the harvest bound. Other buffers timing out are merely
// excluded from the harvest and never surface as this error.
type TimeoutError struct {
	Name    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("artifact %q did not complete within %v", e.Name, e.Timeout)
}
