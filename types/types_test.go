package types

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiagnosticCollector(t *testing.T) {
	c := &DiagnosticCollector{}
	c.Report(Diagnostic{Severity: SeverityWarning, Unit: "a.B", Message: "unused"})
	c.Report(Diagnostic{Severity: SeverityError, Unit: "a.B", Message: "expected ';'"})
	c.Report(Diagnostic{Severity: SeverityNote, Message: "pass info"})

	require.Len(t, c.All(), 3)
	errs := c.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, "expected ';'", errs[0].Message)
	assert.Equal(t, "error: a.B: expected ';'", errs[0].String())
}

func TestDiagnosticCollectorConcurrent(t *testing.T) {
	c := &DiagnosticCollector{}
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Report(Diagnostic{Severity: SeverityError, Message: "x"})
		}()
	}
	wg.Wait()
	assert.Len(t, c.All(), 50)
}

func TestTeeDiagnosticsSkipsNilSinks(t *testing.T) {
	a := &DiagnosticCollector{}
	b := &DiagnosticCollector{}
	tee := TeeDiagnostics(a, nil, b)
	tee.Report(Diagnostic{Severity: SeverityNote, Message: "hi"})
	assert.Len(t, a.All(), 1)
	assert.Len(t, b.All(), 1)
}

func TestErrorTaxonomy(t *testing.T) {
	var err error = &BuildError{Unit: "a.B", Diagnostics: []Diagnostic{
		{Severity: SeverityError, Unit: "a.B", Message: "boom"},
	}}
	var buildErr *BuildError
	require.ErrorAs(t, err, &buildErr)
	assert.Contains(t, err.Error(), "boom")

	err = &NotFoundError{Name: "a.B"}
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.NotErrorAs(t, err, &buildErr)

	cause := errors.New("bad magic")
	err = &DefineError{Name: "a.B", Err: cause}
	var defineErr *DefineError
	require.ErrorAs(t, err, &defineErr)
	assert.ErrorIs(t, err, cause)
}

type mapDefiner map[string]Handle

func (m mapDefiner) Define(name string, code []byte) (Handle, error) {
	m[name] = code
	return code, nil
}

func (m mapDefiner) Lookup(name string) (Handle, error) {
	h, ok := m[name]
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	return h, nil
}

func TestScopeDelegatesToDefiner(t *testing.T) {
	d := mapDefiner{}
	s := NewScope("main", d)
	assert.Equal(t, "main", s.Name())

	_, err := s.Lookup("a.B")
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)

	h, err := s.Define("a.B", []byte{1})
	require.NoError(t, err)
	got, err := s.Lookup("a.B")
	require.NoError(t, err)
	assert.Equal(t, h, got)
}
