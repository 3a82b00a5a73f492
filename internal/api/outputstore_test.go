package api

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withStore(timeout time.Duration) *OutputStore {
	return NewOutputStore(timeout, nil)
}

func emit(t *testing.T, s *OutputStore, name string, data []byte) {
	t.Helper()
	w := s.OpenForWrite(name)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func TestStoreHarvestAll(t *testing.T) {
	s := withStore(time.Second)
	emit(t, s, "pkg.Outer", []byte{1, 2, 3})
	emit(t, s, "pkg.Outer.Inner", []byte{4, 5})

	out, timedOut, err := s.HarvestAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, timedOut)
	require.Len(t, out, 2)
	assert.Equal(t, []byte{1, 2, 3}, out["pkg.Outer"])
	assert.Equal(t, []byte{4, 5}, out["pkg.Outer.Inner"])
}

func TestStoreFirstRegistrationWins(t *testing.T) {
	s := withStore(time.Second)
	emit(t, s, "pkg.A", []byte("first"))

	// A re-triggered build for the same name writes into a discarded
	// buffer; the harvested value is the first registration's.
	w := s.OpenForWrite("pkg.A")
	_, err := w.Write([]byte("second"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	out, _, err := s.HarvestAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), out["pkg.A"])
	assert.Equal(t, 1, s.Len())
}

func TestStoreHarvestSkipsLaggingBuffer(t *testing.T) {
	s := withStore(50 * time.Millisecond)
	emit(t, s, "pkg.Done", []byte("ok"))
	s.OpenForWrite("pkg.Never") // writer never completes

	start := time.Now()
	out, timedOut, err := s.HarvestAll(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, []string{"pkg.Never"}, timedOut)
	require.Len(t, out, 1)
	assert.Equal(t, []byte("ok"), out["pkg.Done"])
}

func TestStoreHarvestSkipsAbortedBuffer(t *testing.T) {
	s := withStore(time.Second)
	emit(t, s, "pkg.Done", []byte("ok"))
	s.OpenForWrite("pkg.Dead").Abort(errors.New("compiler gave up"))

	out, timedOut, err := s.HarvestAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, timedOut)
	require.Len(t, out, 1)
	assert.Contains(t, out, "pkg.Done")
}

func TestStoreHarvestCancellation(t *testing.T) {
	s := withStore(time.Minute)
	s.OpenForWrite("pkg.Never")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, _, err := s.HarvestAll(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestStoreClear(t *testing.T) {
	s := withStore(time.Second)
	emit(t, s, "pkg.A", []byte("a"))
	emit(t, s, "pkg.B", []byte("b"))
	require.Equal(t, 2, s.Len())

	s.Clear()
	assert.Equal(t, 0, s.Len())

	out, _, err := s.HarvestAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestStoreWriterIsWriteCloser(t *testing.T) {
	var _ io.WriteCloser = withStore(time.Second).OpenForWrite("pkg.A")
}
