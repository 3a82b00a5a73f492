package api

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/compcache/compcache/types"
)

// OutputStore is the in-memory virtual output sink a compile pass writes
// into: a concurrent mapping from artifact name to OutputBuffer. The btree
// keeps the name set ordered so harvests are deterministic. Buffers are
// removed only by an explicit Clear, never automatically.
type OutputStore struct {
	mu      sync.Mutex
	buffers *btree.BTreeG[*OutputBuffer]

	timeout time.Duration
	logger  *slog.Logger
}

func bufferLess(a, b *OutputBuffer) bool { return a.name < b.name }

// NewOutputStore creates a store whose harvests wait at most timeout per
// buffer.
func NewOutputStore(timeout time.Duration, logger *slog.Logger) *OutputStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &OutputStore{
		buffers: btree.NewG(2, bufferLess),
		timeout: timeout,
		logger:  logger,
	}
}

// OpenForWrite returns an output buffer for name, registering it on
// first use. When a racing compile pass already registered the name, the
// returned buffer stays unregistered and its content is discarded: the
// first registration wins, so harvesters reading across an old and a new
// pass never see a torn value.
func (s *OutputStore) OpenForWrite(name string) types.OutputWriter {
	return s.open(name)
}

func (s *OutputStore) open(name string) *OutputBuffer {
	b := newOutputBuffer(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buffers.Get(b); ok {
		return b
	}
	s.buffers.ReplaceOrInsert(b)
	return b
}

// Get returns the registered buffer for name, if any.
func (s *OutputStore) Get(name string) (*OutputBuffer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffers.Get(&OutputBuffer{name: name})
}

// Len returns the number of registered buffers.
func (s *OutputStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffers.Len()
}

// Clear drops every buffer. Safe at any time: defined artifacts live in
// the scope's loaded map, independent of the buffers.
func (s *OutputStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffers.Clear(false)
}

// HarvestAll drains the store into a name-to-bytes mapping. The name set
// is snapshotted under the lock, then each buffer is awaited without it,
// so a slow writer never blocks concurrent registrations. A buffer that
// does not complete within the store's timeout is skipped with a warning
// and its name is returned in timedOut; an aborted buffer is skipped
// silently. Cancellation of ctx stops the harvest and is returned.
func (s *OutputStore) HarvestAll(ctx context.Context) (map[string][]byte, []string, error) {
	s.mu.Lock()
	snapshot := make([]*OutputBuffer, 0, s.buffers.Len())
	s.buffers.Ascend(func(b *OutputBuffer) bool {
		snapshot = append(snapshot, b)
		return true
	})
	s.mu.Unlock()

	out := make(map[string][]byte, len(snapshot))
	var timedOut []string
	for _, b := range snapshot {
		bctx, cancel := context.WithTimeout(ctx, s.timeout)
		data, err := b.Await(bctx)
		cancel()
		switch {
		case err == nil:
			out[b.Name()] = data
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			s.logger.Warn("output buffer did not complete, excluding from harvest",
				"artifact", b.Name(), "timeout", s.timeout)
			timedOut = append(timedOut, b.Name())
		case ctx.Err() != nil:
			return out, timedOut, ctx.Err()
		default:
			s.logger.Warn("output buffer failed, excluding from harvest",
				"artifact", b.Name(), "error", err)
		}
	}
	return out, timedOut, nil
}
