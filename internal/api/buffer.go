package api

import (
	"context"
	"sync"
)

// OutputBuffer accumulates the bytes of one emitted artifact and carries a
// single-fire completion signal so readers never observe a partially
// written artifact. The compiler is the only writer; harvesters only read
// after the signal fires.
type OutputBuffer struct {
	name string

	mu   sync.Mutex
	data []byte

	once sync.Once
	done chan struct{}
	// failure is set before done is closed and never written afterwards.
	failure error
}

func newOutputBuffer(name string) *OutputBuffer {
	return &OutputBuffer{
		name: name,
		done: make(chan struct{}),
	}
}

// Name returns the artifact name this buffer was opened for.
func (b *OutputBuffer) Name() string { return b.name }

// Write appends p to the buffer. Writes after the buffer reached its
// terminal state are dropped: the first registered result wins, a
// re-triggered build for the same name must not tear it.
func (b *OutputBuffer) Write(p []byte) (int, error) {
	select {
	case <-b.done:
		return len(p), nil
	default:
	}
	b.mu.Lock()
	b.data = append(b.data, p...)
	b.mu.Unlock()
	return len(p), nil
}

// Close fires the completion signal. It is idempotent and never fails;
// it implements io.Closer so compilers can treat the buffer as a plain
// output stream.
func (b *OutputBuffer) Close() error {
	b.once.Do(func() { close(b.done) })
	return nil
}

// Abort marks the buffer as failed and fires the completion signal. A
// compiler that gives up on an output calls this so harvesters skip the
// buffer instead of waiting out the timeout. After the first Close or
// Abort the buffer is terminal and further calls have no effect.
func (b *OutputBuffer) Abort(err error) {
	b.once.Do(func() {
		b.failure = err
		close(b.done)
	})
}

// Len returns the number of bytes accumulated so far.
func (b *OutputBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Await blocks until the completion signal fires or ctx is done, and
// returns the accumulated bytes. A deadline expiry surfaces as
// context.DeadlineExceeded and a cancellation as context.Canceled, so
// callers can tell the two apart. An aborted buffer returns the abort
// error.
func (b *OutputBuffer) Await(ctx context.Context) ([]byte, error) {
	select {
	case <-b.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if b.failure != nil {
		return nil, b.failure
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out, nil
}
