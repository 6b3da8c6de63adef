package store

import (
	"context"
	"sync"
)

// Stream delivers snapshots of one record in commit order. Under
// backpressure an undelivered snapshot is replaced by the newer one, so a
// slow reader always ends up with the latest state.
//
// Close releases the stream; it is idempotent and also runs when the
// context passed at subscription time is cancelled. After Close the
// Changes channel is closed.
type Stream[T any] struct {
	ch   chan T
	done chan struct{}

	mu      sync.Mutex
	closed  bool
	onClose func()
	stopCtx func() bool
}

// NewStream returns an open stream. onClose runs once when the stream is released.
func NewStream[T any](ctx context.Context, onClose func()) *Stream[T] {
	s := &Stream[T]{
		ch:      make(chan T, 1),
		done:    make(chan struct{}),
		onClose: onClose,
	}
	if ctx != nil {
		s.stopCtx = context.AfterFunc(ctx, func() { _ = s.Close() })
	}
	return s
}

// Changes returns the channel snapshots are delivered on.
func (s *Stream[T]) Changes() <-chan T {
	return s.ch
}

// Done is closed once the stream has been released.
func (s *Stream[T]) Done() <-chan struct{} {
	return s.done
}

// Publish hands v to the reader, replacing any snapshot it has not picked
// up yet. It never blocks and returns false once the stream is closed.
func (s *Stream[T]) Publish(v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	select {
	case s.ch <- v:
		return true
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	s.ch <- v
	return true
}

// Close releases the stream and drops any undelivered snapshot.
func (s *Stream[T]) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	select {
	case <-s.ch:
	default:
	}
	close(s.ch)
	s.mu.Unlock()

	if s.stopCtx != nil {
		s.stopCtx()
	}
	if s.onClose != nil {
		s.onClose()
	}
	return nil
}

// Map returns a stream carrying fn applied to every snapshot of src.
// Closing the returned stream closes src.
func Map[T, U any](ctx context.Context, src *Stream[T], fn func(T) U) *Stream[U] {
	dst := NewStream[U](ctx, func() { _ = src.Close() })
	go func() {
		defer dst.Close()
		for v := range src.Changes() {
			dst.Publish(fn(v))
		}
	}()
	return dst
}
