package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Closer flushes buffered log records on shutdown. New returns one whether or
// not async mode is on, so callers can defer Close unconditionally.
type Closer interface {
	Close()
}

type nopCloser struct{}

func (nopCloser) Close() {}

// AsyncHandler decouples log emission from the write to stdout. Result intake
// and assignment are hot paths; a stalled stdout pipe must not block them.
// When the queue is full the record is dropped and counted instead of
// blocking the caller.
type AsyncHandler struct {
	inner slog.Handler
	core  *asyncCore
}

// asyncCore is the queue state shared by a handler and all its
// WithAttrs/WithGroup derivatives.
type asyncCore struct {
	mu      sync.RWMutex
	closed  bool
	queue   chan asyncEntry
	drained sync.WaitGroup
	dropped atomic.Int64
	once    sync.Once
}

// asyncEntry pins the record to the handler it was logged through, so
// attributes added via Logger.With survive the handoff to the worker.
type asyncEntry struct {
	h   slog.Handler
	rec slog.Record
}

// NewAsyncHandler starts workers goroutines draining a queue of the given
// capacity into inner. A single worker keeps emission order.
func NewAsyncHandler(inner slog.Handler, capacity, workers int) *AsyncHandler {
	c := &asyncCore{queue: make(chan asyncEntry, capacity)}
	for range workers {
		c.drained.Add(1)
		go func() {
			defer c.drained.Done()
			for e := range c.queue {
				_ = e.h.Handle(context.Background(), e.rec)
			}
		}()
	}
	return &AsyncHandler{inner: inner, core: c}
}

// Enabled delegates to the inner handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues the record, cloned because the worker outlives the caller's
// ownership of it. Records logged after Close are counted as dropped.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	c := h.core
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		c.dropped.Add(1)
		return nil
	}
	select {
	case c.queue <- asyncEntry{h: h.inner, rec: rec.Clone()}:
	default:
		c.dropped.Add(1)
	}
	return nil
}

// WithAttrs derives a handler feeding the same queue and workers.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), core: h.core}
}

// WithGroup derives a handler feeding the same queue and workers.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), core: h.core}
}

// Dropped returns how many records were discarded on a full or closed queue.
func (h *AsyncHandler) Dropped() int64 {
	return h.core.dropped.Load()
}

// Close drains the queue and stops the workers. Idempotent.
func (h *AsyncHandler) Close() {
	c := h.core
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.queue)
		c.drained.Wait()
	})
}
