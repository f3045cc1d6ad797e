package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Closer flushes buffered log records and reports how many were dropped.
type Closer interface {
	Close()
	Dropped() int64
}

type nopCloser struct{}

func (nopCloser) Close()         {}
func (nopCloser) Dropped() int64 { return 0 }

// asyncQueue is shared by an AsyncHandler and every handler derived from
// it through WithAttrs or WithGroup.
type asyncQueue struct {
	ch      chan queued
	wg      sync.WaitGroup
	dropped atomic.Int64

	// mu guards closed against sends racing Close.
	mu     sync.RWMutex
	closed bool
}

type queued struct {
	h   slog.Handler
	rec slog.Record
}

// AsyncHandler hands records to a pool of writer goroutines.
//
// Records below keepLevel are dropped when the buffer is full. Records at
// keepLevel or above, which include rejected webhooks and failed
// deliveries, wait for room instead. After Close, records are written
// synchronously.
type AsyncHandler struct {
	inner     slog.Handler
	keepLevel slog.Level
	q         *asyncQueue
}

// NewAsyncHandler starts workers draining a buffer of chanSize records.
// Records at keepLevel or above are never dropped.
func NewAsyncHandler(inner slog.Handler, chanSize, workers int, keepLevel slog.Level) *AsyncHandler {
	q := &asyncQueue{ch: make(chan queued, chanSize)}
	for range max(workers, 1) {
		q.wg.Add(1)
		go q.drain()
	}
	return &AsyncHandler{inner: inner, keepLevel: keepLevel, q: q}
}

func (q *asyncQueue) drain() {
	defer q.wg.Done()
	for item := range q.ch {
		_ = item.h.Handle(context.Background(), item.rec)
	}
}

func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *AsyncHandler) Handle(ctx context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	h.q.mu.RLock()
	defer h.q.mu.RUnlock()
	if h.q.closed {
		return h.inner.Handle(ctx, rec)
	}

	item := queued{h: h.inner, rec: rec.Clone()}
	if rec.Level >= h.keepLevel {
		h.q.ch <- item
		return nil
	}
	select {
	case h.q.ch <- item:
	default:
		h.q.dropped.Add(1)
	}
	return nil
}

func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), keepLevel: h.keepLevel, q: h.q}
}

func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), keepLevel: h.keepLevel, q: h.q}
}

// Dropped returns the number of records discarded because the buffer was full.
func (h *AsyncHandler) Dropped() int64 {
	return h.q.dropped.Load()
}

// Close stops accepting queued records and waits for the buffer to drain.
// It is safe to call more than once.
func (h *AsyncHandler) Close() {
	h.q.mu.Lock()
	if h.q.closed {
		h.q.mu.Unlock()
		return
	}
	h.q.closed = true
	close(h.q.ch)
	h.q.mu.Unlock()
	h.q.wg.Wait()
}
