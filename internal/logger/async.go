package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Closer flushes buffered records on shutdown.
type Closer interface {
	Close()
}

type nopCloser struct{}

func (nopCloser) Close() {}

// queueHandler decouples slog calls from the writer. Records go onto a
// bounded queue and a single drain goroutine hands them to the wrapped
// handler in arrival order, so request goroutines never block on log
// output. When the queue is full the record is dropped and counted.
type queueHandler struct {
	next    slog.Handler
	queue   chan slog.Record
	done    *sync.WaitGroup
	dropped *atomic.Int64
}

func newQueueHandler(next slog.Handler, depth int) *queueHandler {
	h := &queueHandler{
		next:    next,
		queue:   make(chan slog.Record, depth),
		done:    &sync.WaitGroup{},
		dropped: &atomic.Int64{},
	}
	h.done.Add(1)
	go h.drain()
	return h
}

func (h *queueHandler) drain() {
	defer h.done.Done()
	for rec := range h.queue {
		_ = h.next.Handle(context.Background(), rec)
	}
}

func (h *queueHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *queueHandler) Handle(_ context.Context, rec slog.Record) error {
	select {
	case h.queue <- rec:
	default:
		h.dropped.Add(1)
	}
	return nil
}

// WithAttrs wraps a derived inner handler around the shared queue, so
// attribute-scoped loggers still funnel through one drain goroutine.
func (h *queueHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &queueHandler{next: h.next.WithAttrs(attrs), queue: h.queue, done: h.done, dropped: h.dropped}
}

func (h *queueHandler) WithGroup(name string) slog.Handler {
	return &queueHandler{next: h.next.WithGroup(name), queue: h.queue, done: h.done, dropped: h.dropped}
}

// Close drains the queue, stops the goroutine, and reports any records
// dropped under pressure directly to the inner handler.
func (h *queueHandler) Close() {
	close(h.queue)
	h.done.Wait()
	if n := h.dropped.Load(); n > 0 {
		rec := slog.NewRecord(time.Now(), slog.LevelWarn, "log records dropped under pressure", 0)
		rec.AddAttrs(slog.Int64("count", n))
		_ = h.next.Handle(context.Background(), rec)
	}
}
