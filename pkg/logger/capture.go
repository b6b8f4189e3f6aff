package logger

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Record is one buffered log entry in a shippable form.
type Record struct {
	Time    time.Time         `json:"time"`
	Level   string            `json:"level"`
	Message string            `json:"message"`
	Attrs   map[string]string `json:"attrs,omitempty"`
}

// Capture is a bounded, concurrency-safe buffer of recent log records.
// The polling loop checks Len against its threshold and Drains the buffer
// when submitting a log bundle.
type Capture struct {
	mu  sync.Mutex
	buf []Record
	max int
}

func newCapture(max int) *Capture {
	if max <= 0 {
		max = 1000
	}
	return &Capture{max: max}
}

func (c *Capture) append(r Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.buf) >= c.max {
		// drop oldest
		copy(c.buf, c.buf[1:])
		c.buf = c.buf[:len(c.buf)-1]
	}
	c.buf = append(c.buf, r)
}

// Len returns the number of buffered records.
func (c *Capture) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf)
}

// Drain returns all buffered records and empties the buffer.
func (c *Capture) Drain() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.buf
	c.buf = nil
	return out
}

// Requeue puts drained records back at the front, used when a bundle
// submission fails and the records should ride the next attempt.
func (c *Capture) Requeue(records []Record) {
	if len(records) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	merged := make([]Record, 0, len(records)+len(c.buf))
	merged = append(merged, records...)
	merged = append(merged, c.buf...)
	if len(merged) > c.max {
		merged = merged[len(merged)-c.max:]
	}
	c.buf = merged
}

type captureHandler struct {
	next    slog.Handler
	capture *Capture
	attrs   []slog.Attr
}

func (h *captureHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *captureHandler) Handle(ctx context.Context, r slog.Record) error {
	attrs := make(map[string]string, r.NumAttrs()+len(h.attrs))
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.String()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.String()
		return true
	})
	h.capture.append(Record{
		Time:    r.Time,
		Level:   r.Level.String(),
		Message: r.Message,
		Attrs:   attrs,
	})
	return h.next.Handle(ctx, r)
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &captureHandler{next: h.next.WithAttrs(attrs), capture: h.capture, attrs: merged}
}

func (h *captureHandler) WithGroup(name string) slog.Handler {
	return &captureHandler{next: h.next.WithGroup(name), capture: h.capture, attrs: h.attrs}
}
