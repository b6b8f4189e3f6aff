// Package telemetry buffers poll timing samples between opportunistic
// flushes. Telemetry is best-effort: the buffer is bounded and drops the
// oldest samples under pressure.
package telemetry

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultMaxSamples = 500

// Sample is one poll observation.
type Sample struct {
	At         time.Time `json:"at"`
	Code       int       `json:"code"`
	DurationMS int64     `json:"duration_ms"`
}

// Batch is the wire payload for a telemetry submission.
type Batch struct {
	BatchID  string    `json:"batch_id"`
	DeviceID string    `json:"device_id"`
	SentAt   time.Time `json:"sent_at"`
	Samples  []Sample  `json:"samples"`
}

type Buffer struct {
	mu      sync.Mutex
	samples []Sample
	max     int
}

func NewBuffer(max int) *Buffer {
	if max <= 0 {
		max = defaultMaxSamples
	}
	return &Buffer{max: max}
}

func (b *Buffer) Add(s Sample) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.samples) >= b.max {
		copy(b.samples, b.samples[1:])
		b.samples = b.samples[:len(b.samples)-1]
	}
	b.samples = append(b.samples, s)
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

// DrainBatch empties the buffer into a submission-ready batch.
// Returns nil when there is nothing to send.
func (b *Buffer) DrainBatch(deviceID string, now time.Time) *Batch {
	b.mu.Lock()
	samples := b.samples
	b.samples = nil
	b.mu.Unlock()
	if len(samples) == 0 {
		return nil
	}
	return &Batch{
		BatchID:  uuid.NewString(),
		DeviceID: deviceID,
		SentAt:   now,
		Samples:  samples,
	}
}

// Requeue puts a failed batch's samples back, oldest first, for the next
// flush. Overflow drops the oldest samples.
func (b *Buffer) Requeue(samples []Sample) {
	if len(samples) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	merged := make([]Sample, 0, len(samples)+len(b.samples))
	merged = append(merged, samples...)
	merged = append(merged, b.samples...)
	if len(merged) > b.max {
		merged = merged[len(merged)-b.max:]
	}
	b.samples = merged
}
