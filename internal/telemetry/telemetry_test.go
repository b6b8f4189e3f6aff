package telemetry

import (
	"testing"
	"time"
)

func sample(code int) Sample {
	return Sample{At: time.Now(), Code: code, DurationMS: 12}
}

func TestBufferBounded(t *testing.T) {
	b := NewBuffer(3)
	for i := 0; i < 10; i++ {
		b.Add(Sample{Code: i})
	}
	if b.Len() != 3 {
		t.Fatalf("Len = %d, want 3", b.Len())
	}
	batch := b.DrainBatch("dev-1", time.Now())
	if batch == nil || len(batch.Samples) != 3 {
		t.Fatalf("batch = %+v", batch)
	}
	// oldest dropped first
	if batch.Samples[0].Code != 7 || batch.Samples[2].Code != 9 {
		t.Errorf("samples = %+v, want codes 7..9", batch.Samples)
	}
}

func TestDrainBatchEmpty(t *testing.T) {
	b := NewBuffer(10)
	if batch := b.DrainBatch("dev-1", time.Now()); batch != nil {
		t.Fatalf("batch = %+v, want nil", batch)
	}
}

func TestDrainBatchFields(t *testing.T) {
	b := NewBuffer(10)
	b.Add(sample(204))
	now := time.Now()
	batch := b.DrainBatch("dev-1", now)
	if batch.DeviceID != "dev-1" || !batch.SentAt.Equal(now) || batch.BatchID == "" {
		t.Errorf("batch = %+v", batch)
	}
	if b.Len() != 0 {
		t.Error("drain must empty the buffer")
	}
}

func TestRequeuePutsSamplesFirst(t *testing.T) {
	b := NewBuffer(10)
	b.Add(Sample{Code: 3})
	b.Requeue([]Sample{{Code: 1}, {Code: 2}})

	batch := b.DrainBatch("dev-1", time.Now())
	if len(batch.Samples) != 3 {
		t.Fatalf("samples = %d, want 3", len(batch.Samples))
	}
	if batch.Samples[0].Code != 1 || batch.Samples[1].Code != 2 || batch.Samples[2].Code != 3 {
		t.Errorf("order = %+v, want requeued samples first", batch.Samples)
	}
}

func TestRequeueRespectsBound(t *testing.T) {
	b := NewBuffer(2)
	b.Add(Sample{Code: 9})
	b.Requeue([]Sample{{Code: 1}, {Code: 2}})
	if b.Len() != 2 {
		t.Fatalf("Len = %d, want 2", b.Len())
	}
	batch := b.DrainBatch("dev-1", time.Now())
	// overflow drops the oldest, keeping the newest two
	if batch.Samples[0].Code != 2 || batch.Samples[1].Code != 9 {
		t.Errorf("samples = %+v", batch.Samples)
	}
}
