package outbox

import (
	"context"
	"testing"
	"time"

	"callagent/internal/storage"
)

func newSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := storage.OpenMemory(context.Background())
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLStore(db)
}

func TestSQLStoreFIFOWithinKind(t *testing.T) {
	s := newSQLStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	for i, payload := range []string{"first", "second", "third"} {
		if err := s.Enqueue(ctx, KindCallOutcome, "/calls/update", []byte(payload), base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	_ = s.Enqueue(ctx, KindHeartbeat, "/device/heartbeat", []byte("hb"), base)

	items, err := s.NextBatch(ctx, KindCallOutcome, 2)
	if err != nil {
		t.Fatalf("NextBatch: %v", err)
	}
	if len(items) != 2 || string(items[0].Payload) != "first" || string(items[1].Payload) != "second" {
		t.Fatalf("items = %+v, want FIFO by enqueue time", items)
	}
	if items[0].Kind != KindCallOutcome || items[0].Endpoint != "/calls/update" {
		t.Errorf("item = %+v", items[0])
	}
}

func TestSQLStoreDeleteAndIncrement(t *testing.T) {
	s := newSQLStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_ = s.Enqueue(ctx, KindTelemetry, "/device/telemetry", []byte("x"), now)
	items, _ := s.NextBatch(ctx, KindTelemetry, 10)
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}

	if err := s.IncrementAttempt(ctx, items[0].ID); err != nil {
		t.Fatalf("IncrementAttempt: %v", err)
	}
	items, _ = s.NextBatch(ctx, KindTelemetry, 10)
	if items[0].AttemptCount != 1 {
		t.Errorf("attempt count = %d, want 1", items[0].AttemptCount)
	}

	if err := s.Delete(ctx, items[0].ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	items, _ = s.NextBatch(ctx, KindTelemetry, 10)
	if len(items) != 0 {
		t.Errorf("items = %d, want 0 after delete", len(items))
	}
}

func TestSQLStoreStats(t *testing.T) {
	s := newSQLStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	_ = s.Enqueue(ctx, KindCallOutcome, "/calls/update", []byte("a"), now.Add(-90*time.Second))
	_ = s.Enqueue(ctx, KindCallOutcome, "/calls/update", []byte("b"), now.Add(-10*time.Second))
	_ = s.Enqueue(ctx, KindLogBundle, "/device/logs", []byte("l"), now.Add(-30*time.Second))

	st, err := s.Stats(ctx, now)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Total != 3 || st.PerKind[KindCallOutcome] != 2 || st.PerKind[KindLogBundle] != 1 {
		t.Errorf("stats = %+v", st)
	}
	if st.OldestAge != 90*time.Second {
		t.Errorf("oldest age = %v, want 90s", st.OldestAge)
	}
}

func TestSQLStoreStatsEmpty(t *testing.T) {
	s := newSQLStore(t)
	st, err := s.Stats(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Total != 0 || st.OldestAge != 0 {
		t.Errorf("stats = %+v, want zeroes", st)
	}
}
