package outcome

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

func TestSQLStoreRoundTrip(t *testing.T) {
	s := newSQLStore(t)
	ctx := context.Background()

	dur := 42
	started := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	ended := started.Add(42 * time.Second)
	in := CallOutcome{
		ID:              "c1",
		Status:          StatusConnected,
		Direction:       "outgoing",
		DurationSeconds: &dur,
		StartedAt:       started,
		EndedAt:         &ended,
		ResolveMethod:   MethodRetry,
		AttemptsCount:   2,
	}
	if err := s.Upsert(ctx, in); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, ok, err := s.Get(ctx, "c1")
	if err != nil || !ok {
		t.Fatalf("Get = (%v, %v)", ok, err)
	}
	if got.Status != StatusConnected || got.ResolveMethod != MethodRetry || got.AttemptsCount != 2 {
		t.Errorf("got = %+v", got)
	}
	if got.DurationSeconds == nil || *got.DurationSeconds != 42 {
		t.Errorf("duration = %v", got.DurationSeconds)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("started = %v, want %v", got.StartedAt, started)
	}
	if got.EndedAt == nil || !got.EndedAt.Equal(ended) {
		t.Errorf("ended = %v, want %v", got.EndedAt, ended)
	}
	if got.SentToServer || got.SentAt != nil {
		t.Errorf("fresh outcome should not be marked sent: %+v", got)
	}
}

func TestSQLStoreNullableFields(t *testing.T) {
	s := newSQLStore(t)
	ctx := context.Background()

	in := CallOutcome{
		ID:            "c1",
		Status:        StatusUnknown,
		StartedAt:     time.Now().UTC(),
		ResolveMethod: MethodUnknown,
		ResolveReason: ReasonTimeout,
		AttemptsCount: 10,
	}
	if err := s.Upsert(ctx, in); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	got, _, err := s.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.DurationSeconds != nil || got.EndedAt != nil {
		t.Errorf("got = %+v, want nil duration and ended_at", got)
	}
	if got.ResolveReason != ReasonTimeout {
		t.Errorf("reason = %q", got.ResolveReason)
	}
}

func TestSQLStoreImmutableOnceSent(t *testing.T) {
	s := newSQLStore(t)
	ctx := context.Background()

	if err := s.Upsert(ctx, CallOutcome{ID: "c1", Status: StatusNoAnswer, StartedAt: time.Now().UTC(), ResolveMethod: MethodRetry}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.MarkSent(ctx, "c1", time.Now().UTC()); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}

	// a later upsert must not overwrite a reported outcome
	if err := s.Upsert(ctx, CallOutcome{ID: "c1", Status: StatusConnected, StartedAt: time.Now().UTC(), ResolveMethod: MethodRetry}); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}
	got, _, _ := s.Get(ctx, "c1")
	if got.Status != StatusNoAnswer || !got.SentToServer {
		t.Errorf("got = %+v, sent outcome must be immutable", got)
	}
}

func TestSQLStoreUpsertReplacesUnsent(t *testing.T) {
	s := newSQLStore(t)
	ctx := context.Background()

	_ = s.Upsert(ctx, CallOutcome{ID: "c1", Status: StatusUnknown, StartedAt: time.Now().UTC(), ResolveMethod: MethodUnknown})
	if err := s.Upsert(ctx, CallOutcome{ID: "c1", Status: StatusConnected, StartedAt: time.Now().UTC(), ResolveMethod: MethodRetry}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	got, _, _ := s.Get(ctx, "c1")
	if got.Status != StatusConnected {
		t.Errorf("status = %s, unsent outcomes are replaceable", got.Status)
	}
}

func TestSQLStoreRecentOrder(t *testing.T) {
	s := newSQLStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"old", "mid", "new"} {
		_ = s.Upsert(ctx, CallOutcome{
			ID: id, Status: StatusConnected, ResolveMethod: MethodRetry,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	got, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 || got[0].ID != "new" || got[1].ID != "mid" {
		t.Errorf("recent = %+v, want newest first", got)
	}
}
