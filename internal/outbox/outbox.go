// Package outbox is the durable at-least-once queue for submissions that
// failed for a retryable reason. Items keep their payload verbatim; the
// server deduplicates by command id.
package outbox

import (
	"context"
	"time"
)

type Kind string

const (
	KindCallOutcome Kind = "call_outcome"
	KindHeartbeat   Kind = "heartbeat"
	KindTelemetry   Kind = "telemetry"
	KindLogBundle   Kind = "log_bundle"
)

// Kinds is the flush order. No global ordering is guaranteed across kinds;
// within a kind delivery is FIFO by enqueue time.
var Kinds = []Kind{KindCallOutcome, KindHeartbeat, KindTelemetry, KindLogBundle}

type Item struct {
	ID           string
	Kind         Kind
	Endpoint     string
	Payload      []byte
	EnqueuedAt   time.Time
	AttemptCount int
}

// Stats feeds the heartbeat's stuck-item diagnostics.
type Stats struct {
	PerKind   map[Kind]int
	OldestAge time.Duration
	Total     int
}

type Store interface {
	Enqueue(ctx context.Context, kind Kind, endpoint string, payload []byte, now time.Time) error
	// NextBatch returns up to limit items of one kind, FIFO by enqueue time.
	NextBatch(ctx context.Context, kind Kind, limit int) ([]Item, error)
	Delete(ctx context.Context, id string) error
	IncrementAttempt(ctx context.Context, id string) error
	Stats(ctx context.Context, now time.Time) (Stats, error)
}
