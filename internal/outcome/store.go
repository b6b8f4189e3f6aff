// Package outcome persists resolved call outcomes for audit, display and
// redelivery bookkeeping.
package outcome

import (
	"context"
	"time"
)

// Store is the outcome log: upsert-by-id plus mark-sent.
type Store interface {
	// Upsert writes the outcome unless the stored row is already marked
	// sent, in which case it is left untouched.
	Upsert(ctx context.Context, o CallOutcome) error
	// MarkSent flips sent_to_server and stamps sent_at.
	MarkSent(ctx context.Context, id string, at time.Time) error
	Get(ctx context.Context, id string) (CallOutcome, bool, error)
	// Recent returns up to limit outcomes, newest started_at first.
	Recent(ctx context.Context, limit int) ([]CallOutcome, error)
}
