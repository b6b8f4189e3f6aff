package outbox

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"callagent/internal/api"
)

const flushBatchSize = 20

// Deliverer redelivers one queued item. Call outcomes go through the
// outcome submission path so the legacy-fallback logic still applies;
// everything else is posted verbatim to its endpoint.
type Deliverer interface {
	Deliver(ctx context.Context, item Item) error
}

// APIDeliverer routes items through the backend client.
type APIDeliverer struct {
	Client *api.Client
}

func (d *APIDeliverer) Deliver(ctx context.Context, item Item) error {
	if item.Kind == KindCallOutcome {
		return d.Client.SubmitOutcomeBody(ctx, item.Payload)
	}
	return d.Client.SubmitRaw(ctx, item.Endpoint, item.Payload)
}

// Flusher drains the outbox opportunistically when the polling loop says
// connectivity looks healthy.
type Flusher struct {
	store   Store
	deliver Deliverer
	log     *slog.Logger
	clock   func() time.Time
}

func NewFlusher(store Store, deliver Deliverer, log *slog.Logger) *Flusher {
	return &Flusher{store: store, deliver: deliver, log: log, clock: time.Now}
}

// Flush attempts delivery kind by kind, FIFO within each kind. A transient
// failure stops the current kind (preserving FIFO) and moves on; a
// rate-limit response aborts the whole flush. Permanently rejected items
// are dropped after logging, since retrying them can never succeed.
func (f *Flusher) Flush(ctx context.Context) {
	for _, kind := range Kinds {
		items, err := f.store.NextBatch(ctx, kind, flushBatchSize)
		if err != nil {
			f.log.Error("outbox read failed", "kind", kind, "err", err)
			return
		}
		for _, item := range items {
			if ctx.Err() != nil {
				return
			}
			err := f.deliver.Deliver(ctx, item)
			if err == nil {
				if derr := f.store.Delete(ctx, item.ID); derr != nil {
					f.log.Error("outbox delete failed", "id", item.ID, "err", derr)
				}
				continue
			}
			if _, limited := api.IsRateLimited(err); limited {
				f.log.Debug("outbox flush rate limited, aborting", "kind", kind)
				return
			}
			if api.IsTransient(err) {
				_ = f.store.IncrementAttempt(ctx, item.ID)
				f.log.Debug("outbox delivery failed, keeping item",
					"kind", kind, "id", item.ID, "attempts", item.AttemptCount+1, "err", err)
				break // keep FIFO within this kind
			}
			var pe *api.PermanentError
			if errors.As(err, &pe) {
				f.log.Warn("outbox item permanently rejected, dropping",
					"kind", kind, "id", item.ID, "status", pe.Status)
				_ = f.store.Delete(ctx, item.ID)
				continue
			}
			// authorization failures and anything unclassified: stop, retry
			// on a later flush
			_ = f.store.IncrementAttempt(ctx, item.ID)
			f.log.Debug("outbox delivery failed", "kind", kind, "id", item.ID, "err", err)
			return
		}
	}
}

// Stats reports queue depth for the heartbeat.
func (f *Flusher) Stats(ctx context.Context) (Stats, error) {
	return f.store.Stats(ctx, f.clock())
}

// Enqueue records a failed submission for redelivery.
func (f *Flusher) Enqueue(ctx context.Context, kind Kind, endpoint string, payload []byte) error {
	return f.store.Enqueue(ctx, kind, endpoint, payload, f.clock())
}
