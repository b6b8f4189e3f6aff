// Package resolve determines, within a bounded window, what actually
// happened to each call the device was told to place, and reports exactly
// one outcome per command.
package resolve

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"callagent/internal/api"
	"callagent/internal/callrecord"
	"callagent/internal/outbox"
	"callagent/internal/outcome"
)

// retrySchedule holds the elapsed offsets from StartedAt at which a call
// is checked against the call record. The last entry bounds the total
// resolution window at five minutes.
var retrySchedule = []time.Duration{
	5 * time.Second, 10 * time.Second, 20 * time.Second, 30 * time.Second,
	60 * time.Second, 90 * time.Second, 120 * time.Second,
	180 * time.Second, 240 * time.Second, 300 * time.Second,
}

// maxScanRows bounds how many call-record rows one lookup examines.
const maxScanRows = 50

// lookupWindowBefore/After frame the call-record query around StartedAt.
const (
	lookupWindowBefore = 2 * time.Minute
	lookupWindowAfter  = 15 * time.Minute
)

// Submitter reports a finalized outcome to the server.
// Implemented by *api.Client.
type Submitter interface {
	SubmitOutcome(ctx context.Context, p api.OutcomePayload) error
}

// Machine tracks pending calls and drives their resolution. Intake (from
// the polling loop) and retry checks (per-call timer tasks plus the loop's
// sweep) can reference the same record concurrently; the PENDING→RESOLVING
// claim is the only synchronization they need.
type Machine struct {
	records  callrecord.Reader
	outcomes outcome.Store
	submit   Submitter
	outbox   *outbox.Flusher
	log      *slog.Logger

	mu    sync.Mutex
	calls map[string]*PendingCall

	// onFinalized lets the loop flush buffered telemetry opportunistically
	// after each finalization.
	onFinalized func()

	clock func() time.Time
	wg    sync.WaitGroup
}

func NewMachine(records callrecord.Reader, outcomes outcome.Store, submit Submitter, ob *outbox.Flusher, log *slog.Logger) *Machine {
	return &Machine{
		records:  records,
		outcomes: outcomes,
		submit:   submit,
		outbox:   ob,
		log:      log,
		calls:    make(map[string]*PendingCall),
		clock:    time.Now,
	}
}

// SetFinalizedHook registers a callback invoked after each finalization.
func (m *Machine) SetFinalizedHook(fn func()) {
	m.onFinalized = fn
}

// Intake accepts a command and creates its PendingCall. A second command
// with a live id is ignored; there is exactly one live record per id.
// A timer task is started that walks the retry schedule until the call is
// finalized or ctx is cancelled.
func (m *Machine) Intake(ctx context.Context, cmd api.Command, actionSource string) bool {
	m.mu.Lock()
	if _, exists := m.calls[cmd.ID]; exists {
		m.mu.Unlock()
		return false
	}
	pc := &PendingCall{
		ID:           cmd.ID,
		PhoneNumber:  cmd.Phone,
		StartedAt:    m.clock(),
		State:        StatePending,
		ActionSource: actionSource,
	}
	m.calls[cmd.ID] = pc
	m.mu.Unlock()

	m.log.Info("pending call created", "id", cmd.ID)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.watch(ctx, cmd.ID)
	}()
	return true
}

// watch is the per-call timer task: it sleeps until the next scheduled
// offset and runs an attempt, until the call leaves the table.
func (m *Machine) watch(ctx context.Context, id string) {
	for {
		m.mu.Lock()
		pc, ok := m.calls[id]
		if !ok {
			m.mu.Unlock()
			return
		}
		idx := pc.Attempts
		if idx > len(retrySchedule)-1 {
			idx = len(retrySchedule) - 1
		}
		due := pc.StartedAt.Add(retrySchedule[idx])
		m.mu.Unlock()

		if wait := due.Sub(m.clock()); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		if ctx.Err() != nil {
			return
		}
		m.Attempt(ctx, id)
	}
}

// Sweep runs due attempts for all pending calls. The polling loop calls
// this at most once per second; claims make it safe alongside the per-call
// timer tasks.
func (m *Machine) Sweep(ctx context.Context) {
	now := m.clock()
	m.mu.Lock()
	var due []string
	for id, pc := range m.calls {
		if pc.State != StatePending {
			continue
		}
		idx := pc.Attempts
		if idx > len(retrySchedule)-1 {
			idx = len(retrySchedule) - 1
		}
		if now.Sub(pc.StartedAt) >= retrySchedule[idx] {
			due = append(due, id)
		}
	}
	m.mu.Unlock()

	for _, id := range due {
		if ctx.Err() != nil {
			return
		}
		m.Attempt(ctx, id)
	}
}

// claim atomically transitions PENDING→RESOLVING and returns a snapshot.
// A false return means another attempt holds the claim or the call is
// gone; the caller must skip. This is what guarantees at most one
// concurrent resolution attempt per call id.
func (m *Machine) claim(id string) (PendingCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pc, ok := m.calls[id]
	if !ok || pc.State != StatePending {
		return PendingCall{}, false
	}
	pc.State = StateResolving
	return *pc, true
}

// release rolls a claimed call back to PENDING, bumping the attempt
// counter when advance is true.
func (m *Machine) release(id string, advance bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pc, ok := m.calls[id]
	if !ok || pc.State != StateResolving {
		return
	}
	pc.State = StatePending
	if advance {
		pc.Attempts++
	}
}

// Attempt claims the call, looks it up in the call record and either
// finalizes it or rolls it back for the next scheduled check.
func (m *Machine) Attempt(ctx context.Context, id string) {
	snap, ok := m.claim(id)
	if !ok {
		return
	}
	lastAttempt := snap.Attempts >= len(retrySchedule)-1

	start := snap.StartedAt.Add(-lookupWindowBefore)
	end := snap.StartedAt.Add(lookupWindowAfter)
	rows, err := m.records.QueryByTimeWindow(ctx, start, end, maxScanRows)
	switch {
	case errors.Is(err, callrecord.ErrPermissionDenied):
		// never resolvable; do not wait out the window
		m.finalize(ctx, snap, outcome.CallOutcome{
			Status:        outcome.StatusUnknown,
			ResolveMethod: outcome.MethodUnknown,
			ResolveReason: outcome.ReasonPermissionMissing,
		})
		return
	case err != nil && ctx.Err() != nil:
		// cancellation must not leave the call stuck in RESOLVING
		m.release(id, false)
		return
	case err != nil:
		m.log.Warn("call record lookup failed", "id", id, "err", err)
		if lastAttempt {
			m.finalize(ctx, snap, outcome.CallOutcome{
				Status:        outcome.StatusUnknown,
				ResolveMethod: outcome.MethodUnknown,
				ResolveReason: outcome.ReasonError,
			})
			return
		}
		m.release(id, true)
		return
	}

	row, found := matchRow(rows, snap.PhoneNumber)
	if !found {
		if lastAttempt {
			m.finalize(ctx, snap, outcome.CallOutcome{
				Status:        outcome.StatusUnknown,
				ResolveMethod: outcome.MethodUnknown,
				ResolveReason: outcome.ReasonTimeout,
			})
			return
		}
		m.release(id, true)
		return
	}

	status, direction := deriveOutcome(row)
	duration := row.DurationSeconds
	ended := row.OccurredAt.Add(time.Duration(duration) * time.Second)
	m.finalize(ctx, snap, outcome.CallOutcome{
		Status:          status,
		Direction:       direction,
		DurationSeconds: &duration,
		EndedAt:         &ended,
		ResolveMethod:   outcome.MethodRetry,
	})
}

// finalize records the outcome, reports it (outbox on retryable failure)
// and removes the pending call. It is only reachable from a successful
// claim, so exactly one outcome is ever produced per call id.
func (m *Machine) finalize(ctx context.Context, snap PendingCall, o outcome.CallOutcome) {
	o.ID = snap.ID
	o.StartedAt = snap.StartedAt
	o.AttemptsCount = snap.Attempts + 1

	if err := m.outcomes.Upsert(ctx, o); err != nil {
		m.log.Error("outcome upsert failed", "id", o.ID, "err", err)
	}

	payload := outcomePayload(snap, o)
	err := m.submit.SubmitOutcome(ctx, payload)
	switch {
	case err == nil:
		now := m.clock()
		if merr := m.outcomes.MarkSent(ctx, o.ID, now); merr != nil {
			m.log.Error("outcome mark-sent failed", "id", o.ID, "err", merr)
		}
		m.log.Info("call outcome reported",
			"id", o.ID, "status", o.Status, "method", o.ResolveMethod, "attempts", o.AttemptsCount)
	case isPermanent(err):
		m.log.Error("server permanently rejected outcome", "id", o.ID, "err", err)
	default:
		// retryable: queue verbatim for redelivery
		body, merr := payloadBytes(payload)
		if merr == nil {
			if qerr := m.outbox.Enqueue(ctx, outbox.KindCallOutcome, api.EndpointOutcome, body); qerr != nil {
				m.log.Error("outbox enqueue failed", "id", o.ID, "err", qerr)
			} else {
				m.log.Info("outcome queued for redelivery", "id", o.ID, "err", err)
			}
		}
	}

	m.mu.Lock()
	delete(m.calls, snap.ID)
	m.mu.Unlock()

	if m.onFinalized != nil {
		m.onFinalized()
	}
}

// PendingCount returns the number of live pending calls; the loop uses it
// to pick the fast polling mode.
func (m *Machine) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Snapshot copies the pending table for the diagnostics surface.
func (m *Machine) Snapshot() []PendingCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PendingCall, 0, len(m.calls))
	for _, pc := range m.calls {
		out = append(out, *pc)
	}
	return out
}

// Wait blocks until all per-call timer tasks have observed cancellation.
func (m *Machine) Wait() {
	m.wg.Wait()
}
