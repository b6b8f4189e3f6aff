// Package engine runs the polling loop: it pulls commands from the server
// and drives the backoff controller, resolution sweeps, outbox flushes and
// the periodic heartbeat/telemetry/log submissions from one cooperative
// loop.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"callagent/internal/api"
	"callagent/internal/auth"
	"callagent/internal/backoff"
	"callagent/internal/outbox"
	"callagent/internal/resolve"
	"callagent/internal/telemetry"
	"callagent/pkg/logger"
)

// tokenRefreshLead is how far ahead of access-token expiry the loop
// refreshes proactively instead of eating a 401 on the next pull.
const tokenRefreshLead = 30 * time.Second

// Config holds the loop's cycle cadences.
type Config struct {
	HeartbeatEveryCycles int
	OutboxEveryCycles    int
	LogEveryCycles       int
	LogBufferThreshold   int
}

func (c Config) withDefaults() Config {
	out := c
	if out.HeartbeatEveryCycles <= 0 {
		out.HeartbeatEveryCycles = 10
	}
	if out.OutboxEveryCycles <= 0 {
		out.OutboxEveryCycles = 20
	}
	if out.LogEveryCycles <= 0 {
		out.LogEveryCycles = 120
	}
	if out.LogBufferThreshold <= 0 {
		out.LogBufferThreshold = 200
	}
	return out
}

// PollStatus is the last poll's observable result.
type PollStatus struct {
	Code int       `json:"code"`
	At   time.Time `json:"at"`
	Err  string    `json:"err,omitempty"`
}

// Options wires the engine's collaborators. Uses a struct because the
// composition root owns every dependency explicitly.
type Options struct {
	Config    Config
	Client    *api.Client
	Tokens    *auth.Coordinator
	Creds     *auth.Credentials
	Backoff   *backoff.Controller
	Machine   *resolve.Machine
	Outbox    *outbox.Flusher
	Telemetry *telemetry.Buffer
	Logs      *logger.Capture
	DeviceID  string
	Logger    *slog.Logger
}

type Engine struct {
	cfg      Config
	client   *api.Client
	tokens   *auth.Coordinator
	creds    *auth.Credentials
	backoff  *backoff.Controller
	machine  *resolve.Machine
	outbox   *outbox.Flusher
	tbuf     *telemetry.Buffer
	logs     *logger.Capture
	deviceID string
	log      *slog.Logger

	// foreground is set by the host UI layer; it switches the loop into
	// fast mode while a human is watching.
	foreground atomic.Bool

	lastCommandAt  atomic.Int64
	status         atomic.Pointer[PollStatus]
	flushRequested atomic.Bool

	consecutiveEmpty int
	cycle            int
	lastSweep        time.Time

	clock func() time.Time
}

func New(opts Options) *Engine {
	e := &Engine{
		cfg:      opts.Config.withDefaults(),
		client:   opts.Client,
		tokens:   opts.Tokens,
		creds:    opts.Creds,
		backoff:  opts.Backoff,
		machine:  opts.Machine,
		outbox:   opts.Outbox,
		tbuf:     opts.Telemetry,
		logs:     opts.Logs,
		deviceID: opts.DeviceID,
		log:      opts.Logger,
		clock:    time.Now,
	}
	e.machine.SetFinalizedHook(func() {
		e.flushRequested.Store(true)
	})
	return e
}

// SetForeground is called by the host when the UI gains or loses focus.
func (e *Engine) SetForeground(active bool) {
	e.foreground.Store(active)
}

// Status returns the last poll's code and time for diagnostics.
func (e *Engine) Status() PollStatus {
	if st := e.status.Load(); st != nil {
		return *st
	}
	return PollStatus{}
}

// Run drives the loop until ctx is cancelled or the session becomes
// invalid. No other error terminates it.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info("polling loop started", "device_id", e.deviceID)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		delay, err := e.iterate(ctx)
		if err != nil {
			return err
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// iterate performs one cycle: pull, classify, update backoff, sweep,
// periodic side work, compute the next delay. A non-nil error is returned
// only for a confirmed invalid session.
func (e *Engine) iterate(ctx context.Context) (time.Duration, error) {
	if e.creds.ExpiresWithin(ctx, e.clock(), tokenRefreshLead) {
		if _, err := e.tokens.Refresh(ctx); errors.Is(err, auth.ErrSessionInvalid) {
			return 0, err
		}
	}

	start := e.clock()
	cmd, err := e.client.PullCommand(ctx)
	elapsed := e.clock().Sub(start)

	var (
		code        int
		rateLimited bool
		retryAfter  time.Duration
		degraded    bool
		fixedDelay  time.Duration
	)
	switch {
	case err == nil && cmd != nil:
		code = http.StatusOK
		e.backoff.Decrement()
		e.consecutiveEmpty = 0
		e.lastCommandAt.Store(e.clock().UnixNano())
		if e.machine.Intake(ctx, *cmd, "server_command") {
			e.log.Info("command received", "id", cmd.ID)
		}
		e.flushTelemetry(ctx)
	case err == nil:
		code = http.StatusNoContent
		e.backoff.Decrement()
		e.consecutiveEmpty++
	case errors.Is(err, auth.ErrSessionInvalid):
		e.log.Error("session invalid, stopping loop")
		return 0, err
	case errors.Is(err, api.ErrUnauthorized) || errors.Is(err, auth.ErrRefreshUnavailable):
		code = http.StatusUnauthorized
		degraded = true
		fixedDelay = transientRetryDelay
		e.log.Warn("authorization failed, retrying next cycle", "err", err)
	default:
		if ra, limited := api.IsRateLimited(err); limited {
			code = http.StatusTooManyRequests
			e.backoff.Increment()
			rateLimited = true
			retryAfter = ra
		} else {
			degraded = true
			fixedDelay = transientRetryDelay
			e.log.Debug("pull failed", "err", err)
		}
	}

	e.tbuf.Add(telemetry.Sample{At: start, Code: code, DurationMS: elapsed.Milliseconds()})
	e.recordStatus(code, err)

	if now := e.clock(); now.Sub(e.lastSweep) >= time.Second {
		e.lastSweep = now
		e.machine.Sweep(ctx)
	}

	e.cycle++
	if e.cycle%e.cfg.HeartbeatEveryCycles == 0 {
		e.sendHeartbeat(ctx)
	}
	if e.cycle%e.cfg.OutboxEveryCycles == 0 && !degraded {
		e.outbox.Flush(ctx)
	}
	if e.cycle%e.cfg.LogEveryCycles == 0 || e.logs.Len() > e.cfg.LogBufferThreshold {
		e.submitLogs(ctx)
	}
	if e.flushRequested.Swap(false) {
		e.flushTelemetry(ctx)
	}

	switch {
	case rateLimited:
		return e.backoff.RateLimitDelay(retryAfter), nil
	case fixedDelay > 0:
		return fixedDelay, nil
	case e.fastMode():
		return fastInterval(e.consecutiveEmpty), nil
	default:
		return slowInterval(e.backoff.EmptyPollDelay(e.consecutiveEmpty)), nil
	}
}

// fastMode is selected while the UI is foreground, a pending call exists,
// or a command arrived within the recent-command window.
func (e *Engine) fastMode() bool {
	if e.foreground.Load() || e.machine.PendingCount() > 0 {
		return true
	}
	last := e.lastCommandAt.Load()
	return last > 0 && e.clock().Sub(time.Unix(0, last)) < recentCommandWindow
}

// recordStatus publishes the last poll code/time. The persisted write is
// fire-and-forget so it never blocks the loop.
func (e *Engine) recordStatus(code int, err error) {
	st := &PollStatus{Code: code, At: e.clock()}
	if err != nil {
		st.Err = err.Error()
	}
	e.status.Store(st)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = e.creds.SetLastStatus(ctx, fmt.Sprintf("%d@%s", st.Code, st.At.UTC().Format(time.RFC3339)))
	}()
}

func (e *Engine) sendHeartbeat(ctx context.Context) {
	st := e.Status()
	p := api.HeartbeatPayload{
		DeviceID:     e.deviceID,
		SentAt:       e.clock(),
		LastPollCode: st.Code,
		LastPollAt:   st.At,
		PendingCalls: e.machine.PendingCount(),
	}
	if stats, err := e.outbox.Stats(ctx); err == nil {
		counts := make(map[string]int, len(stats.PerKind))
		for k, n := range stats.PerKind {
			counts[string(k)] = n
		}
		p.OutboxCounts = counts
		p.OutboxOldestMS = stats.OldestAge.Milliseconds()
	}

	err := e.client.Heartbeat(ctx, p)
	if err == nil {
		return
	}
	if api.IsTransient(err) {
		if body, merr := json.Marshal(p); merr == nil {
			if qerr := e.outbox.Enqueue(ctx, outbox.KindHeartbeat, api.EndpointHeartbeat, body); qerr != nil {
				e.log.Error("heartbeat enqueue failed", "err", qerr)
			}
		}
		return
	}
	e.log.Debug("heartbeat failed", "err", err)
}

// flushTelemetry drains buffered samples and submits them. A 429 drops
// the batch rather than enqueueing it: amplifying rate-limit pressure
// with a non-critical payload is worse than losing timing samples.
func (e *Engine) flushTelemetry(ctx context.Context) {
	batch := e.tbuf.DrainBatch(e.deviceID, e.clock())
	if batch == nil {
		return
	}
	err := e.client.Telemetry(ctx, batch)
	if err == nil {
		return
	}
	if _, limited := api.IsRateLimited(err); limited {
		e.log.Debug("telemetry rate limited, dropping batch", "samples", len(batch.Samples))
		return
	}
	if api.IsTransient(err) {
		if body, merr := json.Marshal(batch); merr == nil {
			_ = e.outbox.Enqueue(ctx, outbox.KindTelemetry, api.EndpointTelemetry, body)
		}
		return
	}
	e.tbuf.Requeue(batch.Samples)
}

func (e *Engine) submitLogs(ctx context.Context) {
	records := e.logs.Drain()
	if len(records) == 0 {
		return
	}
	p := api.LogBundlePayload{
		DeviceID: e.deviceID,
		SentAt:   e.clock(),
		Records:  records,
	}
	err := e.client.LogBundle(ctx, p)
	if err == nil {
		return
	}
	if api.IsTransient(err) {
		if body, merr := json.Marshal(p); merr == nil {
			_ = e.outbox.Enqueue(ctx, outbox.KindLogBundle, api.EndpointLogs, body)
		}
		return
	}
	e.logs.Requeue(records)
}
