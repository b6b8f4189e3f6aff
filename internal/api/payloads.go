package api

import (
	"time"

	"callagent/pkg/logger"
)

// Command is a server-issued instruction to place a call.
type Command struct {
	Phone string `json:"phone"`
	ID    string `json:"id"`
}

// OutcomePayload is the extended call-outcome report. Older servers reject
// the extended fields with 400/415/422; SubmitOutcomeBody falls back to the
// legacy subset in that case.
type OutcomePayload struct {
	CallRequestID       string `json:"call_request_id"`
	CallStatus          string `json:"call_status"`
	CallStartedAt       string `json:"call_started_at"`
	CallDurationSeconds *int   `json:"call_duration_seconds,omitempty"`
	Direction           string `json:"direction,omitempty"`
	ResolveMethod       string `json:"resolve_method,omitempty"`
	ResolveReason       string `json:"resolve_reason,omitempty"`
	AttemptsCount       int    `json:"attempts_count,omitempty"`
	ActionSource        string `json:"action_source,omitempty"`
	EndedAt             string `json:"ended_at,omitempty"`
}

type legacyOutcomePayload struct {
	CallRequestID       string `json:"call_request_id"`
	CallStatus          string `json:"call_status"`
	CallStartedAt       string `json:"call_started_at"`
	CallDurationSeconds *int   `json:"call_duration_seconds,omitempty"`
}

func (p OutcomePayload) legacy() legacyOutcomePayload {
	return legacyOutcomePayload{
		CallRequestID:       p.CallRequestID,
		CallStatus:          p.CallStatus,
		CallStartedAt:       p.CallStartedAt,
		CallDurationSeconds: p.CallDurationSeconds,
	}
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

type refreshResponse struct {
	Access string `json:"access"`
}

// HeartbeatPayload is the periodic device status report.
type HeartbeatPayload struct {
	DeviceID       string         `json:"device_id"`
	SentAt         time.Time      `json:"sent_at"`
	LastPollCode   int            `json:"last_poll_code"`
	LastPollAt     time.Time      `json:"last_poll_at"`
	PendingCalls   int            `json:"pending_calls"`
	OutboxCounts   map[string]int `json:"outbox_counts,omitempty"`
	OutboxOldestMS int64          `json:"outbox_oldest_ms,omitempty"`
}

// LogBundlePayload ships buffered log records.
type LogBundlePayload struct {
	DeviceID string          `json:"device_id"`
	SentAt   time.Time       `json:"sent_at"`
	Records  []logger.Record `json:"records"`
}
