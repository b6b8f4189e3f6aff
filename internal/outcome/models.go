package outcome

import "time"

// CallOutcome is the finalized, reportable result of a pending call.
//
// Immutability invariant: once SentToServer is true the row never changes
// except SentAt. The store enforces this on upsert.
type CallOutcome struct {
	ID              string     `json:"id"`
	Status          Status     `json:"status"`
	Direction       string     `json:"direction,omitempty"`
	DurationSeconds *int       `json:"duration_seconds,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	ResolveMethod   Method     `json:"resolve_method"`
	ResolveReason   string     `json:"resolve_reason,omitempty"`
	AttemptsCount   int        `json:"attempts_count"`
	SentToServer    bool       `json:"sent_to_server"`
	SentAt          *time.Time `json:"sent_at,omitempty"`
}

type Status string

const (
	StatusConnected Status = "connected"
	StatusNoAnswer  Status = "no_answer"
	StatusRejected  Status = "rejected"
	StatusUnknown   Status = "unknown"
)

// Method says how the outcome was determined. Resolved calls carry
// MethodRetry (a retry check matched a call record); unresolvable calls
// carry MethodUnknown plus a machine-readable reason.
type Method string

const (
	MethodRetry   Method = "retry"
	MethodUnknown Method = "unknown"
)

// Reasons attached to MethodUnknown outcomes.
const (
	ReasonTimeout           = "timeout"
	ReasonPermissionMissing = "permission_missing"
	ReasonError             = "error"
)
