package resolve

import "time"

// State of a pending call. Legal transitions:
// PENDING→RESOLVING→{RESOLVED,FAILED}, plus RESOLVING→PENDING when a retry
// finds no match and the attempt budget is not exhausted. RESOLVED is final.
type State string

const (
	StatePending   State = "pending"
	StateResolving State = "resolving"
	StateResolved  State = "resolved"
	StateFailed    State = "failed"
)

// PendingCall is a call command accepted by the device whose real-world
// outcome is not yet known. Mutated only by the Machine; exactly one live
// record per ID.
type PendingCall struct {
	ID           string    `json:"id"`
	PhoneNumber  string    `json:"phone_number"`
	StartedAt    time.Time `json:"started_at"`
	State        State     `json:"state"`
	Attempts     int       `json:"attempts"`
	ActionSource string    `json:"action_source,omitempty"`
}
