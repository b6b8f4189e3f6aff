package resolve

import (
	"encoding/json"
	"errors"
	"time"

	"callagent/internal/api"
	"callagent/internal/outcome"
)

func outcomePayload(snap PendingCall, o outcome.CallOutcome) api.OutcomePayload {
	p := api.OutcomePayload{
		CallRequestID:       o.ID,
		CallStatus:          string(o.Status),
		CallStartedAt:       o.StartedAt.UTC().Format(time.RFC3339),
		CallDurationSeconds: o.DurationSeconds,
		Direction:           o.Direction,
		ResolveMethod:       string(o.ResolveMethod),
		ResolveReason:       o.ResolveReason,
		AttemptsCount:       o.AttemptsCount,
		ActionSource:        snap.ActionSource,
	}
	if o.EndedAt != nil {
		p.EndedAt = o.EndedAt.UTC().Format(time.RFC3339)
	}
	return p
}

func payloadBytes(p api.OutcomePayload) ([]byte, error) {
	return json.Marshal(p)
}

func isPermanent(err error) bool {
	var pe *api.PermanentError
	return errors.As(err, &pe)
}
