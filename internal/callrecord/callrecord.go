// Package callrecord exposes the device's own call log as a
// query-by-time-window capability. The resolution machine correlates
// pending commands against these rows to learn what actually happened.
package callrecord

import (
	"context"
	"errors"
	"time"
)

// ErrPermissionDenied means the host denied read access to the call log.
// The resolution machine finalizes affected calls as Unknown immediately
// rather than retrying against a source it can never read.
var ErrPermissionDenied = errors.New("callrecord: read permission missing")

type Type string

const (
	TypeOutgoing Type = "outgoing"
	TypeIncoming Type = "incoming"
	TypeMissed   Type = "missed"
	TypeRejected Type = "rejected"
	TypeUnknown  Type = "unknown"
)

// Row is one call-log entry.
type Row struct {
	Number          string
	Type            Type
	DurationSeconds int
	OccurredAt      time.Time
}

// Reader queries rows whose timestamp falls in [start, end], most recent
// first, at most limit rows.
type Reader interface {
	QueryByTimeWindow(ctx context.Context, start, end time.Time, limit int) ([]Row, error)
}
