package callrecord

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-memory Reader useful for tests.
// It is not intended for production use.
type Memory struct {
	mu         sync.Mutex
	rows       []Row
	denied     bool
	queryErr   error
	queryCalls int
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Add(rows ...Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, rows...)
}

// DenyPermission makes subsequent queries fail with ErrPermissionDenied.
func (m *Memory) DenyPermission() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.denied = true
}

// FailWith makes subsequent queries fail with err.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryErr = err
}

func (m *Memory) QueryCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queryCalls
}

func (m *Memory) QueryByTimeWindow(ctx context.Context, start, end time.Time, limit int) ([]Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryCalls++
	if m.denied {
		return nil, ErrPermissionDenied
	}
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	var out []Row
	for _, r := range m.rows {
		if !r.OccurredAt.Before(start) && !r.OccurredAt.After(end) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
