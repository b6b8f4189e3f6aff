package outcome

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-memory Store useful for tests.
// It is not intended for production use.
type Memory struct {
	mu sync.Mutex
	m  map[string]CallOutcome
}

func NewMemory() *Memory {
	return &Memory{m: make(map[string]CallOutcome)}
}

func (s *Memory) Upsert(ctx context.Context, o CallOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.m[o.ID]; ok && existing.SentToServer {
		return nil
	}
	s.m[o.ID] = o
	return nil
}

func (s *Memory) MarkSent(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.m[id]
	if !ok {
		return nil
	}
	o.SentToServer = true
	o.SentAt = &at
	s.m[id] = o
	return nil
}

func (s *Memory) Get(ctx context.Context, id string) (CallOutcome, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.m[id]
	return o, ok, nil
}

func (s *Memory) Recent(ctx context.Context, limit int) ([]CallOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CallOutcome, 0, len(s.m))
	for _, o := range s.m {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
