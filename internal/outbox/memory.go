package outbox

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-memory Store useful for tests.
// It is not intended for production use.
type Memory struct {
	mu    sync.Mutex
	items map[string]Item
}

func NewMemory() *Memory {
	return &Memory{items: make(map[string]Item)}
}

func (s *Memory) Enqueue(ctx context.Context, kind Kind, endpoint string, payload []byte, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.items[id] = Item{
		ID:         id,
		Kind:       kind,
		Endpoint:   endpoint,
		Payload:    append([]byte(nil), payload...),
		EnqueuedAt: now,
	}
	return nil
}

func (s *Memory) NextBatch(ctx context.Context, kind Kind, limit int) ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Item
	for _, it := range s.items {
		if it.Kind == kind {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnqueuedAt.Before(out[j].EnqueuedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Memory) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
	return nil
}

func (s *Memory) IncrementAttempt(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if it, ok := s.items[id]; ok {
		it.AttemptCount++
		s.items[id] = it
	}
	return nil
}

func (s *Memory) Stats(ctx context.Context, now time.Time) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{PerKind: make(map[Kind]int)}
	for _, it := range s.items {
		st.PerKind[it.Kind]++
		st.Total++
		if age := now.Sub(it.EnqueuedAt); age > st.OldestAge {
			st.OldestAge = age
		}
	}
	return st, nil
}

// Len is a test helper.
func (s *Memory) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
