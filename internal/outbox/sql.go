package outbox

import (
	"context"
	"time"

	"callagent/internal/storage"

	"github.com/google/uuid"
)

type SQLStore struct {
	db *storage.DB
}

func NewSQLStore(db *storage.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Enqueue(ctx context.Context, kind Kind, endpoint string, payload []byte, now time.Time) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO outbox_items (id, kind, endpoint, payload, enqueued_at, attempt_count)
		VALUES (?, ?, ?, ?, ?, 0)`),
		uuid.NewString(), string(kind), endpoint, string(payload), storage.FormatTime(now))
	return err
}

func (s *SQLStore) NextBatch(ctx context.Context, kind Kind, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
		SELECT id, kind, endpoint, payload, enqueued_at, attempt_count
		FROM outbox_items
		WHERE kind = ?
		ORDER BY enqueued_at ASC
		LIMIT ?`), string(kind), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var it Item
		var k, payload, enqueued string
		if err := rows.Scan(&it.ID, &k, &it.Endpoint, &payload, &enqueued, &it.AttemptCount); err != nil {
			return nil, err
		}
		it.Kind = Kind(k)
		it.Payload = []byte(payload)
		if t, err := storage.ParseTime(enqueued); err == nil {
			it.EnqueuedAt = t
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM outbox_items WHERE id = ?`), id)
	return err
}

func (s *SQLStore) IncrementAttempt(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		s.db.Rebind(`UPDATE outbox_items SET attempt_count = attempt_count + 1 WHERE id = ?`), id)
	return err
}

func (s *SQLStore) Stats(ctx context.Context, now time.Time) (Stats, error) {
	st := Stats{PerKind: make(map[Kind]int)}

	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, COUNT(*) FROM outbox_items GROUP BY kind`)
	if err != nil {
		return st, err
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			return st, err
		}
		st.PerKind[Kind(k)] = n
		st.Total += n
	}
	if err := rows.Err(); err != nil {
		return st, err
	}
	if st.Total == 0 {
		return st, nil
	}

	var oldest string
	if err := s.db.QueryRowContext(ctx,
		`SELECT MIN(enqueued_at) FROM outbox_items`).Scan(&oldest); err != nil {
		return st, err
	}
	if t, err := storage.ParseTime(oldest); err == nil {
		st.OldestAge = now.Sub(t)
	}
	return st, nil
}
