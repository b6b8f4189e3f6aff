package outcome

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"callagent/internal/storage"
	"callagent/pkg/utils"
)

type SQLStore struct {
	db *storage.DB
}

func NewSQLStore(db *storage.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Upsert(ctx context.Context, o CallOutcome) error {
	return utils.WithTx(ctx, s.db.DB, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		var sent int
		err := tx.QueryRowContext(ctx,
			s.db.Rebind(`SELECT sent_to_server FROM call_outcomes WHERE id = ?`), o.ID,
		).Scan(&sent)
		switch {
		case err == nil && sent != 0:
			// immutable once reported
			return nil
		case err == nil:
			if _, err := tx.ExecContext(ctx, s.db.Rebind(`DELETE FROM call_outcomes WHERE id = ?`), o.ID); err != nil {
				return err
			}
		case errors.Is(err, sql.ErrNoRows):
			// first write
		default:
			return err
		}

		_, err = tx.ExecContext(ctx, s.db.Rebind(`
			INSERT INTO call_outcomes
				(id, status, direction, duration_seconds, started_at, ended_at,
				 resolve_method, resolve_reason, attempts_count, sent_to_server, sent_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			o.ID, string(o.Status), o.Direction, nullableInt(o.DurationSeconds),
			storage.FormatTime(o.StartedAt), formatOptTime(o.EndedAt),
			string(o.ResolveMethod), o.ResolveReason, o.AttemptsCount,
			boolToInt(o.SentToServer), formatOptTime(o.SentAt))
		return err
	})
}

func (s *SQLStore) MarkSent(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE call_outcomes SET sent_to_server = 1, sent_at = ? WHERE id = ?`),
		storage.FormatTime(at), id)
	return err
}

func (s *SQLStore) Get(ctx context.Context, id string) (CallOutcome, bool, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(selectColumns+` WHERE id = ?`), id)
	o, err := scanOutcome(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return CallOutcome{}, false, nil
	}
	if err != nil {
		return CallOutcome{}, false, err
	}
	return o, true, nil
}

func (s *SQLStore) Recent(ctx context.Context, limit int) ([]CallOutcome, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		s.db.Rebind(selectColumns+` ORDER BY started_at DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallOutcome
	for rows.Next() {
		o, err := scanOutcome(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

const selectColumns = `
	SELECT id, status, direction, duration_seconds, started_at, ended_at,
	       resolve_method, resolve_reason, attempts_count, sent_to_server, sent_at
	FROM call_outcomes`

func scanOutcome(scan func(dest ...any) error) (CallOutcome, error) {
	var o CallOutcome
	var status, method string
	var duration sql.NullInt64
	var started, ended, sentAt string
	var sent int
	if err := scan(&o.ID, &status, &o.Direction, &duration, &started, &ended,
		&method, &o.ResolveReason, &o.AttemptsCount, &sent, &sentAt); err != nil {
		return CallOutcome{}, err
	}
	o.Status = Status(status)
	o.ResolveMethod = Method(method)
	o.SentToServer = sent != 0
	if duration.Valid {
		d := int(duration.Int64)
		o.DurationSeconds = &d
	}
	if t, err := storage.ParseTime(started); err == nil {
		o.StartedAt = t
	}
	if t, err := storage.ParseTime(ended); err == nil {
		o.EndedAt = &t
	}
	if t, err := storage.ParseTime(sentAt); err == nil {
		o.SentAt = &t
	}
	return o, nil
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func formatOptTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return storage.FormatTime(*t)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
