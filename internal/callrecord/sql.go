package callrecord

import (
	"context"
	"time"

	"callagent/internal/storage"

	"github.com/google/uuid"
)

// SQLReader reads the call-record mirror table the host keeps in the
// agent's durable store.
type SQLReader struct {
	db *storage.DB
}

func NewSQLReader(db *storage.DB) *SQLReader {
	return &SQLReader{db: db}
}

func (r *SQLReader) QueryByTimeWindow(ctx context.Context, start, end time.Time, limit int) ([]Row, error) {
	if limit <= 0 {
		limit = 50
	}
	query := r.db.Rebind(`
		SELECT number, type, duration_seconds, occurred_at
		FROM call_records
		WHERE occurred_at >= ? AND occurred_at <= ?
		ORDER BY occurred_at DESC
		LIMIT ?`)
	rows, err := r.db.QueryContext(ctx, query, storage.FormatTime(start), storage.FormatTime(end), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var row Row
		var typ, occurred string
		if err := rows.Scan(&row.Number, &typ, &row.DurationSeconds, &occurred); err != nil {
			return nil, err
		}
		row.Type = Type(typ)
		if t, err := storage.ParseTime(occurred); err == nil {
			row.OccurredAt = t
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Insert mirrors a call-log entry into the store; the host calls this when
// the platform reports call activity.
func (r *SQLReader) Insert(ctx context.Context, row Row) error {
	query := r.db.Rebind(`
		INSERT INTO call_records (id, number, type, duration_seconds, occurred_at)
		VALUES (?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query,
		uuid.NewString(), row.Number, string(row.Type), row.DurationSeconds, storage.FormatTime(row.OccurredAt))
	return err
}
