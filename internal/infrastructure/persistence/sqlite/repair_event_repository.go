package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/reglet-dev/exthost/internal/domain/repair"
	"github.com/reglet-dev/exthost/internal/domain/repositories"
)

var _ repositories.RepairEventRepository = (*RepairEventRepository)(nil)

// RepairEventRepository persists repair events in SQLite.
type RepairEventRepository struct {
	db *sql.DB
}

// NewRepairEventRepository wraps an open database.
func NewRepairEventRepository(db *sql.DB) *RepairEventRepository {
	return &RepairEventRepository{db: db}
}

// Append inserts an event.
func (r *RepairEventRepository) Append(ctx context.Context, ev repair.Event) (string, error) {
	const q = `INSERT INTO repair_events (id, extension_id, pattern, risk, original_error, repair_action, success, timestamp_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	rec := ev.Record()
	id := uuid.NewString()
	_, err := r.db.ExecContext(ctx, q,
		id,
		rec.ExtensionID,
		rec.Pattern,
		rec.Risk,
		rec.OriginalError,
		rec.RepairAction,
		rec.Success,
		rec.TimestampMS,
	)
	if err != nil {
		return "", fmt.Errorf("append repair event: %w", err)
	}
	return id, nil
}

// Find returns matching events ordered by insertion.
func (r *RepairEventRepository) Find(ctx context.Context, filter repositories.RepairEventFilter) ([]repair.Event, error) {
	var (
		where []string
		args  []any
	)
	if !filter.Extension.IsEmpty() {
		where = append(where, "extension_id = ?")
		args = append(args, filter.Extension.String())
	}
	if filter.Pattern != 0 {
		where = append(where, "pattern = ?")
		args = append(args, filter.Pattern.String())
	}
	if !filter.Since.IsZero() {
		where = append(where, "timestamp_ms >= ?")
		args = append(args, filter.Since.UnixMilli())
	}
	if !filter.Until.IsZero() {
		where = append(where, "timestamp_ms <= ?")
		args = append(args, filter.Until.UnixMilli())
	}

	q := `SELECT extension_id, pattern, original_error, repair_action, success, timestamp_ms FROM repair_events`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY seq ASC"
	if filter.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("find repair events: %w", err)
	}
	defer rows.Close()

	var out []repair.Event
	for rows.Next() {
		var rec repair.EventRecord
		if err := rows.Scan(&rec.ExtensionID, &rec.Pattern, &rec.OriginalError,
			&rec.RepairAction, &rec.Success, &rec.TimestampMS); err != nil {
			return nil, fmt.Errorf("scan repair event: %w", err)
		}
		ev, err := repair.EventFromRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("decode repair event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Count returns the number of stored events.
func (r *RepairEventRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM repair_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count repair events: %w", err)
	}
	return n, nil
}
