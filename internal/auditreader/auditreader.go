// Package auditreader streams unconsumed rows from the audit log and tracks
// how far behind the reader is.
package auditreader

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/uschtwill/hermod-cdc/internal/audit"
	"github.com/uschtwill/hermod-cdc/internal/cdcerr"
	hermodcdc "github.com/uschtwill/hermod-cdc"
)

// Reader fetches unconsumed audit rows in ascending id order and marks them
// consumed once every target has durably applied them.
type Reader struct {
	db         *sql.DB
	lastReadID int64
}

// New creates a Reader that starts scanning strictly after startAfterID.
func New(db *sql.DB, startAfterID int64) *Reader {
	return &Reader{db: db, lastReadID: startAfterID}
}

// FetchBatch returns up to limit unconsumed events with id > the reader's
// current position and advances the position to the last id returned. It
// does not mark anything consumed — callers call MarkConsumed after
// successful delivery.
func (r *Reader) FetchBatch(ctx context.Context, limit int) ([]hermodcdc.ChangeEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, table_name, operation, row_id, before_data, after_data, created_at
		FROM `+audit.TableName+`
		WHERE id > ? AND consumed_at IS NULL
		ORDER BY id
		LIMIT ?
	`, r.lastReadID, limit)
	if err != nil {
		return nil, cdcerr.Read("fetch_batch", err)
	}
	defer rows.Close()

	var events []hermodcdc.ChangeEvent
	for rows.Next() {
		var row audit.Row
		var createdAt string
		if err := rows.Scan(&row.ID, &row.TableName, &row.Operation, &row.RowKey, &row.BeforeData, &row.AfterData, &createdAt); err != nil {
			return nil, cdcerr.Read("scan", err)
		}
		row.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		events = append(events, hermodcdc.ChangeEvent{
			ID:        row.ID,
			Table:     row.TableName,
			Operation: hermodcdc.Operation(row.Operation),
			RowKey:    row.RowKey.String,
			Before:    row.DecodeBefore(),
			After:     row.DecodeAfter(),
			CreatedAt: row.CreatedAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, cdcerr.Read("rows", err)
	}

	if len(events) > 0 {
		r.lastReadID = events[len(events)-1].ID
	}
	return events, nil
}

// MarkConsumed stamps consumed_at for the given audit ids. It does not
// error on an empty slice.
func (r *Reader) MarkConsumed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	q := fmt.Sprintf(
		`UPDATE %s SET consumed_at = strftime('%%Y-%%m-%%dT%%H:%%M:%%fZ', 'now') WHERE id IN (%s)`,
		audit.TableName, strings.Join(placeholders, ","),
	)
	if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
		return cdcerr.Read("mark_consumed", err)
	}
	return nil
}

// Stats summarizes reader progress against the audit log's current head.
type Stats struct {
	MaxID      int64
	LastReadID int64
	Pending    int64
}

// Stats queries the current max audit id and derives a pending backlog
// count relative to the reader's position.
func (r *Reader) Stats(ctx context.Context) (Stats, error) {
	var maxID sql.NullInt64
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(id) FROM `+audit.TableName).Scan(&maxID); err != nil {
		return Stats{}, cdcerr.Read("stats", err)
	}
	pending := maxID.Int64 - r.lastReadID
	if pending < 0 {
		pending = 0
	}
	return Stats{MaxID: maxID.Int64, LastReadID: r.lastReadID, Pending: pending}, nil
}

// LastReadID reports the reader's current cursor position.
func (r *Reader) LastReadID() int64 { return r.lastReadID }
