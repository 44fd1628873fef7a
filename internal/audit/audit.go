// Package audit manages the append-only _cdc_audit_log table that the
// capture interceptor writes to and the audit reader streams from.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const TableName = "_cdc_audit_log"

const schemaDDL = `
CREATE TABLE IF NOT EXISTS ` + TableName + ` (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	table_name TEXT NOT NULL,
	operation TEXT NOT NULL CHECK (operation IN ('INSERT', 'UPDATE', 'DELETE')),
	row_id TEXT,
	before_data TEXT,
	after_data TEXT,
	created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
	consumed_at TEXT,
	retry_count INTEGER NOT NULL DEFAULT 0 CHECK (retry_count >= 0)
);

CREATE INDEX IF NOT EXISTS idx_` + TableName + `_unconsumed
	ON ` + TableName + ` (id) WHERE consumed_at IS NULL;

CREATE INDEX IF NOT EXISTS idx_` + TableName + `_table
	ON ` + TableName + ` (table_name, created_at);
`

// EnsureSchema creates the audit log table and its indices if they don't
// already exist. Safe to call on every startup.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schemaDDL)
	return err
}

// Row is a single audit log record as read back from the database.
type Row struct {
	ID         int64
	TableName  string
	Operation  string
	RowKey     sql.NullString
	BeforeData sql.NullString
	AfterData  sql.NullString
	CreatedAt  time.Time
	ConsumedAt sql.NullTime
	RetryCount int64
}

// DecodeBefore unmarshals BeforeData into a map, returning nil if it is
// absent or malformed. A malformed image must never fail the caller's
// batch; it only means no before-image is available for this row.
func (r Row) DecodeBefore() map[string]any { return decodeJSON(r.BeforeData) }

// DecodeAfter unmarshals AfterData into a map under the same rules as
// DecodeBefore.
func (r Row) DecodeAfter() map[string]any { return decodeJSON(r.AfterData) }

func decodeJSON(ns sql.NullString) map[string]any {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(ns.String), &m); err != nil {
		return nil
	}
	return m
}

// IncrementRetryCount bumps retry_count for the given audit ids by one. It
// does not error on an empty slice. Callers use this to track how many
// delivery attempts an audit row has survived without yet being consumed.
func IncrementRetryCount(ctx context.Context, db *sql.DB, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	q := fmt.Sprintf(`UPDATE %s SET retry_count = retry_count + 1 WHERE id IN (%s)`, TableName, strings.Join(placeholders, ","))
	_, err := db.ExecContext(ctx, q, args...)
	return err
}

// EncodeImage serializes a row image for storage. A nil map encodes as SQL
// NULL rather than the literal string "null".
func EncodeImage(m map[string]any) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
