// Package mysql implements the CDC target-writer contract against MySQL
// using INSERT ... ON DUPLICATE KEY UPDATE for idempotent delivery.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	_ "github.com/go-sql-driver/mysql"

	"github.com/uschtwill/hermod-cdc/internal/cdcerr"
	"github.com/uschtwill/hermod-cdc/internal/target"
	hermodcdc "github.com/uschtwill/hermod-cdc"
)

var _ hermodcdc.TargetWriter = (*Writer)(nil)

// Writer writes change events to a MySQL database.
type Writer struct {
	name   string
	dsn    string
	db     *sql.DB
	policy target.BackoffPolicy
}

// New creates a Writer that will dial dsn on Connect.
func New(name, dsn string) *Writer {
	return &Writer{name: name, dsn: dsn, policy: target.DefaultBackoffPolicy}
}

func (w *Writer) Name() string { return w.name }

func (w *Writer) Connect(ctx context.Context) error {
	db, err := sql.Open("mysql", w.dsn)
	if err != nil {
		return cdcerr.Connect("open", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return cdcerr.Connect("ping", err)
	}
	w.db = db
	return nil
}

func (w *Writer) Close() error {
	if w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) Ping(ctx context.Context) error {
	if err := w.db.PingContext(ctx); err != nil {
		return cdcerr.Connect("ping", err)
	}
	return nil
}

// BatchUpsert writes rows to table inside one transaction, one upsert
// statement per row, retrying the whole transaction on transient errors.
// There is no multi-row batch statement and no per-row fallback: a failing
// row rolls back every row of the batch.
func (w *Writer) BatchUpsert(ctx context.Context, table string, rows []map[string]any, pkColumn string) error {
	if len(rows) == 0 {
		return nil
	}
	return target.WithRetry(ctx, w.policy, func() error {
		return w.upsertBatch(ctx, table, rows, pkColumn)
	})
}

func (w *Writer) upsertBatch(ctx context.Context, table string, rows []map[string]any, pkColumn string) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return cdcerr.Write("begin", table, err)
	}
	defer tx.Rollback()

	for _, row := range rows {
		query, args := buildUpsertSQL(table, row, pkColumn)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return cdcerr.Write("upsert", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return cdcerr.Write("commit", table, err)
	}
	return nil
}

// buildUpsertSQL generates an INSERT ... ON DUPLICATE KEY UPDATE statement
// for a single row, with columns in deterministic order.
func buildUpsertSQL(table string, row map[string]any, pkColumn string) (string, []any) {
	cols := sortedKeys(row)

	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	updates := make([]string, 0, len(cols))
	for i, col := range cols {
		placeholders[i] = "?"
		args[i] = row[col]
		if col != pkColumn {
			updates = append(updates, fmt.Sprintf("`%s` = VALUES(`%s`)", col, col))
		}
	}

	quotedCols := make([]string, len(cols))
	for i, col := range cols {
		quotedCols[i] = fmt.Sprintf("`%s`", col)
	}

	query := fmt.Sprintf(
		"INSERT INTO `%s` (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s",
		table, strings.Join(quotedCols, ", "), strings.Join(placeholders, ", "),
		onDuplicateClause(updates, pkColumn),
	)
	return query, args
}

func onDuplicateClause(updates []string, pkColumn string) string {
	if len(updates) == 0 {
		return fmt.Sprintf("`%s` = `%s`", pkColumn, pkColumn)
	}
	return strings.Join(updates, ", ")
}

// Delete removes a single row by primary key.
func (w *Writer) Delete(ctx context.Context, table, pkColumn string, pkValue any) error {
	return target.WithRetry(ctx, w.policy, func() error {
		query := fmt.Sprintf("DELETE FROM `%s` WHERE `%s` = ?", table, pkColumn)
		if _, err := w.db.ExecContext(ctx, query, pkValue); err != nil {
			return cdcerr.Write("delete", table, err)
		}
		return nil
	})
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
