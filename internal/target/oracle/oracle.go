// Package oracle implements the CDC target-writer contract against Oracle
// using MERGE INTO ... USING (SELECT ... FROM DUAL) for idempotent delivery.
package oracle

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	_ "github.com/sijms/go-ora/v2"

	"github.com/uschtwill/hermod-cdc/internal/cdcerr"
	"github.com/uschtwill/hermod-cdc/internal/target"
	hermodcdc "github.com/uschtwill/hermod-cdc"
)

var _ hermodcdc.TargetWriter = (*Writer)(nil)

// Writer writes change events to an Oracle database.
type Writer struct {
	name   string
	dsn    string
	db     *sql.DB
	policy target.BackoffPolicy
}

func New(name, dsn string) *Writer {
	return &Writer{name: name, dsn: dsn, policy: target.DefaultBackoffPolicy}
}

func (w *Writer) Name() string { return w.name }

func (w *Writer) Connect(ctx context.Context) error {
	db, err := sql.Open("oracle", w.dsn)
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

// BatchUpsert MERGEs each row individually inside one transaction that is
// committed once after the last row; it does not commit part-way through
// the batch.
func (w *Writer) BatchUpsert(ctx context.Context, table string, rows []map[string]any, pkColumn string) error {
	if len(rows) == 0 {
		return nil
	}
	return target.WithRetry(ctx, w.policy, func() error {
		return w.mergeBatch(ctx, table, rows, pkColumn)
	})
}

func (w *Writer) mergeBatch(ctx context.Context, table string, rows []map[string]any, pkColumn string) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return cdcerr.Write("begin", table, err)
	}
	defer tx.Rollback()

	for _, row := range rows {
		query, args := buildMergeSQL(table, row, pkColumn)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return cdcerr.Write("merge", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return cdcerr.Write("commit", table, err)
	}
	return nil
}

// buildMergeSQL generates a MERGE INTO statement using Oracle's positional
// :1, :2, ... bind parameters. When the row has no non-key columns, the
// WHEN MATCHED clause updates the key onto itself so the statement stays
// valid SQL.
func buildMergeSQL(table string, row map[string]any, pkColumn string) (string, []any) {
	cols := sortedKeys(row)

	var args []any
	bind := func() string {
		args = append(args, nil)
		return fmt.Sprintf(":%d", len(args))
	}

	selectParts := make([]string, len(cols))
	for i, col := range cols {
		ph := bind()
		args[len(args)-1] = row[col]
		selectParts[i] = fmt.Sprintf("%s AS %s", ph, col)
	}

	updates := make([]string, 0, len(cols))
	for _, col := range cols {
		if col == pkColumn {
			continue
		}
		updates = append(updates, fmt.Sprintf("t.%s = s.%s", col, col))
	}
	updateClause := strings.Join(updates, ", ")
	if updateClause == "" {
		updateClause = fmt.Sprintf("t.%s = t.%s", pkColumn, pkColumn)
	}

	insertCols := make([]string, len(cols))
	insertVals := make([]string, len(cols))
	for i, col := range cols {
		insertCols[i] = col
		insertVals[i] = "s." + col
	}

	query := fmt.Sprintf(
		`MERGE INTO %s t USING (SELECT %s FROM DUAL) s ON (t.%s = s.%s)
WHEN MATCHED THEN UPDATE SET %s
WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s)`,
		table, strings.Join(selectParts, ", "), pkColumn, pkColumn,
		updateClause, strings.Join(insertCols, ", "), strings.Join(insertVals, ", "),
	)
	return query, args
}

// Delete removes a single row by primary key.
func (w *Writer) Delete(ctx context.Context, table, pkColumn string, pkValue any) error {
	return target.WithRetry(ctx, w.policy, func() error {
		query := fmt.Sprintf("DELETE FROM %s WHERE %s = :1", table, pkColumn)
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
