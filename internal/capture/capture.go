// Package capture intercepts writes against the embedded SQLite source and
// records a before/after image of each audited row into the audit log, in
// the same transaction as the business write it accompanies.
package capture

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/uschtwill/hermod-cdc/internal/audit"
	"github.com/uschtwill/hermod-cdc/internal/cdcerr"
	"github.com/uschtwill/hermod-cdc/internal/sqlparse"
	hermodcdc "github.com/uschtwill/hermod-cdc"
)

const insertAuditSQL = `
INSERT INTO ` + audit.TableName + ` (table_name, operation, row_id, before_data, after_data)
VALUES (?, ?, ?, ?, ?)
`

// hermodRowIDAlias is the synthetic column name the before-image query uses
// to smuggle SQLite's physical ROWID back alongside the row's real columns,
// so the same round trip that fetches the before-image also yields the
// identifier needed for the UPDATE after-image lookup.
const hermodRowIDAlias = "hermod_rowid"

var whereRe = regexp.MustCompile(`(?is)\bwhere\b(.*?)(?:;?\s*)$`)

// Conn wraps a SQLite connection pool, intercepting writes to the audited
// table set and auditing them transactionally alongside the business write.
type Conn struct {
	db     *sql.DB
	tables map[string]struct{}
	logger hermodcdc.Logger

	pkMu      sync.Mutex
	pkColumns map[string]string
}

// Open opens the SQLite database at dsn in WAL mode with a single-writer
// connection pool, ensures the audit schema exists, and returns a Conn that
// audits writes to auditedTables.
func Open(ctx context.Context, dsn string, auditedTables []string, logger hermodcdc.Logger) (*Conn, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, cdcerr.Connect("open", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, cdcerr.Connect("pragma", err)
		}
	}

	if err := audit.EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, cdcerr.Connect("ensure_schema", err)
	}

	tables := make(map[string]struct{}, len(auditedTables))
	for _, t := range auditedTables {
		tables[t] = struct{}{}
	}

	return &Conn{db: db, tables: tables, logger: logger, pkColumns: map[string]string{}}, nil
}

// DB exposes the underlying pool for read-only callers (audit reader,
// initial sync) that don't need interception.
func (c *Conn) DB() *sql.DB { return c.db }

func (c *Conn) Close() error { return c.db.Close() }

func (c *Conn) isAudited(table string) bool {
	_, ok := c.tables[table]
	return ok
}

// Exec runs a statement, auditing it transactionally if it is a write
// against an audited table. Reads and writes to non-audited tables pass
// straight through to the pool.
func (c *Conn) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	op, table, ok := sqlparse.Classify(query)
	if !ok || !c.isAudited(table) {
		res, err := c.db.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, cdcerr.Capture("exec", table, err)
		}
		return res, nil
	}
	return c.execWithAudit(ctx, op, table, query, args...)
}

// ExecMany applies query once per row in argRows, auditing each row
// individually so partial batches still produce accurate audit entries.
func (c *Conn) ExecMany(ctx context.Context, query string, argRows [][]any) error {
	for _, args := range argRows {
		if _, err := c.Exec(ctx, query, args...); err != nil {
			return err
		}
	}
	return nil
}

func (c *Conn) execWithAudit(ctx context.Context, op hermodcdc.Operation, table, query string, args ...any) (sql.Result, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, cdcerr.Capture("begin", table, err)
	}
	defer tx.Rollback()

	var before map[string]any
	var beforeRowID int64
	var haveBeforeRowID bool
	if op == hermodcdc.OpUpdate || op == hermodcdc.OpDelete {
		before, beforeRowID, haveBeforeRowID, err = c.fetchBeforeData(ctx, tx, table, query, args)
		if err != nil {
			c.logger.Warn("capture before-image fetch failed", "table", table, "error", err)
		}
	}

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, cdcerr.Capture("exec", table, err)
	}

	var after map[string]any
	var rowID int64
	var haveRowID bool
	switch op {
	case hermodcdc.OpInsert:
		if id, lerr := result.LastInsertId(); lerr == nil {
			rowID, haveRowID = id, true
			if after, err = c.fetchByRowID(ctx, tx, table, id); err != nil {
				c.logger.Warn("capture after-image fetch failed", "table", table, "error", err)
			}
		}
	case hermodcdc.OpUpdate:
		if haveBeforeRowID {
			rowID, haveRowID = beforeRowID, true
			if after, err = c.fetchByRowID(ctx, tx, table, beforeRowID); err != nil {
				c.logger.Warn("capture after-image fetch failed", "table", table, "error", err)
			}
		}
	case hermodcdc.OpDelete:
		if haveBeforeRowID {
			rowID, haveRowID = beforeRowID, true
		}
	}

	pkColumn, err := c.resolvePKColumn(ctx, tx, table)
	if err != nil {
		c.logger.Warn("capture pk column lookup failed", "table", table, "error", err)
		pkColumn = ""
	}
	rowKey := rowKeyFor(pkColumn, rowID, haveRowID, after, before)

	beforeEnc, err := audit.EncodeImage(before)
	if err != nil {
		return nil, cdcerr.Capture("encode_before", table, err)
	}
	afterEnc, err := audit.EncodeImage(after)
	if err != nil {
		return nil, cdcerr.Capture("encode_after", table, err)
	}

	if _, err := tx.ExecContext(ctx, insertAuditSQL, table, string(op), rowKey, beforeEnc, afterEnc); err != nil {
		c.logger.Error("capture audit insert failed", "table", table, "error", err)
		return nil, cdcerr.Capture("audit_insert", table, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, cdcerr.Capture("commit", table, err)
	}
	return result, nil
}

// fetchBeforeData fetches the row's current image using the statement's own
// WHERE clause and the subset of its bound args that belong to that clause,
// so a parameterized UPDATE or DELETE finds the same row it is about to
// change. The query also selects the physical ROWID so the UPDATE
// after-image lookup and the row_key recorded in the audit row don't need a
// second guess at which row was affected.
func (c *Conn) fetchBeforeData(ctx context.Context, tx *sql.Tx, table, query string, args []any) (before map[string]any, rowID int64, haveRowID bool, err error) {
	where, ok := extractWhereClause(query)
	if !ok {
		return nil, 0, false, nil
	}
	sqlStr := fmt.Sprintf("SELECT ROWID AS %s, * FROM %s WHERE %s LIMIT 1", hermodRowIDAlias, table, where)
	row, err := queryOneRow(ctx, tx, sqlStr, trailingArgs(where, args)...)
	if err != nil || row == nil {
		return nil, 0, false, err
	}
	if raw, ok := row[hermodRowIDAlias]; ok {
		delete(row, hermodRowIDAlias)
		if id, ok := toInt64(raw); ok {
			rowID, haveRowID = id, true
		}
	}
	return row, rowID, haveRowID, nil
}

// trailingArgs returns the suffix of args that corresponds to the `?`
// placeholders appearing in where, assuming (as every statement this
// package audits does) that WHERE is the final clause and its placeholders
// are therefore the last ones bound.
func trailingArgs(where string, args []any) []any {
	n := strings.Count(where, "?")
	if n == 0 || n > len(args) {
		return nil
	}
	return args[len(args)-n:]
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case []byte:
		id, err := strconv.ParseInt(string(n), 10, 64)
		return id, err == nil
	case string:
		id, err := strconv.ParseInt(n, 10, 64)
		return id, err == nil
	default:
		return 0, false
	}
}

// rowKeyFor derives the audit row's row_id: the table's primary-key column
// value when one is known, else the physical rowid captured during this
// statement's execution.
func rowKeyFor(pkColumn string, rowID int64, haveRowID bool, after, before map[string]any) string {
	if pkColumn != "" && pkColumn != "ROWID" {
		if after != nil {
			if v, ok := after[pkColumn]; ok {
				return fmt.Sprintf("%v", v)
			}
		}
		if before != nil {
			if v, ok := before[pkColumn]; ok {
				return fmt.Sprintf("%v", v)
			}
		}
	}
	if haveRowID {
		return strconv.FormatInt(rowID, 10)
	}
	return ""
}

// resolvePKColumn returns table's declared primary-key column, or "ROWID"
// if it has none, caching the result per table for the life of the Conn.
func (c *Conn) resolvePKColumn(ctx context.Context, tx *sql.Tx, table string) (string, error) {
	c.pkMu.Lock()
	if col, ok := c.pkColumns[table]; ok {
		c.pkMu.Unlock()
		return col, nil
	}
	c.pkMu.Unlock()

	col := "ROWID"
	rows, err := tx.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return col, err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			continue
		}
		if pk == 1 {
			col = name
			break
		}
	}

	c.pkMu.Lock()
	c.pkColumns[table] = col
	c.pkMu.Unlock()
	return col, nil
}

func (c *Conn) fetchByRowID(ctx context.Context, tx *sql.Tx, table string, rowID int64) (map[string]any, error) {
	sqlStr := fmt.Sprintf("SELECT * FROM %s WHERE ROWID = ?", table)
	return queryOneRow(ctx, tx, sqlStr, rowID)
}

func queryOneRow(ctx context.Context, tx *sql.Tx, sqlStr string, args ...any) (map[string]any, error) {
	rows, err := tx.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	if !rows.Next() {
		return nil, nil
	}

	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}

	m := make(map[string]any, len(cols))
	for i, col := range cols {
		m[col] = normalizeValue(vals[i])
	}
	return m, nil
}

func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func extractWhereClause(sqlText string) (string, bool) {
	m := whereRe.FindStringSubmatch(sqlText)
	if m == nil {
		return "", false
	}
	clause := m[1]
	if clause == "" {
		return "", false
	}
	return clause, true
}

