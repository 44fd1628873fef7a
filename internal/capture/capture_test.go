package capture

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

func newTestConn(t *testing.T) *Conn {
	t.Helper()
	ctx := context.Background()
	c, err := Open(ctx, "file::memory:?cache=shared", []string{"users"}, nopLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	_, err = c.DB().ExecContext(ctx, `CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT, email TEXT)`)
	require.NoError(t, err)
	return c
}

func countAuditRows(t *testing.T, c *Conn) int {
	t.Helper()
	var n int
	require.NoError(t, c.DB().QueryRow(`SELECT COUNT(*) FROM _cdc_audit_log`).Scan(&n))
	return n
}

func TestExecInsertAudits(t *testing.T) {
	ctx := context.Background()
	c := newTestConn(t)

	_, err := c.Exec(ctx, `INSERT INTO users (name, email) VALUES (?, ?)`, "alice", "a@example.com")
	require.NoError(t, err)

	assert.Equal(t, 1, countAuditRows(t, c))

	var op string
	var after string
	require.NoError(t, c.DB().QueryRow(`SELECT operation, after_data FROM _cdc_audit_log`).Scan(&op, &after))
	assert.Equal(t, "INSERT", op)
	assert.NotEmpty(t, after)
}

func TestExecUpdateCapturesBeforeAndAfter(t *testing.T) {
	ctx := context.Background()
	c := newTestConn(t)

	_, err := c.Exec(ctx, `INSERT INTO users (id, name, email) VALUES (1, 'alice', 'a@example.com')`)
	require.NoError(t, err)

	_, err = c.Exec(ctx, `UPDATE users SET email = 'new@example.com' WHERE id = 1`)
	require.NoError(t, err)

	assert.Equal(t, 2, countAuditRows(t, c))

	var before, after string
	require.NoError(t, c.DB().QueryRow(
		`SELECT before_data, after_data FROM _cdc_audit_log WHERE operation = 'UPDATE'`,
	).Scan(&before, &after))
	assert.NotEmpty(t, before)
	assert.NotEmpty(t, after)
}

func TestExecParameterizedUpdateCapturesBeforeAndAfter(t *testing.T) {
	ctx := context.Background()
	c := newTestConn(t)

	_, err := c.Exec(ctx, `INSERT INTO users (id, name, email) VALUES (?, ?, ?)`, 1, "alice", "a@example.com")
	require.NoError(t, err)

	_, err = c.Exec(ctx, `UPDATE users SET email = ? WHERE id = ?`, "new@example.com", 1)
	require.NoError(t, err)

	assert.Equal(t, 2, countAuditRows(t, c))

	var before, after, rowID string
	require.NoError(t, c.DB().QueryRow(
		`SELECT row_id, before_data, after_data FROM _cdc_audit_log WHERE operation = 'UPDATE'`,
	).Scan(&rowID, &before, &after))
	assert.Equal(t, "1", rowID)
	assert.NotEmpty(t, before)
	assert.Contains(t, after, "new@example.com")
}

func TestExecParameterizedDeleteCapturesBeforeImage(t *testing.T) {
	ctx := context.Background()
	c := newTestConn(t)

	_, err := c.Exec(ctx, `INSERT INTO users (id, name, email) VALUES (?, ?, ?)`, 1, "alice", "a@example.com")
	require.NoError(t, err)

	_, err = c.Exec(ctx, `DELETE FROM users WHERE id = ?`, 1)
	require.NoError(t, err)

	assert.Equal(t, 2, countAuditRows(t, c))

	var before, rowID string
	require.NoError(t, c.DB().QueryRow(
		`SELECT row_id, before_data FROM _cdc_audit_log WHERE operation = 'DELETE'`,
	).Scan(&rowID, &before))
	assert.Equal(t, "1", rowID)
	assert.Contains(t, before, "alice")
}

func TestExecInsertPopulatesRowKey(t *testing.T) {
	ctx := context.Background()
	c := newTestConn(t)

	_, err := c.Exec(ctx, `INSERT INTO users (name, email) VALUES (?, ?)`, "alice", "a@example.com")
	require.NoError(t, err)

	var rowID string
	require.NoError(t, c.DB().QueryRow(`SELECT row_id FROM _cdc_audit_log WHERE operation = 'INSERT'`).Scan(&rowID))
	assert.Equal(t, "1", rowID)
}

func TestExecOnNonAuditedTablePassesThrough(t *testing.T) {
	ctx := context.Background()
	c := newTestConn(t)

	_, err := c.DB().ExecContext(ctx, `CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT)`)
	require.NoError(t, err)

	_, err = c.Exec(ctx, `INSERT INTO notes (body) VALUES ('hi')`)
	require.NoError(t, err)

	assert.Equal(t, 0, countAuditRows(t, c))
}
