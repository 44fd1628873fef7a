package auditreader

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uschtwill/hermod-cdc/internal/audit"
	_ "modernc.org/sqlite"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, audit.EnsureSchema(context.Background(), db))
	return db
}

func insertAuditRow(t *testing.T, db *sql.DB, table, op string) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO `+audit.TableName+` (table_name, operation, after_data) VALUES (?, ?, '{"id":1}')`, table, op)
	require.NoError(t, err)
}

func TestFetchBatchPopulatesRowKey(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	_, err := db.Exec(`INSERT INTO `+audit.TableName+` (table_name, operation, row_id, after_data) VALUES (?, ?, ?, '{"id":9}')`, "users", "INSERT", "9")
	require.NoError(t, err)

	r := New(db, 0)
	batch, err := r.FetchBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, "9", batch[0].RowKey)
}

func TestFetchBatchAndMarkConsumed(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	for i := 0; i < 3; i++ {
		insertAuditRow(t, db, "users", "INSERT")
	}

	r := New(db, 0)
	batch, err := r.FetchBatch(ctx, 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, batch[1].ID, r.LastReadID())

	ids := []int64{batch[0].ID, batch[1].ID}
	require.NoError(t, r.MarkConsumed(ctx, ids))

	rest, err := r.FetchBatch(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, rest, 1)
}

func TestStatsComputesPending(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	for i := 0; i < 5; i++ {
		insertAuditRow(t, db, "users", "INSERT")
	}

	r := New(db, 2)
	stats, err := r.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.MaxID)
	assert.Equal(t, int64(3), stats.Pending)
}
