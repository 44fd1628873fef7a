package audit

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	db, err := sql.Open("sqlite", "file::memory:?cache=shared")
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, EnsureSchema(context.Background(), db))
	require.NoError(t, EnsureSchema(context.Background(), db))
}

func TestEncodeDecodeImageRoundTrip(t *testing.T) {
	ns, err := EncodeImage(map[string]any{"id": float64(1), "name": "alice"})
	require.NoError(t, err)
	assert.True(t, ns.Valid)

	row := Row{AfterData: ns}
	assert.Equal(t, map[string]any{"id": float64(1), "name": "alice"}, row.DecodeAfter())
}

func TestEncodeImageNilEncodesAsSQLNull(t *testing.T) {
	ns, err := EncodeImage(nil)
	require.NoError(t, err)
	assert.False(t, ns.Valid)
}

func TestDecodeBeforeReturnsNilOnMalformedJSON(t *testing.T) {
	row := Row{BeforeData: sql.NullString{String: "{not json", Valid: true}}
	assert.Nil(t, row.DecodeBefore())
}

func TestSchemaRejectsUnknownOperation(t *testing.T) {
	db, err := sql.Open("sqlite", "file::memory:?cache=shared")
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, EnsureSchema(context.Background(), db))

	_, err = db.Exec(`INSERT INTO `+TableName+` (table_name, operation, row_id) VALUES ('users', 'TRUNCATE', '1')`)
	assert.Error(t, err)
}

func TestIncrementRetryCount(t *testing.T) {
	db, err := sql.Open("sqlite", "file::memory:?cache=shared")
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, EnsureSchema(context.Background(), db))

	res, err := db.Exec(`INSERT INTO ` + TableName + ` (table_name, operation, row_id) VALUES ('users', 'INSERT', '1')`)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)

	require.NoError(t, IncrementRetryCount(context.Background(), db, []int64{id}))
	require.NoError(t, IncrementRetryCount(context.Background(), db, []int64{id}))

	var retries int64
	require.NoError(t, db.QueryRow(`SELECT retry_count FROM `+TableName+` WHERE id = ?`, id).Scan(&retries))
	assert.Equal(t, int64(2), retries)
}

func TestIncrementRetryCountNoopOnEmpty(t *testing.T) {
	db, err := sql.Open("sqlite", "file::memory:?cache=shared")
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, EnsureSchema(context.Background(), db))

	assert.NoError(t, IncrementRetryCount(context.Background(), db, nil))
}
