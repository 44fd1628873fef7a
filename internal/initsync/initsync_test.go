package initsync

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uschtwill/hermod-cdc/internal/checkpoint"
	hermodcdc "github.com/uschtwill/hermod-cdc"
	_ "modernc.org/sqlite"
)

type fakeTarget struct {
	name string
	rows []map[string]any
	fail bool
}

func (f *fakeTarget) Name() string                                            { return f.name }
func (f *fakeTarget) Connect(ctx context.Context) error                       { return nil }
func (f *fakeTarget) Close() error                                            { return nil }
func (f *fakeTarget) Ping(ctx context.Context) error                          { return nil }
func (f *fakeTarget) Delete(ctx context.Context, table, pk string, v any) error { return nil }

func (f *fakeTarget) BatchUpsert(ctx context.Context, table string, rows []map[string]any, pkColumn string) error {
	if f.fail {
		return errFail
	}
	f.rows = append(f.rows, rows...)
	return nil
}

var errFail = sql.ErrConnDone

func newSourceDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)
	for i := 1; i <= 25; i++ {
		_, err := db.Exec(`INSERT INTO users (id, name) VALUES (?, ?)`, i, "user")
		require.NoError(t, err)
	}
	return db
}

func TestSyncTablePaginatesAllRows(t *testing.T) {
	ctx := context.Background()
	db := newSourceDB(t)
	cp, err := checkpoint.Open(ctx, "file::memory:?cache=shared&_init=1")
	require.NoError(t, err)
	t.Cleanup(func() { cp.Close() })

	target := &fakeTarget{name: "t1"}
	syncer := New(db, "/src.sqlite", []hermodcdc.TargetWriter{target}, cp)

	synced, err := syncer.SyncTable(ctx, TableSpec{SourceTable: "users", TargetTable: "users", BatchSize: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 25, synced)
	assert.Len(t, target.rows, 25)

	loaded, ok, err := cp.LoadInitialCheckpoint(ctx, "/src.sqlite", "users")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, loaded.Complete())
}

func TestSyncTableSkipsAlreadyCompleted(t *testing.T) {
	ctx := context.Background()
	db := newSourceDB(t)
	cp, err := checkpoint.Open(ctx, "file::memory:?cache=shared&_init=2")
	require.NoError(t, err)
	t.Cleanup(func() { cp.Close() })

	require.NoError(t, cp.SaveInitialCheckpoint(ctx, "/src.sqlite", checkpoint.InitialCheckpoint{
		TableName: "users", TotalSynced: 999, Status: checkpoint.StateCompleted,
	}))

	target := &fakeTarget{name: "t1"}
	syncer := New(db, "/src.sqlite", []hermodcdc.TargetWriter{target}, cp)

	synced, err := syncer.SyncTable(ctx, TableSpec{SourceTable: "users", TargetTable: "users"})
	require.NoError(t, err)
	assert.EqualValues(t, 999, synced)
	assert.Empty(t, target.rows)
}

func TestRunWithHandoverCapturesIDBeforeSync(t *testing.T) {
	ctx := context.Background()
	db := newSourceDB(t)
	_, err := db.Exec(`CREATE TABLE _cdc_audit_log (id INTEGER PRIMARY KEY AUTOINCREMENT, table_name TEXT, operation TEXT, created_at TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO _cdc_audit_log (table_name, operation, created_at) VALUES ('users', 'INSERT', '')`)
	require.NoError(t, err)

	cp, err := checkpoint.Open(ctx, "file::memory:?cache=shared&_init=3")
	require.NoError(t, err)
	t.Cleanup(func() { cp.Close() })

	target := &fakeTarget{name: "t1"}
	syncer := New(db, "/src.sqlite", []hermodcdc.TargetWriter{target}, cp)

	handoverID, err := syncer.RunWithHandover(ctx, []TableSpec{{SourceTable: "users", TargetTable: "users", BatchSize: 10}})
	require.NoError(t, err)
	assert.EqualValues(t, 1, handoverID)
}
