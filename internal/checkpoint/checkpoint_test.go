package checkpoint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndLoadPosition(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	pos, err := s.LoadPosition(ctx, "/db.sqlite", "mysql-prod")
	require.NoError(t, err)
	assert.Equal(t, int64(0), pos)

	require.NoError(t, s.SavePosition(ctx, "/db.sqlite", "mysql-prod", 42))
	pos, err = s.LoadPosition(ctx, "/db.sqlite", "mysql-prod")
	require.NoError(t, err)
	assert.Equal(t, int64(42), pos)

	require.NoError(t, s.SavePosition(ctx, "/db.sqlite", "mysql-prod", 100))
	pos, err = s.LoadPosition(ctx, "/db.sqlite", "mysql-prod")
	require.NoError(t, err)
	assert.Equal(t, int64(100), pos)
}

func TestInitialCheckpointPreservesStartedAt(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	source := "/db.sqlite"

	cp := InitialCheckpoint{TableName: "users", TotalSynced: 100, Status: StateRunning}
	require.NoError(t, s.SaveInitialCheckpoint(ctx, source, cp))

	loaded, ok, err := s.LoadInitialCheckpoint(ctx, source, "users")
	require.NoError(t, err)
	require.True(t, ok)
	firstStarted := loaded.StartedAt

	cp2 := InitialCheckpoint{TableName: "users", TotalSynced: 500, Status: StateCompleted}
	require.NoError(t, s.SaveInitialCheckpoint(ctx, source, cp2))

	loaded2, ok, err := s.LoadInitialCheckpoint(ctx, source, "users")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, loaded2.StartedAt.Equal(firstStarted))
	assert.True(t, loaded2.Complete())
	assert.Equal(t, int64(500), loaded2.TotalSynced)
}

func TestErrorLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.LogError(ctx, "/db.sqlite", "mysql-prod", "orders", "connection refused")
	require.NoError(t, err)

	errs, err := s.ListUnresolvedErrors(ctx, "/db.sqlite")
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, id, errs[0].ID)

	require.NoError(t, s.IncrementRetryCount(ctx, id))
	require.NoError(t, s.ResolveError(ctx, id))

	errs, err = s.ListUnresolvedErrors(ctx, "/db.sqlite")
	require.NoError(t, err)
	assert.Empty(t, errs)
}

func TestStatsAccumulateAndReset(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.UpdateStats(ctx, "/db.sqlite", "mysql-prod", "rows_written", 10))
	require.NoError(t, s.UpdateStats(ctx, "/db.sqlite", "mysql-prod", "rows_written", 5))

	stats, err := s.GetStats(ctx, "/db.sqlite", "mysql-prod")
	require.NoError(t, err)
	assert.Equal(t, int64(15), stats["rows_written"])

	require.NoError(t, s.ResetStats(ctx, "/db.sqlite", "mysql-prod"))
	stats, err = s.GetStats(ctx, "/db.sqlite", "mysql-prod")
	require.NoError(t, err)
	assert.Empty(t, stats)
}
