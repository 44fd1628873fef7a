package mysql

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildUpsertSQLIncludesAllColumnsAndUpdateClause(t *testing.T) {
	row := map[string]any{"id": 1, "name": "alice", "email": "a@example.com"}
	query, args := buildUpsertSQL("users", row, "id")

	assert.True(t, strings.HasPrefix(query, "INSERT INTO `users`"))
	assert.Contains(t, query, "ON DUPLICATE KEY UPDATE")
	assert.NotContains(t, query, "`id` = VALUES(`id`)")
	assert.Len(t, args, 3)
}

func TestBuildUpsertSQLFallsBackToSelfUpdateWithNoOtherColumns(t *testing.T) {
	row := map[string]any{"id": 1}
	query, _ := buildUpsertSQL("users", row, "id")
	assert.Contains(t, query, "`id` = `id`")
}
