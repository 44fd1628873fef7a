package oracle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildMergeSQLShapesStatement(t *testing.T) {
	row := map[string]any{"id": 1, "name": "alice"}
	query, args := buildMergeSQL("users", row, "id")

	assert.Contains(t, query, "MERGE INTO users t USING (SELECT")
	assert.Contains(t, query, "WHEN MATCHED THEN UPDATE SET t.name = s.name")
	assert.Contains(t, query, "WHEN NOT MATCHED THEN INSERT")
	assert.Len(t, args, 2)
}

func TestBuildMergeSQLSelfUpdateWhenOnlyKeyColumn(t *testing.T) {
	row := map[string]any{"id": 1}
	query, _ := buildMergeSQL("users", row, "id")
	assert.Contains(t, query, "WHEN MATCHED THEN UPDATE SET t.id = t.id")
}
