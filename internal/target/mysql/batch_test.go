package mysql

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uschtwill/hermod-cdc/internal/target"
)

func TestUpsertBatchCommitsOnSuccess(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	w := &Writer{name: "mysql-test", db: db, policy: target.DefaultBackoffPolicy}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `users`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	rows := []map[string]any{{"id": 1, "name": "alice"}}
	require.NoError(t, w.upsertBatch(context.Background(), "users", rows, "id"))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertBatchRollsBackOnExecError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	w := &Writer{name: "mysql-test", db: db, policy: target.DefaultBackoffPolicy}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `users`").WillReturnError(errors.New("connection refused"))
	mock.ExpectRollback()

	rows := []map[string]any{{"id": 1, "name": "alice"}}
	err = w.upsertBatch(context.Background(), "users", rows, "id")
	require.Error(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}
