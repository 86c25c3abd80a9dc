package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revharvest/revharvest/internal/store"
)

// newMockStore wraps a sqlmock connection so storage failures can be injected.
func newMockStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return store.NewWithDB(sqlx.NewDb(db, "sqlite3")), mock
}

func TestUpsertBatch_BeginError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin().WillReturnError(errors.New("disk I/O error"))

	_, err := s.UpsertBatch(context.Background(), []store.Record{rec("a.example.com", 0)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "beginning record batch")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertBatch_ExecErrorRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO records").
		ExpectExec().
		WillReturnError(errors.New("database is locked"))
	mock.ExpectRollback()

	_, err := s.UpsertBatch(context.Background(), []store.Record{rec("a.example.com", 0)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inserting record")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryPage_QueryError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id, subject_domain").
		WillReturnError(errors.New("database is locked"))

	_, _, err := s.QueryPage(context.Background(), store.Filter{}, store.PageCursor{}, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "querying records")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveProgress_ExecError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("UPDATE sessions").
		WillReturnError(errors.New("attempt to write a readonly database"))

	sess := newSession("sess-1", store.StateRunning)
	err := s.SaveProgress(context.Background(), sess)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "saving session")
	assert.NoError(t, mock.ExpectationsWereMet())
}
