// internal/deployment/store_test.go
//
// Unit-tests for deployment Store helpers using sqlmock.

package deployment

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var depCols = []string{
	"id", "site_id", "app_name", "git_commit", "status", "deployed_by",
	"deployed_at", "error_message", "deployment_notes", "created_at", "updated_at",
}

var fixedNow = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	s := NewStore(sqlx.NewDb(db, "mysql"))
	s.now = func() time.Time { return fixedNow }
	return s, mock
}

func TestCreate_AlwaysPending(t *testing.T) {
	s, mock := newMockStore(t)
	siteID := uint64(3)
	by := int64(1)
	rec := &Record{SiteID: &siteID, AppName: "blog", Status: StatusSuccess, DeployedBy: &by}

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO deployments`)).
		WithArgs(uint64(3), "blog", nil, StatusPending, int64(1), fixedNow, nil, fixedNow, fixedNow).
		WillReturnResult(sqlmock.NewResult(42, 1))

	require.NoError(t, s.Create(context.Background(), rec))
	assert.Equal(t, uint64(42), rec.ID)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, fixedNow, rec.DeployedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFailed_OnlyFromPending(t *testing.T) {
	s, mock := newMockStore(t)
	q := regexp.QuoteMeta(`SET status = 'failed', error_message = ?, updated_at = ? WHERE id = ? AND status = 'pending'`)

	mock.ExpectExec(q).WithArgs("boom", fixedNow, uint64(5)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs("again", fixedNow, uint64(5)).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.MarkFailed(context.Background(), 5, "boom"))
	assert.ErrorIs(t, s.MarkFailed(context.Background(), 5, "again"), ErrNotPending)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkSuccess_RecordsCommit(t *testing.T) {
	s, mock := newMockStore(t)
	commit := "0123456789abcdef0123456789abcdef01234567"

	mock.ExpectExec(regexp.QuoteMeta(`SET status = 'success', git_commit = COALESCE(?, git_commit)`)).
		WithArgs(commit, fixedNow, uint64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.MarkSuccess(context.Background(), 9, &commit))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestList_FiltersAndOrder(t *testing.T) {
	s, mock := newMockStore(t)
	from := fixedNow.Add(-24 * time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta(
		`FROM deployments WHERE status = ? AND app_name = ? AND deployed_at >= ? ORDER BY deployed_at DESC, id DESC LIMIT ?`,
	)).
		WithArgs(StatusFailed, "blog", from, 20).
		WillReturnRows(sqlmock.NewRows(depCols).
			AddRow(2, nil, "blog", nil, "failed", 1, fixedNow, "clone failed", nil, fixedNow, fixedNow).
			AddRow(1, 3, "blog", nil, "failed", nil, from, "missing views", nil, from, from))

	got, err := s.List(context.Background(), Filter{Status: StatusFailed, AppName: "blog", From: from})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(2), got[0].ID)
	assert.Nil(t, got[0].SiteID)
	assert.Equal(t, "clone failed", *got[0].ErrorMessage)
	assert.Equal(t, uint64(3), *got[1].SiteID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecent_ClampsLimit(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM deployments ORDER BY deployed_at DESC, id DESC LIMIT ?`)).
		WithArgs(MaxLimit).
		WillReturnRows(sqlmock.NewRows(depCols))

	got, err := s.Recent(context.Background(), 10_000)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestByID_NotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM deployments WHERE id = ?`)).
		WithArgs(uint64(404)).
		WillReturnRows(sqlmock.NewRows(depCols))

	_, err := s.ByID(context.Background(), 404)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPending(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE status = 'pending' ORDER BY deployed_at, id`)).
		WillReturnRows(sqlmock.NewRows(depCols).
			AddRow(4, nil, "blog", nil, StatusPending, 1, fixedNow, nil, nil, fixedNow, fixedNow).
			AddRow(9, 3, "shop", nil, StatusPending, 1, fixedNow, nil, nil, fixedNow, fixedNow))

	got, err := s.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "blog", got[0].AppName)
	assert.Equal(t, uint64(9), got[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingByApp(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE status = ? AND app_name = ? ORDER BY deployed_at DESC, id DESC LIMIT ?`)).
		WithArgs(StatusPending, "blog", MaxLimit).
		WillReturnRows(sqlmock.NewRows(depCols))

	got, err := s.PendingByApp(context.Background(), "blog")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}
