package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/rdfkit/rdf/pkg/model"
)

// setupMockPostgres wires the store to a mocked postgres connection so the
// postgres-only statements can be asserted without a server.
func setupMockPostgres(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return New(db, nil), mock
}

func TestScheduleNotificationUsesStoredRoutine(t *testing.T) {
	s, mock := setupMockPostgres(t)
	mock.ExpectExec(regexp.QuoteMeta("SELECT schedule_notification($1, $2)")).
		WithArgs(int64(7), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.ScheduleNotification(s.DB(), 7, 3))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotifyEntityUsesStoredRoutine(t *testing.T) {
	s, mock := setupMockPostgres(t)
	mock.ExpectExec(regexp.QuoteMeta("SELECT notify($1, $2)")).
		WithArgs("VAT Rate", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.NotifyEntity(s.DB(), "VAT Rate", 1))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimNextUsesRowLockingRoutine(t *testing.T) {
	s, mock := setupMockPostgres(t)
	rows := sqlmock.NewRows([]string{"id", "hook_id", "projection_id", "scheduled_for", "attempts", "status"}).
		AddRow(int64(11), int64(7), int64(3), time.Now(), 0, "PENDING")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM get_next_notification($1)")).
		WithArgs(10).
		WillReturnRows(rows)

	claimed, err := s.ClaimNext(s.DB(), 10)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.EqualValues(t, 11, claimed.ID)
	assert.Equal(t, model.StatusPending, claimed.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPassAndFailUseStoredRoutines(t *testing.T) {
	s, mock := setupMockPostgres(t)
	mock.ExpectExec(regexp.QuoteMeta("SELECT pass_notification($1)")).
		WithArgs(int64(11)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	next := time.Now().Add(time.Minute)
	mock.ExpectExec(regexp.QuoteMeta("SELECT fail_notification($1, $2, $3)")).
		WithArgs(int64(12), next, "boom").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.PassNotification(s.DB(), 11))
	require.NoError(t, s.FailNotification(s.DB(), 12, next, "boom"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithExclusiveTransactionTakesAdvisoryLock(t *testing.T) {
	s, mock := setupMockPostgres(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock($1)")).
		WithArgs(exclusiveLockID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.WithExclusiveTransaction(context.Background(), func(_ *gorm.DB) error { return nil })
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
