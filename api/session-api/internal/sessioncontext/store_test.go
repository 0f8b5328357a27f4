package internal_sessioncontext

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/coachlyai/pkg/commons"
	"github.com/coachlyai/pkg/connectors"
	"github.com/coachlyai/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newMockStore(t *testing.T) (Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 db,
		PreferSimpleProtocol: true,
	}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)

	logger, err := commons.NewApplicationLogger()
	require.NoError(t, err)

	return NewStore(connectors.NewPostgresConnectorFromDB(logger, gdb), logger), mock
}

func TestSaveGeneratesSessionID(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`INSERT INTO "session_contexts"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	id, err := store.Save(context.Background(), &SessionContext{
		TraineeID:  42,
		ScenarioID: 7,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetReadsAnyStatus(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "session_id", "status", "trainee_id", "scenario_id", "created_date"}).
		AddRow(1, "sess-1", StatusCompleted, 42, 7, time.Now())
	mock.ExpectQuery(`SELECT \* FROM "session_contexts" WHERE session_id = \$1`).
		WithArgs("sess-1", 1).
		WillReturnRows(rows)

	sc, err := store.Get(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, sc.Status, "completed rows stay readable for late callbacks")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLiveClaimsPendingAtomically(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE "session_contexts" SET .+ WHERE session_id = \$\d+ AND status = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Live(context.Background(), "sess-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLiveLosesWhenAlreadyClaimed(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE "session_contexts" SET .+ WHERE session_id = \$\d+ AND status = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Live(context.Background(), "sess-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already live")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompletePatchesRecordAndArtifact(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE "session_contexts" SET .+ WHERE session_id = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Complete(context.Background(), "sess-1", "rec-77",
		utils.Ptr("https://blobs.coachly.ai/sess-1.webm"))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailRecordsReason(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE "session_contexts" SET .+ WHERE session_id = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Fail(context.Background(), "sess-1", "save api unreachable"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateFieldEnforcesAllowlist(t *testing.T) {
	store, mock := newMockStore(t)

	err := store.UpdateField(context.Background(), "sess-1", "session_id", "injected")
	require.Error(t, err)

	mock.ExpectExec(`UPDATE "session_contexts" SET "artifact_url"=\$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.UpdateField(context.Background(), "sess-1", "artifact_url", "https://x"))
	require.NoError(t, mock.ExpectationsWereMet())
}
