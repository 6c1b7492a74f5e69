package fir

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	svcerrors "github.com/afirgen/fir-pipeline/infrastructure/errors"
)

func TestValidNumber(t *testing.T) {
	assert.True(t, ValidNumber("FIR-a1b2c3d4-20260729120000"))
	assert.False(t, ValidNumber("FIR-A1B2C3D4-20260729120000"))
	assert.False(t, ValidNumber("FIR-a1b2c3d4-2026072912000"))
	assert.False(t, ValidNumber("not-a-fir-number"))
}

func TestInsertDraftCommitsOnSuccess(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO fir_records").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	store := NewStore(db)
	rec, err := store.InsertDraft(context.Background(), "11111111-1111-4111-8111-111111111111", "rendered narrative")
	require.NoError(t, err)
	assert.True(t, ValidNumber(rec.FIRNumber))
	assert.Equal(t, StatusDraft, rec.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertDraftRetriesOnUniqueViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO fir_records").WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO fir_records").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	store := NewStore(db)
	rec, err := store.InsertDraft(context.Background(), "11111111-1111-4111-8111-111111111111", "rendered narrative")
	require.NoError(t, err)
	assert.True(t, ValidNumber(rec.FIRNumber))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinalizeNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status, session_id FROM fir_records").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	store := NewStore(db)
	_, err = store.Finalize(context.Background(), "FIR-deadbeef-20260729120000", "hash")
	svcErr := svcerrors.GetServiceError(err)
	require.NotNil(t, svcErr)
	assert.Equal(t, 404, svcErr.HTTPStatus)
}

func TestFinalizeConflictWhenAlreadyFinalized(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"status", "session_id"}).AddRow(string(StatusFinalized), "session-1")
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status, session_id FROM fir_records").WillReturnRows(rows)
	mock.ExpectRollback()

	store := NewStore(db)
	_, err = store.Finalize(context.Background(), "FIR-deadbeef-20260729120000", "hash")
	svcErr := svcerrors.GetServiceError(err)
	require.NotNil(t, svcErr)
	assert.Equal(t, 409, svcErr.HTTPStatus)
}

func TestFinalizeSuccess(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"status", "session_id"}).AddRow(string(StatusDraft), "session-1")
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status, session_id FROM fir_records").WillReturnRows(rows)
	mock.ExpectExec("UPDATE fir_records").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	store := NewStore(db)
	rec, err := store.Finalize(context.Background(), "FIR-deadbeef-20260729120000", "hash")
	require.NoError(t, err)
	assert.Equal(t, StatusFinalized, rec.Status)
	assert.NotNil(t, rec.FinalizedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetReturnsRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"fir_number", "session_id", "status", "fir_content", "auth_key_hash", "created_at", "finalized_at"}).
		AddRow("FIR-deadbeef-20260729120000", "session-1", string(StatusDraft), "content", nil, now, nil)
	mock.ExpectQuery("SELECT fir_number, session_id, status, fir_content, auth_key_hash, created_at, finalized_at").WillReturnRows(rows)

	store := NewStore(db)
	rec, err := store.Get(context.Background(), "FIR-deadbeef-20260729120000")
	require.NoError(t, err)
	assert.Equal(t, "session-1", rec.SessionID)
	assert.Nil(t, rec.FinalizedAt)
}

func TestListOrdersByCreatedAtDescending(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"fir_number", "session_id", "status", "fir_content", "auth_key_hash", "created_at", "finalized_at"}).
		AddRow("FIR-aaaaaaaa-20260729120000", "session-1", string(StatusDraft), "a", nil, now, nil).
		AddRow("FIR-bbbbbbbb-20260729110000", "session-2", string(StatusFinalized), "b", "hash", now.Add(-time.Hour), now)
	mock.ExpectQuery("SELECT fir_number, session_id, status, fir_content, auth_key_hash, created_at, finalized_at").WillReturnRows(rows)

	store := NewStore(db)
	recs, err := store.List(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "FIR-aaaaaaaa-20260729120000", recs[0].FIRNumber)
}
