package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/BTreeMap/StudyPipe/internal/models"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPostgresStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return newPostgresStoreWithDB(db), mock
}

var studentRowColumns = []string{
	"id", "user_id", "full_name", "email", "parent_email", "student_phone", "parent_phone",
	"year_class", "track", "status", "subscription_tier", "ai_summary", "updated_at",
}

func TestPostgresStore_FindStudentByPhoneTail(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	updated := time.Date(2024, 9, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("ILIKE '%' || $1")).
		WithArgs("3331234567").
		WillReturnRows(sqlmock.NewRows(studentRowColumns).AddRow(
			"stu-1", "u-1", "Marta Rossi", "marta@example.com", nil, "+393331234567", nil,
			"5", "Liceo Classico", "past_due", nil, "Fatica con il greco.", updated,
		))

	st, err := s.FindStudentByPhoneTail(context.Background(), "3331234567")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "stu-1", st.ID)
	assert.Equal(t, "Fatica con il greco.", st.AISummary)
	assert.Empty(t, st.ParentPhone)
	assert.True(t, st.Contact().IsBlack, "past_due counts as active")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindStudentByPhoneTail_NoRows(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM paid_students")).
		WithArgs("3330000000").
		WillReturnRows(sqlmock.NewRows(studentRowColumns))

	st, err := s.FindStudentByPhoneTail(context.Background(), "3330000000")
	require.NoError(t, err)
	assert.Nil(t, st)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertMessageReturnsID(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO conversation_messages")).
		WithArgs(nil, "3331234567", "user", "Quanto costa?", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	id, err := s.InsertMessage(context.Background(), models.ConversationMessage{
		Thread:  models.PhoneThread("3331234567"),
		Role:    models.RoleUser,
		Content: "Quanto costa?",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteOldestMessages(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM conversation_messages WHERE id IN")).
		WithArgs("stu-1", 50).
		WillReturnResult(sqlmock.NewResult(0, 50))

	n, err := s.DeleteOldestMessages(context.Background(), models.StudentThread("stu-1"), 50)
	require.NoError(t, err)
	assert.Equal(t, 50, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_IncrementInquiryNotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	at := time.Now()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE inquiries SET message_count = message_count + $1")).
		WithArgs(2, at, "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.IncrementInquiry(context.Background(), "missing", 2, at)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordInboundDuplicate(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (message_id) DO NOTHING")).
		WithArgs("SM123", "3331234567", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	isNew, err := s.RecordInbound(context.Background(), "SM123", "3331234567")
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InvalidThreadKey(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	_, err := s.CountMessages(context.Background(), models.ThreadKey{Kind: "bogus", Value: "x"})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
