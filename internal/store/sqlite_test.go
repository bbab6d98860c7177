package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BTreeMap/StudyPipe/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tempDir, err := os.MkdirTemp("", "sqlite_store_test_")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	dbPath := filepath.Join(tempDir, "test.db")
	s, err := NewSQLiteStore(WithSQLiteDSN(dbPath))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_ContactLookups(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)
	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(48 * time.Hour)

	require.NoError(t, s.SaveStudent(ctx, models.Student{
		ID: "stu-2", FullName: "Luca", StudentPhone: "+393331234567", Status: "cancelled", UpdatedAt: older,
	}))
	require.NoError(t, s.SaveStudent(ctx, models.Student{
		ID: "stu-1", FullName: "Marta", ParentPhone: "00393331234567", Email: "marta@example.com",
		Status: "active", YearClass: "4", Track: "Liceo Scientifico", UpdatedAt: newer,
	}))

	st, err := s.FindStudentByPhoneTail(ctx, "3331234567")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "stu-1", st.ID, "most recently updated row wins")
	assert.Equal(t, "Liceo Scientifico", st.Track)

	none, err := s.FindStudentByPhoneTail(ctx, "3479990000")
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, s.SaveProfile(ctx, models.Profile{UserID: "u-9", FullName: "Paolo", Phone: "+393470001111", IsBlack: true}))
	p, err := s.FindProfileByPhoneTail(ctx, "3470001111")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.True(t, p.IsBlack)

	byEmail, err := s.FindStudentByEmail(ctx, "MARTA@example.com")
	require.NoError(t, err)
	require.NotNil(t, byEmail)
	assert.Equal(t, "stu-1", byEmail.ID)
}

func TestSQLiteStore_LinkPhoneAndSummary(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)
	require.NoError(t, s.SaveStudent(ctx, models.Student{ID: "stu-1", FullName: "Marta", Email: "marta@example.com"}))

	require.NoError(t, s.LinkStudentPhone(ctx, "stu-1", "+393201112233", false))
	st, err := s.FindStudentByPhoneTail(ctx, "3201112233")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "+393201112233", st.StudentPhone)

	require.NoError(t, s.UpdateStudentSummary(ctx, "stu-1", "Ripassa le derivate."))
	summary, name, err := s.GetStudentSummary(ctx, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, "Ripassa le derivate.", summary)
	assert.Equal(t, "Marta", name)

	assert.ErrorIs(t, s.LinkStudentPhone(ctx, "missing", "+39", false), ErrNotFound)
	assert.ErrorIs(t, s.UpdateStudentSummary(ctx, "missing", "x"), ErrNotFound)
	_, _, err = s.GetStudentSummary(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_ConversationMessages(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)
	key := models.StudentThread("stu-1")
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 8; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		_, err := s.InsertMessage(ctx, models.ConversationMessage{
			Thread:    key,
			Role:      role,
			Content:   string(rune('a' + i)),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			Meta:      models.MessageMeta{SubscriberName: "Marta", Model: "gpt-4o-mini"},
		})
		require.NoError(t, err)
	}
	_, err := s.InsertMessage(ctx, models.ConversationMessage{Thread: models.PhoneThread("3331234567"), Role: models.RoleUser, Content: "altro"})
	require.NoError(t, err)

	recent, err := s.RecentMessages(ctx, key, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "f", recent[0].Content)
	assert.Equal(t, "h", recent[2].Content)
	assert.Equal(t, key, recent[0].Thread)
	assert.Equal(t, "Marta", recent[0].Meta.SubscriberName)

	oldest, err := s.OldestMessages(ctx, key, 2)
	require.NoError(t, err)
	require.Len(t, oldest, 2)
	assert.Equal(t, "a", oldest[0].Content)
	assert.Equal(t, models.RoleAssistant, oldest[1].Role)

	deleted, err := s.DeleteOldestMessages(ctx, key, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, deleted)

	count, err := s.CountMessages(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	phoneCount, err := s.CountMessages(ctx, models.PhoneThread("3331234567"))
	require.NoError(t, err)
	assert.Equal(t, 1, phoneCount)
}

func TestSQLiteStore_Inquiries(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	open, err := s.FindOpenInquiry(ctx, "3331234567")
	require.NoError(t, err)
	assert.Nil(t, open)

	require.NoError(t, s.CreateInquiry(ctx, models.InquiryRecord{
		ID: "inq-1", PhoneTail: "3331234567", Intent: models.IntentInfo, Status: models.InquiryOpen, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, s.IncrementInquiry(ctx, "inq-1", 2, now.Add(time.Minute)))
	require.NoError(t, s.IncrementInquiry(ctx, "inq-1", 2, now.Add(2*time.Minute)))
	require.NoError(t, s.SetInquiryEmail(ctx, "inq-1", "lead@example.com"))

	open, err = s.FindOpenInquiry(ctx, "3331234567")
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, 4, open.MessageCount)
	assert.Equal(t, "lead@example.com", open.Email)
	assert.Equal(t, models.IntentInfo, open.Intent)

	assert.ErrorIs(t, s.IncrementInquiry(ctx, "missing", 2, now), ErrNotFound)
}

func TestSQLiteStore_DedupRepo_Basic(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	dup, err := s.IsDuplicate(ctx, "msg-1")
	if err != nil {
		t.Fatalf("IsDuplicate failed: %v", err)
	}
	if dup {
		t.Error("Expected false for new message")
	}

	isNew, err := s.RecordInbound(ctx, "msg-1", "3331234567")
	if err != nil {
		t.Fatalf("RecordInbound failed: %v", err)
	}
	if !isNew {
		t.Error("Expected isNew=true for first record")
	}

	isNew2, err := s.RecordInbound(ctx, "msg-1", "3331234567")
	if err != nil {
		t.Fatalf("RecordInbound duplicate failed: %v", err)
	}
	if isNew2 {
		t.Error("Expected isNew=false for duplicate record")
	}

	if err := s.MarkProcessed(ctx, "msg-1"); err != nil {
		t.Fatalf("MarkProcessed failed: %v", err)
	}
}

// TestDedupRepoRestartSafety verifies that dedup records survive a store restart.
func TestDedupRepoRestartSafety(t *testing.T) {
	ctx := context.Background()
	tempDir, err := os.MkdirTemp("", "dedup_restart_test_")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	dbPath := filepath.Join(tempDir, "test.db")

	s1, err := NewSQLiteStore(WithSQLiteDSN(dbPath))
	if err != nil {
		t.Fatalf("NewSQLiteStore (phase 1) failed: %v", err)
	}
	if _, err := s1.RecordInbound(ctx, "msg-restart-1", "3331234567"); err != nil {
		t.Fatalf("RecordInbound failed: %v", err)
	}
	s1.Close()

	s2, err := NewSQLiteStore(WithSQLiteDSN(dbPath))
	if err != nil {
		t.Fatalf("NewSQLiteStore (phase 2) failed: %v", err)
	}
	defer s2.Close()

	dup, err := s2.IsDuplicate(ctx, "msg-restart-1")
	if err != nil {
		t.Fatalf("IsDuplicate failed: %v", err)
	}
	if !dup {
		t.Error("Expected true for duplicate message after restart")
	}
}
