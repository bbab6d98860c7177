package retention

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/StudyPipe/internal/models"
	"github.com/BTreeMap/StudyPipe/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSummarizer struct {
	reply  string
	err    error
	calls  int
	prompt string
}

func (f *fakeSummarizer) GeneratePromptWithContext(_ context.Context, _, userPrompt string) (string, error) {
	f.calls++
	f.prompt = userPrompt
	return f.reply, f.err
}

func fillThread(t *testing.T, s *store.InMemoryStore, key models.ThreadKey, n int) {
	t.Helper()
	base := time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		_, err := s.InsertMessage(context.Background(), models.ConversationMessage{
			Thread: key, Role: role, Content: fmt.Sprintf("msg-%02d", i), CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}
}

func TestObserve_StudentThreadSummarizesAndPrunes(t *testing.T) {
	ctx := context.Background()
	s := store.NewInMemoryStore()
	require.NoError(t, s.SaveStudent(ctx, models.Student{ID: "stu-1", FullName: "Marta", AISummary: "Studia chimica."}))
	key := models.StudentThread("stu-1")
	fillThread(t, s, key, 71)

	sum := &fakeSummarizer{reply: "Marta studia chimica e ha migliorato la stechiometria."}
	m := NewManager(s, sum)
	m.Observe(ctx, key, 71)

	count, _ := s.CountMessages(ctx, key)
	assert.LessOrEqual(t, count, 21)
	assert.Equal(t, 21, count)

	summary, _, _ := s.GetStudentSummary(ctx, "stu-1")
	assert.NotEmpty(t, summary)
	assert.Equal(t, sum.reply, summary)

	assert.Equal(t, 1, sum.calls)
	assert.Contains(t, sum.prompt, "Studia chimica.")
	assert.Contains(t, sum.prompt, "msg-00")
	assert.Contains(t, sum.prompt, "msg-69")
	assert.NotContains(t, sum.prompt, "msg-70")

	remaining, _ := s.OldestMessages(ctx, key, 1)
	assert.Equal(t, "msg-50", remaining[0].Content)
}

func TestObserve_AtThresholdIsNoOp(t *testing.T) {
	ctx := context.Background()
	s := store.NewInMemoryStore()
	key := models.PhoneThread("3331234567")
	fillThread(t, s, key, 70)

	sum := &fakeSummarizer{reply: "x"}
	NewManager(s, sum).Observe(ctx, key, 70)

	count, _ := s.CountMessages(ctx, key)
	assert.Equal(t, 70, count)
	assert.Zero(t, sum.calls)
}

func TestObserve_PhoneThreadPrunesWithoutSummary(t *testing.T) {
	ctx := context.Background()
	s := store.NewInMemoryStore()
	key := models.PhoneThread("3331234567")
	fillThread(t, s, key, 71)

	sum := &fakeSummarizer{reply: "x"}
	NewManager(s, sum).Observe(ctx, key, 71)

	count, _ := s.CountMessages(ctx, key)
	assert.Equal(t, 21, count)
	assert.Zero(t, sum.calls)
}

func TestObserve_SummaryFailureStillPrunes(t *testing.T) {
	ctx := context.Background()
	s := store.NewInMemoryStore()
	require.NoError(t, s.SaveStudent(ctx, models.Student{ID: "stu-1", AISummary: "vecchia nota"}))
	key := models.StudentThread("stu-1")
	fillThread(t, s, key, 75)

	NewManager(s, &fakeSummarizer{err: errors.New("rate limited")}).Observe(ctx, key, 75)

	count, _ := s.CountMessages(ctx, key)
	assert.Equal(t, 25, count)
	summary, _, _ := s.GetStudentSummary(ctx, "stu-1")
	assert.Equal(t, "vecchia nota", summary)
}

type failingDeleteStore struct {
	*store.InMemoryStore
}

func (f failingDeleteStore) DeleteOldestMessages(context.Context, models.ThreadKey, int) (int, error) {
	return 0, errors.New("disk full")
}

func TestObserve_PruneFailureIsTolerated(t *testing.T) {
	ctx := context.Background()
	s := store.NewInMemoryStore()
	key := models.PhoneThread("3331234567")
	fillThread(t, s, key, 71)

	NewManager(failingDeleteStore{s}, nil).Observe(ctx, key, 71)

	count, _ := s.CountMessages(ctx, key)
	assert.Equal(t, 71, count)
}

func TestObserve_CustomSizes(t *testing.T) {
	ctx := context.Background()
	s := store.NewInMemoryStore()
	key := models.PhoneThread("3331234567")
	fillThread(t, s, key, 11)

	NewManager(s, nil, WithThreshold(10), WithFetchSize(10), WithPruneSize(5)).Observe(ctx, key, 11)

	count, _ := s.CountMessages(ctx, key)
	assert.Equal(t, 6, count)
}

func TestSummaryPrompt(t *testing.T) {
	p := summaryPrompt("Marta", "", []models.ConversationMessage{
		{Role: models.RoleUser, Content: " ciao "},
		{Role: models.RoleAssistant, Content: "ciao Marta"},
	})
	assert.True(t, strings.HasPrefix(p, "Studente: Marta"))
	assert.Contains(t, p, "(nessuna)")
	assert.Contains(t, p, "Studente: ciao\n")
	assert.Contains(t, p, "Tutor: ciao Marta\n")
}
