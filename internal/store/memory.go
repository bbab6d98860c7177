package store

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/StudyPipe/internal/models"
)

// InMemoryStore is a process-local Store used for tests and for running
// without a database. Contents are lost on restart.
type InMemoryStore struct {
	mu        sync.RWMutex
	students  map[string]models.Student
	profiles  map[string]models.Profile
	messages  []models.ConversationMessage
	nextMsgID int64
	inquiries map[string]models.InquiryRecord
	dedup     map[string]DedupRecord
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		students:  make(map[string]models.Student),
		profiles:  make(map[string]models.Profile),
		inquiries: make(map[string]models.InquiryRecord),
		dedup:     make(map[string]DedupRecord),
	}
}

var _ Store = (*InMemoryStore)(nil)

// SaveStudent inserts or replaces a student row.
func (s *InMemoryStore) SaveStudent(_ context.Context, st models.Student) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now()
	}
	s.students[st.ID] = st
	return nil
}

// SaveProfile inserts or replaces a profile row.
func (s *InMemoryStore) SaveProfile(_ context.Context, p models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	s.profiles[p.UserID] = p
	return nil
}

// pickStudent applies the store-wide tie-break: newest update first, then lowest id.
func pickStudent(matches []models.Student) *models.Student {
	if len(matches) == 0 {
		return nil
	}
	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].UpdatedAt.Equal(matches[j].UpdatedAt) {
			return matches[i].UpdatedAt.After(matches[j].UpdatedAt)
		}
		return matches[i].ID < matches[j].ID
	})
	st := matches[0]
	return &st
}

func (s *InMemoryStore) FindStudentByPhoneTail(_ context.Context, tail string) (*models.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matches []models.Student
	for _, st := range s.students {
		if (st.StudentPhone != "" && strings.HasSuffix(st.StudentPhone, tail)) ||
			(st.ParentPhone != "" && strings.HasSuffix(st.ParentPhone, tail)) {
			matches = append(matches, st)
		}
	}
	return pickStudent(matches), nil
}

func (s *InMemoryStore) FindProfileByPhoneTail(_ context.Context, tail string) (*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *models.Profile
	for _, p := range s.profiles {
		if p.Phone == "" || !strings.HasSuffix(p.Phone, tail) {
			continue
		}
		if best == nil || p.UpdatedAt.After(best.UpdatedAt) ||
			(p.UpdatedAt.Equal(best.UpdatedAt) && p.UserID < best.UserID) {
			p := p
			best = &p
		}
	}
	return best, nil
}

func (s *InMemoryStore) FindStudentByEmail(_ context.Context, email string) (*models.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matches []models.Student
	for _, st := range s.students {
		if (st.Email != "" && strings.EqualFold(st.Email, email)) ||
			(st.ParentEmail != "" && strings.EqualFold(st.ParentEmail, email)) {
			matches = append(matches, st)
		}
	}
	return pickStudent(matches), nil
}

func (s *InMemoryStore) LinkStudentPhone(_ context.Context, studentID, phone string, parent bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.students[studentID]
	if !ok {
		return ErrNotFound
	}
	if parent {
		st.ParentPhone = phone
	} else {
		st.StudentPhone = phone
	}
	st.UpdatedAt = time.Now()
	s.students[studentID] = st
	return nil
}

func (s *InMemoryStore) GetStudentSummary(_ context.Context, studentID string) (string, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.students[studentID]
	if !ok {
		return "", "", ErrNotFound
	}
	return st.AISummary, st.FullName, nil
}

func (s *InMemoryStore) UpdateStudentSummary(_ context.Context, studentID, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.students[studentID]
	if !ok {
		return ErrNotFound
	}
	st.AISummary = summary
	st.UpdatedAt = time.Now()
	s.students[studentID] = st
	return nil
}

func (s *InMemoryStore) InsertMessage(_ context.Context, msg models.ConversationMessage) (int64, error) {
	if _, err := threadColumn(msg.Thread); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMsgID++
	msg.ID = s.nextMsgID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	s.messages = append(s.messages, msg)
	return msg.ID, nil
}

// threadMessages returns the thread's messages oldest first. Caller holds the lock.
func (s *InMemoryStore) threadMessages(key models.ThreadKey) []models.ConversationMessage {
	var out []models.ConversationMessage
	for _, m := range s.messages {
		if m.Thread == key {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *InMemoryStore) RecentMessages(_ context.Context, key models.ThreadKey, limit int) ([]models.ConversationMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.threadMessages(key)
	if limit >= 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (s *InMemoryStore) OldestMessages(_ context.Context, key models.ThreadKey, limit int) ([]models.ConversationMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.threadMessages(key)
	if limit >= 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (s *InMemoryStore) CountMessages(_ context.Context, key models.ThreadKey) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.threadMessages(key)), nil
}

func (s *InMemoryStore) DeleteOldestMessages(_ context.Context, key models.ThreadKey, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	oldest := s.threadMessages(key)
	if len(oldest) > n {
		oldest = oldest[:n]
	}
	doomed := make(map[int64]bool, len(oldest))
	for _, m := range oldest {
		doomed[m.ID] = true
	}
	kept := s.messages[:0]
	for _, m := range s.messages {
		if !doomed[m.ID] {
			kept = append(kept, m)
		}
	}
	s.messages = kept
	slog.Debug("InMemoryStore.DeleteOldestMessages: pruned", "thread", key.String(), "deleted", len(doomed))
	return len(doomed), nil
}

func (s *InMemoryStore) FindOpenInquiry(_ context.Context, phoneTail string) (*models.InquiryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *models.InquiryRecord
	for _, rec := range s.inquiries {
		if rec.PhoneTail != phoneTail || rec.Status != models.InquiryOpen {
			continue
		}
		if best == nil || rec.CreatedAt.Before(best.CreatedAt) {
			rec := rec
			best = &rec
		}
	}
	return best, nil
}

func (s *InMemoryStore) CreateInquiry(_ context.Context, rec models.InquiryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inquiries[rec.ID] = rec
	return nil
}

func (s *InMemoryStore) IncrementInquiry(_ context.Context, id string, delta int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.inquiries[id]
	if !ok {
		return ErrNotFound
	}
	rec.MessageCount += delta
	rec.UpdatedAt = at
	s.inquiries[id] = rec
	return nil
}

func (s *InMemoryStore) SetInquiryEmail(_ context.Context, id, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.inquiries[id]
	if !ok {
		return ErrNotFound
	}
	rec.Email = email
	rec.UpdatedAt = time.Now()
	s.inquiries[id] = rec
	return nil
}

// Inquiries returns every stored inquiry. Intended for tests.
func (s *InMemoryStore) Inquiries() []models.InquiryRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.InquiryRecord, 0, len(s.inquiries))
	for _, rec := range s.inquiries {
		out = append(out, rec)
	}
	return out
}

func (s *InMemoryStore) IsDuplicate(_ context.Context, messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.dedup[messageID]
	return ok, nil
}

func (s *InMemoryStore) RecordInbound(_ context.Context, messageID, phoneTail string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dedup[messageID]; ok {
		return false, nil
	}
	s.dedup[messageID] = DedupRecord{MessageID: messageID, PhoneTail: phoneTail, ReceivedAt: time.Now()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.dedup[messageID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	rec.ProcessedAt = &now
	s.dedup[messageID] = rec
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
