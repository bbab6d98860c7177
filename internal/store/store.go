// Package store provides storage backends for StudyPipe.
//
// It defines the Store interface over the paid-student, generic-profile,
// conversation-message, inquiry and inbound-dedup tables, with in-memory,
// SQLite and PostgreSQL implementations.
package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/BTreeMap/StudyPipe/internal/models"
)

// ErrNotFound is returned by updates that target a row which does not exist.
var ErrNotFound = errors.New("record not found")

// ContactStore exposes the two identity sources. Lookups return (nil, nil) when nothing matches.
type ContactStore interface {
	// FindStudentByPhoneTail returns the paid student whose student or parent phone ends with tail.
	// When several rows match, the most recently updated one wins (ties broken by lowest id).
	FindStudentByPhoneTail(ctx context.Context, tail string) (*models.Student, error)
	// FindProfileByPhoneTail returns the generic profile whose phone ends with tail.
	FindProfileByPhoneTail(ctx context.Context, tail string) (*models.Profile, error)
	// FindStudentByEmail matches the student or parent email, case-insensitively.
	FindStudentByEmail(ctx context.Context, email string) (*models.Student, error)
	// LinkStudentPhone writes phone onto the student (or parent) phone column.
	LinkStudentPhone(ctx context.Context, studentID, phone string, parent bool) error
	// GetStudentSummary returns the student's compacted memory and display name.
	GetStudentSummary(ctx context.Context, studentID string) (summary, fullName string, err error)
	// UpdateStudentSummary replaces the student's compacted memory.
	UpdateStudentSummary(ctx context.Context, studentID, summary string) error
}

// ConversationStore is the append-only per-thread message log.
type ConversationStore interface {
	InsertMessage(ctx context.Context, msg models.ConversationMessage) (int64, error)
	// RecentMessages returns up to limit of the newest messages, oldest first.
	RecentMessages(ctx context.Context, key models.ThreadKey, limit int) ([]models.ConversationMessage, error)
	// OldestMessages returns up to limit of the oldest messages, oldest first.
	OldestMessages(ctx context.Context, key models.ThreadKey, limit int) ([]models.ConversationMessage, error)
	CountMessages(ctx context.Context, key models.ThreadKey) (int, error)
	// DeleteOldestMessages removes up to n of the oldest messages and reports how many were removed.
	DeleteOldestMessages(ctx context.Context, key models.ThreadKey, n int) (int, error)
}

// InquiryStore persists lead inquiries.
type InquiryStore interface {
	// FindOpenInquiry returns the open inquiry for the phone tail or (nil, nil).
	FindOpenInquiry(ctx context.Context, phoneTail string) (*models.InquiryRecord, error)
	CreateInquiry(ctx context.Context, rec models.InquiryRecord) error
	// IncrementInquiry adds delta to the message counter and bumps updated_at.
	IncrementInquiry(ctx context.Context, id string, delta int, at time.Time) error
	SetInquiryEmail(ctx context.Context, id, email string) error
}

// Seeder writes identity rows. The identity tables are owned by the account
// system; these methods exist for local development and tests.
type Seeder interface {
	SaveStudent(ctx context.Context, s models.Student) error
	SaveProfile(ctx context.Context, p models.Profile) error
}

// Store is the full storage surface used by StudyPipe.
type Store interface {
	ContactStore
	ConversationStore
	InquiryStore
	DedupRepo
	Seeder
	Close() error
}

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN string // database connection string
}

// Option defines a configuration option for stores.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

var keyValueDSNRegex = regexp.MustCompile(`(^|\s)(host|user|dbname|password|sslmode|port)=`)

// DetectDSNType reports "postgres" for PostgreSQL URLs or key=value DSNs and "sqlite3" otherwise.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	if keyValueDSNRegex.MatchString(dsn) {
		return "postgres"
	}
	return "sqlite3"
}

// New opens the store selected by options: PostgreSQL or SQLite by DSN type,
// in-memory when no DSN is configured.
func New(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	switch {
	case cfg.DSN == "":
		return NewInMemoryStore(), nil
	case DetectDSNType(cfg.DSN) == "postgres":
		return NewPostgresStore(opts...)
	default:
		return NewSQLiteStore(opts...)
	}
}

// threadColumn returns the column a thread key is stored in.
func threadColumn(key models.ThreadKey) (string, error) {
	switch key.Kind {
	case models.ThreadStudent:
		return "student_id", nil
	case models.ThreadPhone:
		return "phone_tail", nil
	default:
		return "", errors.New("invalid thread key kind: " + string(key.Kind))
	}
}

// reverseMessages reverses msgs in place.
func reverseMessages(msgs []models.ConversationMessage) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
