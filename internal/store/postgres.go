// Package store provides storage backends for StudyPipe.
//
// This file implements a PostgreSQL-backed store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/StudyPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// newPostgresStoreWithDB wraps an already-open database. Migrations are not run.
func newPostgresStoreWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}

// SaveStudent upserts a paid-student row.
func (s *PostgresStore) SaveStudent(ctx context.Context, st models.Student) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO paid_students (`+studentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			full_name = EXCLUDED.full_name,
			email = EXCLUDED.email,
			parent_email = EXCLUDED.parent_email,
			student_phone = EXCLUDED.student_phone,
			parent_phone = EXCLUDED.parent_phone,
			year_class = EXCLUDED.year_class,
			track = EXCLUDED.track,
			status = EXCLUDED.status,
			subscription_tier = EXCLUDED.subscription_tier,
			ai_summary = EXCLUDED.ai_summary,
			updated_at = EXCLUDED.updated_at`,
		st.ID, nilIfEmpty(st.UserID), st.FullName, nilIfEmpty(st.Email), nilIfEmpty(st.ParentEmail),
		nilIfEmpty(st.StudentPhone), nilIfEmpty(st.ParentPhone), nilIfEmpty(st.YearClass), nilIfEmpty(st.Track),
		nilIfEmpty(st.Status), nilIfEmpty(st.SubscriptionTier), nilIfEmpty(st.AISummary), orNow(st.UpdatedAt))
	if err != nil {
		slog.Error("PostgresStore SaveStudent failed", "error", err, "id", st.ID)
		return fmt.Errorf("failed to save student %s: %w", st.ID, err)
	}
	return nil
}

// SaveProfile upserts a generic profile row.
func (s *PostgresStore) SaveProfile(ctx context.Context, p models.Profile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (`+profileColumns+`) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			full_name = EXCLUDED.full_name,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			is_black = EXCLUDED.is_black,
			updated_at = EXCLUDED.updated_at`,
		p.UserID, p.FullName, nilIfEmpty(p.Email), nilIfEmpty(p.Phone), p.IsBlack, orNow(p.UpdatedAt))
	if err != nil {
		slog.Error("PostgresStore SaveProfile failed", "error", err, "userID", p.UserID)
		return fmt.Errorf("failed to save profile %s: %w", p.UserID, err)
	}
	return nil
}

func (s *PostgresStore) FindStudentByPhoneTail(ctx context.Context, tail string) (*models.Student, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+studentColumns+` FROM paid_students
		WHERE student_phone ILIKE '%' || $1 OR parent_phone ILIKE '%' || $1
		ORDER BY updated_at DESC, id ASC LIMIT 1`, tail)
	st, err := scanStudent(row)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore FindStudentByPhoneTail not found", "tail", tail)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore FindStudentByPhoneTail failed", "error", err, "tail", tail)
		return nil, fmt.Errorf("failed to query paid students: %w", err)
	}
	return st, nil
}

func (s *PostgresStore) FindProfileByPhoneTail(ctx context.Context, tail string) (*models.Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles
		WHERE phone ILIKE '%' || $1
		ORDER BY updated_at DESC, user_id ASC LIMIT 1`, tail)
	p, err := scanProfile(row)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore FindProfileByPhoneTail not found", "tail", tail)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore FindProfileByPhoneTail failed", "error", err, "tail", tail)
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) FindStudentByEmail(ctx context.Context, email string) (*models.Student, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+studentColumns+` FROM paid_students
		WHERE lower(email) = lower($1) OR lower(parent_email) = lower($1)
		ORDER BY updated_at DESC, id ASC LIMIT 1`, email)
	st, err := scanStudent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore FindStudentByEmail failed", "error", err)
		return nil, fmt.Errorf("failed to query paid students by email: %w", err)
	}
	return st, nil
}

func (s *PostgresStore) LinkStudentPhone(ctx context.Context, studentID, phone string, parent bool) error {
	column := "student_phone"
	if parent {
		column = "parent_phone"
	}
	res, err := s.db.ExecContext(ctx, `UPDATE paid_students SET `+column+` = $1, updated_at = $2 WHERE id = $3`,
		phone, time.Now(), studentID)
	if err != nil {
		slog.Error("PostgresStore LinkStudentPhone failed", "error", err, "studentID", studentID)
		return fmt.Errorf("failed to link phone to student %s: %w", studentID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	slog.Debug("PostgresStore LinkStudentPhone succeeded", "studentID", studentID, "column", column)
	return nil
}

func (s *PostgresStore) GetStudentSummary(ctx context.Context, studentID string) (string, string, error) {
	var summary sql.NullString
	var name string
	err := s.db.QueryRowContext(ctx, `SELECT ai_summary, full_name FROM paid_students WHERE id = $1`, studentID).
		Scan(&summary, &name)
	if err == sql.ErrNoRows {
		return "", "", ErrNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to read summary for student %s: %w", studentID, err)
	}
	return summary.String, name, nil
}

func (s *PostgresStore) UpdateStudentSummary(ctx context.Context, studentID, summary string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE paid_students SET ai_summary = $1, updated_at = $2 WHERE id = $3`,
		summary, time.Now(), studentID)
	if err != nil {
		slog.Error("PostgresStore UpdateStudentSummary failed", "error", err, "studentID", studentID)
		return fmt.Errorf("failed to update summary for student %s: %w", studentID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) InsertMessage(ctx context.Context, msg models.ConversationMessage) (int64, error) {
	studentID, phoneTail, err := messageThreadArgs(msg.Thread)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.db.QueryRowContext(ctx, `INSERT INTO conversation_messages (student_id, phone_tail, role, content, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		studentID, phoneTail, string(msg.Role), msg.Content, msg.Meta.JSON(), orNow(msg.CreatedAt)).Scan(&id)
	if err != nil {
		slog.Error("PostgresStore InsertMessage failed", "error", err, "thread", msg.Thread.String())
		return 0, fmt.Errorf("failed to insert message: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) RecentMessages(ctx context.Context, key models.ThreadKey, limit int) ([]models.ConversationMessage, error) {
	column, err := threadColumn(key)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+messageColumns+` FROM conversation_messages
		WHERE `+column+` = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, key.Value, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent messages: %w", err)
	}
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	reverseMessages(msgs)
	return msgs, nil
}

func (s *PostgresStore) OldestMessages(ctx context.Context, key models.ThreadKey, limit int) ([]models.ConversationMessage, error) {
	column, err := threadColumn(key)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+messageColumns+` FROM conversation_messages
		WHERE `+column+` = $1 ORDER BY created_at ASC, id ASC LIMIT $2`, key.Value, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query oldest messages: %w", err)
	}
	return scanMessages(rows)
}

func (s *PostgresStore) CountMessages(ctx context.Context, key models.ThreadKey) (int, error) {
	column, err := threadColumn(key)
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversation_messages WHERE `+column+` = $1`, key.Value).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) DeleteOldestMessages(ctx context.Context, key models.ThreadKey, n int) (int, error) {
	column, err := threadColumn(key)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversation_messages WHERE id IN (
		SELECT id FROM conversation_messages WHERE `+column+` = $1 ORDER BY created_at ASC, id ASC LIMIT $2)`,
		key.Value, n)
	if err != nil {
		slog.Error("PostgresStore DeleteOldestMessages failed", "error", err, "thread", key.String())
		return 0, fmt.Errorf("failed to delete oldest messages: %w", err)
	}
	deleted, _ := res.RowsAffected()
	slog.Debug("PostgresStore DeleteOldestMessages succeeded", "thread", key.String(), "deleted", deleted)
	return int(deleted), nil
}

func (s *PostgresStore) FindOpenInquiry(ctx context.Context, phoneTail string) (*models.InquiryRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+inquiryColumns+` FROM inquiries
		WHERE phone_tail = $1 AND status = $2 ORDER BY created_at ASC LIMIT 1`, phoneTail, string(models.InquiryOpen))
	rec, err := scanInquiry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query open inquiry: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) CreateInquiry(ctx context.Context, rec models.InquiryRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO inquiries (`+inquiryColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.PhoneTail, string(rec.Intent), string(rec.Status), nilIfEmpty(rec.Email), rec.MessageCount,
		orNow(rec.CreatedAt), orNow(rec.UpdatedAt))
	if err != nil {
		slog.Error("PostgresStore CreateInquiry failed", "error", err, "id", rec.ID)
		return fmt.Errorf("failed to create inquiry: %w", err)
	}
	return nil
}

func (s *PostgresStore) IncrementInquiry(ctx context.Context, id string, delta int, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE inquiries SET message_count = message_count + $1, updated_at = $2 WHERE id = $3`,
		delta, at, id)
	if err != nil {
		return fmt.Errorf("failed to increment inquiry %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetInquiryEmail(ctx context.Context, id, email string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE inquiries SET email = $1, updated_at = $2 WHERE id = $3`, email, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to set inquiry email %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
