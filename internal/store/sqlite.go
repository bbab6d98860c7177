// Package store provides storage backends for StudyPipe.
//
// This file implements an SQLite-backed store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/StudyPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully", "dir", dir)

	return &SQLiteStore{db: db}, nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}

// SaveStudent inserts or replaces a paid-student row.
func (s *SQLiteStore) SaveStudent(ctx context.Context, st models.Student) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO paid_students (`+studentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ID, nilIfEmpty(st.UserID), st.FullName, nilIfEmpty(st.Email), nilIfEmpty(st.ParentEmail),
		nilIfEmpty(st.StudentPhone), nilIfEmpty(st.ParentPhone), nilIfEmpty(st.YearClass), nilIfEmpty(st.Track),
		nilIfEmpty(st.Status), nilIfEmpty(st.SubscriptionTier), nilIfEmpty(st.AISummary), orNow(st.UpdatedAt))
	if err != nil {
		slog.Error("SQLiteStore SaveStudent failed", "error", err, "id", st.ID)
		return fmt.Errorf("failed to save student %s: %w", st.ID, err)
	}
	return nil
}

// SaveProfile inserts or replaces a generic profile row.
func (s *SQLiteStore) SaveProfile(ctx context.Context, p models.Profile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO profiles (`+profileColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		p.UserID, p.FullName, nilIfEmpty(p.Email), nilIfEmpty(p.Phone), p.IsBlack, orNow(p.UpdatedAt))
	if err != nil {
		slog.Error("SQLiteStore SaveProfile failed", "error", err, "userID", p.UserID)
		return fmt.Errorf("failed to save profile %s: %w", p.UserID, err)
	}
	return nil
}

func (s *SQLiteStore) FindStudentByPhoneTail(ctx context.Context, tail string) (*models.Student, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+studentColumns+` FROM paid_students
		WHERE student_phone LIKE '%' || ? OR parent_phone LIKE '%' || ?
		ORDER BY updated_at DESC, id ASC LIMIT 1`, tail, tail)
	st, err := scanStudent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore FindStudentByPhoneTail failed", "error", err, "tail", tail)
		return nil, fmt.Errorf("failed to query paid students: %w", err)
	}
	return st, nil
}

func (s *SQLiteStore) FindProfileByPhoneTail(ctx context.Context, tail string) (*models.Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles
		WHERE phone LIKE '%' || ?
		ORDER BY updated_at DESC, user_id ASC LIMIT 1`, tail)
	p, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore FindProfileByPhoneTail failed", "error", err, "tail", tail)
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) FindStudentByEmail(ctx context.Context, email string) (*models.Student, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+studentColumns+` FROM paid_students
		WHERE lower(email) = lower(?) OR lower(parent_email) = lower(?)
		ORDER BY updated_at DESC, id ASC LIMIT 1`, email, email)
	st, err := scanStudent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore FindStudentByEmail failed", "error", err)
		return nil, fmt.Errorf("failed to query paid students by email: %w", err)
	}
	return st, nil
}

func (s *SQLiteStore) LinkStudentPhone(ctx context.Context, studentID, phone string, parent bool) error {
	column := "student_phone"
	if parent {
		column = "parent_phone"
	}
	res, err := s.db.ExecContext(ctx, `UPDATE paid_students SET `+column+` = ?, updated_at = ? WHERE id = ?`,
		phone, time.Now(), studentID)
	if err != nil {
		slog.Error("SQLiteStore LinkStudentPhone failed", "error", err, "studentID", studentID)
		return fmt.Errorf("failed to link phone to student %s: %w", studentID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) GetStudentSummary(ctx context.Context, studentID string) (string, string, error) {
	var summary sql.NullString
	var name string
	err := s.db.QueryRowContext(ctx, `SELECT ai_summary, full_name FROM paid_students WHERE id = ?`, studentID).
		Scan(&summary, &name)
	if err == sql.ErrNoRows {
		return "", "", ErrNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to read summary for student %s: %w", studentID, err)
	}
	return summary.String, name, nil
}

func (s *SQLiteStore) UpdateStudentSummary(ctx context.Context, studentID, summary string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE paid_students SET ai_summary = ?, updated_at = ? WHERE id = ?`,
		summary, time.Now(), studentID)
	if err != nil {
		slog.Error("SQLiteStore UpdateStudentSummary failed", "error", err, "studentID", studentID)
		return fmt.Errorf("failed to update summary for student %s: %w", studentID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) InsertMessage(ctx context.Context, msg models.ConversationMessage) (int64, error) {
	studentID, phoneTail, err := messageThreadArgs(msg.Thread)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO conversation_messages (student_id, phone_tail, role, content, meta, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`, studentID, phoneTail, string(msg.Role), msg.Content, msg.Meta.JSON(), orNow(msg.CreatedAt))
	if err != nil {
		slog.Error("SQLiteStore InsertMessage failed", "error", err, "thread", msg.Thread.String())
		return 0, fmt.Errorf("failed to insert message: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) RecentMessages(ctx context.Context, key models.ThreadKey, limit int) ([]models.ConversationMessage, error) {
	column, err := threadColumn(key)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+messageColumns+` FROM conversation_messages
		WHERE `+column+` = ? ORDER BY created_at DESC, id DESC LIMIT ?`, key.Value, limit)
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

func (s *SQLiteStore) OldestMessages(ctx context.Context, key models.ThreadKey, limit int) ([]models.ConversationMessage, error) {
	column, err := threadColumn(key)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+messageColumns+` FROM conversation_messages
		WHERE `+column+` = ? ORDER BY created_at ASC, id ASC LIMIT ?`, key.Value, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query oldest messages: %w", err)
	}
	return scanMessages(rows)
}

func (s *SQLiteStore) CountMessages(ctx context.Context, key models.ThreadKey) (int, error) {
	column, err := threadColumn(key)
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversation_messages WHERE `+column+` = ?`, key.Value).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) DeleteOldestMessages(ctx context.Context, key models.ThreadKey, n int) (int, error) {
	column, err := threadColumn(key)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversation_messages WHERE id IN (
		SELECT id FROM conversation_messages WHERE `+column+` = ? ORDER BY created_at ASC, id ASC LIMIT ?)`,
		key.Value, n)
	if err != nil {
		slog.Error("SQLiteStore DeleteOldestMessages failed", "error", err, "thread", key.String())
		return 0, fmt.Errorf("failed to delete oldest messages: %w", err)
	}
	deleted, _ := res.RowsAffected()
	return int(deleted), nil
}

func (s *SQLiteStore) FindOpenInquiry(ctx context.Context, phoneTail string) (*models.InquiryRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+inquiryColumns+` FROM inquiries
		WHERE phone_tail = ? AND status = ? ORDER BY created_at ASC LIMIT 1`, phoneTail, string(models.InquiryOpen))
	rec, err := scanInquiry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query open inquiry: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) CreateInquiry(ctx context.Context, rec models.InquiryRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO inquiries (`+inquiryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.PhoneTail, string(rec.Intent), string(rec.Status), nilIfEmpty(rec.Email), rec.MessageCount,
		orNow(rec.CreatedAt), orNow(rec.UpdatedAt))
	if err != nil {
		slog.Error("SQLiteStore CreateInquiry failed", "error", err, "id", rec.ID)
		return fmt.Errorf("failed to create inquiry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) IncrementInquiry(ctx context.Context, id string, delta int, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE inquiries SET message_count = message_count + ?, updated_at = ? WHERE id = ?`,
		delta, at, id)
	if err != nil {
		return fmt.Errorf("failed to increment inquiry %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) SetInquiryEmail(ctx context.Context, id, email string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE inquiries SET email = ?, updated_at = ? WHERE id = ?`, email, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to set inquiry email %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
