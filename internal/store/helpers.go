package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/BTreeMap/StudyPipe/internal/models"
)

const (
	studentColumns = `id, user_id, full_name, email, parent_email, student_phone, parent_phone,
		year_class, track, status, subscription_tier, ai_summary, updated_at`
	profileColumns = `user_id, full_name, email, phone, is_black, updated_at`
	messageColumns = `id, student_id, phone_tail, role, content, meta, created_at`
	inquiryColumns = `id, phone_tail, intent, status, email, message_count, created_at, updated_at`
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanStudent scans a paid-student row selected with studentColumns.
func scanStudent(row rowScanner) (*models.Student, error) {
	var s models.Student
	var userID, email, parentEmail, studentPhone, parentPhone sql.NullString
	var yearClass, track, status, tier, summary sql.NullString
	err := row.Scan(&s.ID, &userID, &s.FullName, &email, &parentEmail, &studentPhone, &parentPhone,
		&yearClass, &track, &status, &tier, &summary, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.UserID = userID.String
	s.Email = email.String
	s.ParentEmail = parentEmail.String
	s.StudentPhone = studentPhone.String
	s.ParentPhone = parentPhone.String
	s.YearClass = yearClass.String
	s.Track = track.String
	s.Status = status.String
	s.SubscriptionTier = tier.String
	s.AISummary = summary.String
	return &s, nil
}

// scanProfile scans a profile row selected with profileColumns.
func scanProfile(row rowScanner) (*models.Profile, error) {
	var p models.Profile
	var email, phone sql.NullString
	err := row.Scan(&p.UserID, &p.FullName, &email, &phone, &p.IsBlack, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Email = email.String
	p.Phone = phone.String
	return &p, nil
}

// scanMessages collects conversation rows selected with messageColumns.
func scanMessages(rows *sql.Rows) ([]models.ConversationMessage, error) {
	defer rows.Close()
	var msgs []models.ConversationMessage
	for rows.Next() {
		var m models.ConversationMessage
		var studentID, phoneTail sql.NullString
		var role, meta string
		if err := rows.Scan(&m.ID, &studentID, &phoneTail, &role, &m.Content, &meta, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation message failed: %w", err)
		}
		if studentID.Valid && studentID.String != "" {
			m.Thread = models.StudentThread(studentID.String)
		} else {
			m.Thread = models.PhoneThread(phoneTail.String)
		}
		m.Role = models.Role(role)
		m.Meta = models.ParseMessageMeta(meta)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation messages failed: %w", err)
	}
	return msgs, nil
}

// scanInquiry scans an inquiry row selected with inquiryColumns.
func scanInquiry(row rowScanner) (*models.InquiryRecord, error) {
	var r models.InquiryRecord
	var intent, status string
	var email sql.NullString
	err := row.Scan(&r.ID, &r.PhoneTail, &intent, &status, &email, &r.MessageCount, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Intent = models.Intent(intent)
	r.Status = models.InquiryStatus(status)
	r.Email = email.String
	return &r, nil
}

// messageThreadArgs returns the student_id and phone_tail column values for a message.
func messageThreadArgs(key models.ThreadKey) (studentID, phoneTail interface{}, err error) {
	switch key.Kind {
	case models.ThreadStudent:
		return key.Value, nil, nil
	case models.ThreadPhone:
		return nil, key.Value, nil
	default:
		return nil, nil, fmt.Errorf("invalid thread key kind %q", key.Kind)
	}
}

// orNow returns t, or the current time when t is zero.
func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
