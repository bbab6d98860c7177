package models

import (
	"strings"
	"time"
)

// ContactSource records which data source a Contact was resolved from.
type ContactSource string

const (
	// SourcePaidStudent is the paid-student table.
	SourcePaidStudent ContactSource = "paid_student"
	// SourceGenericProfile is the generic account-profile table.
	SourceGenericProfile ContactSource = "generic_profile"
	// SourceFallbackGuest is used when no source matched.
	SourceFallbackGuest ContactSource = "fallback_guest"
)

// PremiumTier is the subscription tier tag that always grants tutoring.
const PremiumTier = "black"

// activeStatuses are the lifecycle labels treated as an active subscription.
var activeStatuses = map[string]bool{
	"active":   true,
	"trial":    true,
	"trialing": true,
	"past_due": true,
}

// IsBlackEligible reports whether a status/tier pair entitles the holder to AI tutoring.
func IsBlackEligible(status, tier string) bool {
	if activeStatuses[strings.ToLower(strings.TrimSpace(status))] {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(tier), PremiumTier)
}

// Contact is the resolved identity of a phone number for a single inbound message.
type Contact struct {
	UserID           string        `json:"userId,omitempty"`
	StudentID        string        `json:"studentId,omitempty"`
	FullName         string        `json:"fullName,omitempty"`
	Email            string        `json:"email,omitempty"`
	Phone            string        `json:"phone,omitempty"`
	YearClass        string        `json:"yearClass,omitempty"`
	Track            string        `json:"track,omitempty"`
	Status           string        `json:"status,omitempty"`
	SubscriptionTier string        `json:"subscriptionTier,omitempty"`
	IsBlack          bool          `json:"isBlack"`
	Source           ContactSource `json:"source"`
	AISummary        string        `json:"aiSummary,omitempty"`
}

// IsGuest reports whether the contact was not found in any data source.
func (c *Contact) IsGuest() bool {
	return c == nil || c.Source == SourceFallbackGuest
}

// Student is a row of the paid-student table.
type Student struct {
	ID               string
	UserID           string
	FullName         string
	Email            string
	ParentEmail      string
	StudentPhone     string
	ParentPhone      string
	YearClass        string
	Track            string
	Status           string
	SubscriptionTier string
	AISummary        string
	UpdatedAt        time.Time
}

// Contact maps the student row to a Contact, computing Black eligibility.
func (s *Student) Contact() *Contact {
	phone := s.StudentPhone
	if phone == "" {
		phone = s.ParentPhone
	}
	return &Contact{
		UserID:           s.UserID,
		StudentID:        s.ID,
		FullName:         s.FullName,
		Email:            s.Email,
		Phone:            phone,
		YearClass:        s.YearClass,
		Track:            s.Track,
		Status:           s.Status,
		SubscriptionTier: s.SubscriptionTier,
		IsBlack:          IsBlackEligible(s.Status, s.SubscriptionTier),
		Source:           SourcePaidStudent,
		AISummary:        s.AISummary,
	}
}

// Profile is a row of the generic account-profile table.
type Profile struct {
	UserID    string
	FullName  string
	Email     string
	Phone     string
	IsBlack   bool
	UpdatedAt time.Time
}

// Contact maps the profile row to a Contact. Black eligibility comes from the stored flag.
func (p *Profile) Contact() *Contact {
	return &Contact{
		UserID:   p.UserID,
		FullName: p.FullName,
		Email:    p.Email,
		Phone:    p.Phone,
		IsBlack:  p.IsBlack,
		Source:   SourceGenericProfile,
	}
}
