package models

import "time"

// Intent is the classification of a prospect's conversation.
type Intent string

const (
	// IntentInfo marks commercial / informational requests (prices, plans, how it works).
	IntentInfo Intent = "info"
	// IntentAcademic marks requests for tutoring help.
	IntentAcademic Intent = "academic"
)

// InquiryStatus is the lifecycle state of a lead inquiry.
type InquiryStatus string

const (
	InquiryOpen   InquiryStatus = "open"
	InquiryClosed InquiryStatus = "closed"
)

// InquiryRecord tracks one sales-lead conversation keyed by phone tail.
// At most one open record exists per phone tail.
type InquiryRecord struct {
	ID           string        `json:"id"`
	PhoneTail    string        `json:"phone_tail"`
	Intent       Intent        `json:"intent"`
	Status       InquiryStatus `json:"status"`
	Email        string        `json:"email,omitempty"`
	MessageCount int           `json:"message_count"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}
