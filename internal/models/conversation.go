package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role is the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ThreadKind tells which identifier a thread is keyed by.
type ThreadKind string

const (
	// ThreadStudent threads are keyed by the paid-student id.
	ThreadStudent ThreadKind = "student"
	// ThreadPhone threads are keyed by the sender's phone tail.
	ThreadPhone ThreadKind = "phone"
)

// ThreadKey identifies one conversation thread. A thread is always addressed
// with a single key kind so history is never split across identifiers.
type ThreadKey struct {
	Kind  ThreadKind `json:"kind"`
	Value string     `json:"value"`
}

// StudentThread returns the thread key for a known student.
func StudentThread(studentID string) ThreadKey {
	return ThreadKey{Kind: ThreadStudent, Value: studentID}
}

// PhoneThread returns the thread key for a phone tail.
func PhoneThread(phoneTail string) ThreadKey {
	return ThreadKey{Kind: ThreadPhone, Value: phoneTail}
}

// ThreadFor picks the thread key for a contact: the student id when known, else the phone tail.
func ThreadFor(c *Contact, phoneTail string) ThreadKey {
	if c != nil && c.StudentID != "" {
		return StudentThread(c.StudentID)
	}
	return PhoneThread(phoneTail)
}

// IsStudent reports whether the thread belongs to a known student.
func (k ThreadKey) IsStudent() bool {
	return k.Kind == ThreadStudent && k.Value != ""
}

// Valid reports whether the key can address a thread.
func (k ThreadKey) Valid() bool {
	return (k.Kind == ThreadStudent || k.Kind == ThreadPhone) && k.Value != ""
}

func (k ThreadKey) String() string {
	return fmt.Sprintf("%s:%s", k.Kind, k.Value)
}

// MessageMeta is the side-channel stored next to each turn.
type MessageMeta struct {
	SubscriberName string `json:"subscriber_name,omitempty"`
	HasImage       bool   `json:"has_image,omitempty"`
	Model          string `json:"model,omitempty"`
	Error          string `json:"error,omitempty"`
	Branch         string `json:"branch,omitempty"`
}

// JSON encodes the meta for storage. Empty meta encodes as "{}".
func (m MessageMeta) JSON() string {
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// ParseMessageMeta decodes stored meta, tolerating empty or malformed values.
func ParseMessageMeta(raw string) MessageMeta {
	var m MessageMeta
	if raw == "" {
		return m
	}
	_ = json.Unmarshal([]byte(raw), &m)
	return m
}

// ConversationMessage is one stored turn of a thread.
type ConversationMessage struct {
	ID        int64       `json:"id"`
	Thread    ThreadKey   `json:"thread"`
	Role      Role        `json:"role"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
	Meta      MessageMeta `json:"meta"`
}
