// Package models contains the core data structures shared across StudyPipe modules.
package models

import (
	"errors"
	"strings"
)

// InboundMessage is the normalized record every transport adapter must produce
// before handing a message to the conversation router.
type InboundMessage struct {
	MessageText    string `json:"messageText"`
	SubscriberName string `json:"subscriberName,omitempty"`
	RawPhone       string `json:"rawPhone,omitempty"`
	ImageURL       string `json:"imageUrl,omitempty"`
	// MessageID is the transport's message identifier, used only for deduplication.
	MessageID string `json:"messageId,omitempty"`
}

// HasImage reports whether the message carries an image reference.
func (m InboundMessage) HasImage() bool {
	return strings.TrimSpace(m.ImageURL) != ""
}

// Validate checks that the message carries something to reply to.
func (m InboundMessage) Validate() error {
	if strings.TrimSpace(m.MessageText) == "" && !m.HasImage() {
		return errors.New("message must contain text or an image")
	}
	return nil
}

// Reply is what the router hands back to transport adapters.
type Reply struct {
	ReplyText         string `json:"replyText"`
	IsBlackSubscriber bool   `json:"isBlackSubscriber"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
	// APIStatusDuplicate indicates the inbound message had already been processed.
	APIStatusDuplicate APIStatus = "duplicate"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}

// Duplicate creates a response for an inbound message that was already handled.
func Duplicate(messageID string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusDuplicate).
		WithMessage("message " + messageID + " already processed").
		Build()
}
