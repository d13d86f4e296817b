// Package models defines the core data structures for LeadPipe.
//
// It includes conversation turns, backend reply envelopes, and the API
// response types shared across modules.
package models

import (
	"errors"
	"time"
)

// MessageRole identifies the author of a conversation turn.
type MessageRole string

const (
	// RoleUser marks a turn authored by the lead.
	RoleUser MessageRole = "user"
	// RoleAssistant marks a turn authored by the AI assistant.
	RoleAssistant MessageRole = "assistant"
	// RoleSystem marks an informational turn injected by the dashboard.
	RoleSystem MessageRole = "system"
)

// Validation constants for input validation
const (
	// MaxMessageContentLength defines the maximum allowed length for message content
	MaxMessageContentLength = 4096
	// MaxQuickReplyLabelLength defines the maximum allowed length for quick reply labels
	MaxQuickReplyLabelLength = 100
)

// Error variables for better error handling and testability
var (
	ErrEmptyLeadID          = errors.New("lead ID cannot be empty")
	ErrEmptyContent         = errors.New("message content cannot be empty")
	ErrContentTooLong       = errors.New("message content exceeds maximum length")
	ErrInvalidRole          = errors.New("invalid message role")
	ErrEmptyStore           = errors.New("message store is empty")
	ErrIndexOutOfRange      = errors.New("message index out of range")
	ErrInvalidDelay         = errors.New("delay must be a positive number of seconds")
	ErrUnknownSchedulerMode = errors.New("unknown scheduler mode")
)

// IsValidRole checks if the given message role is supported.
func IsValidRole(r MessageRole) bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	default:
		return false
	}
}

// QuickReply is a tappable suggestion chip offered beneath an assistant turn.
type QuickReply struct {
	Label string `json:"label"` // text shown on the chip
	Value string `json:"value"` // message text staged when selected
}

// Message represents a single conversation turn.
//
// A message is immutable once appended, except for the booking payload,
// which the augmentation pipeline may patch in place on the message index
// it authored.
type Message struct {
	ID           string          `json:"id,omitempty"`
	Role         MessageRole     `json:"role"`
	Content      string          `json:"content"`
	Timestamp    *time.Time      `json:"timestamp,omitempty"`
	QuickReplies []QuickReply    `json:"quick_replies,omitempty"`
	Booking      *BookingPayload `json:"booking,omitempty"`
	AudioURL     string          `json:"audio_url,omitempty"` // reference to a voice note, if any
}

// Conversation is the canonical thread for one lead.
type Conversation struct {
	LeadID         string            `json:"lead_id"`
	ConversationID string            `json:"conversation_id,omitempty"` // assigned by the backend on first exchange
	Messages       []Message         `json:"messages"`
	CurrentStep    int               `json:"current_step"`
	ParsedFields   map[string]string `json:"parsed_fields"` // backend extraction results, read-only here
}

// Key returns the identifier used to index the booking flow registry:
// the conversation ID once assigned, otherwise the lead ID.
func (c *Conversation) Key() string {
	if c.ConversationID != "" {
		return c.ConversationID
	}
	return c.LeadID
}

// ReplyMetadata is the metadata wrapper some backend replies nest a
// booking payload under.
type ReplyMetadata struct {
	Booking *BookingPayload `json:"booking,omitempty"`
}

// UIAction is the UI-action wrapper variant of a backend reply; a booking
// payload may arrive nested here instead of at the top level.
type UIAction struct {
	Type    string          `json:"type"`
	Booking *BookingPayload `json:"booking,omitempty"`
}

// BackendReply is the raw reply envelope returned by the lead API for
// sendMessage, aiReply, and sendVoiceMessage calls.
type BackendReply struct {
	ConversationID string            `json:"conversation_id,omitempty"`
	Content        string            `json:"content"`
	CurrentStep    int               `json:"current_step,omitempty"`
	QuickReplies   []QuickReply      `json:"quick_replies,omitempty"`
	Booking        *BookingPayload   `json:"booking,omitempty"`
	Metadata       *ReplyMetadata    `json:"metadata,omitempty"`
	UIAction       *UIAction         `json:"ui_action,omitempty"`
	ParsedFields   map[string]string `json:"parsed_fields,omitempty"`
}

// RenderedMessage is a message projected for the UI, carrying the
// interactive/inert booking panel flag derived by the session controller.
type RenderedMessage struct {
	Message
	BookingInteractive bool `json:"booking_interactive"`
}

// RenderState is the full render-ready projection of one conversation.
type RenderState struct {
	LeadID           string            `json:"lead_id"`
	ConversationID   string            `json:"conversation_id,omitempty"`
	Messages         []RenderedMessage `json:"messages"`
	CountdownSeconds *int              `json:"countdown_seconds,omitempty"` // nil when no countdown is running
	Draft            string            `json:"draft,omitempty"`             // restored text after a failed send
	CurrentStep      int               `json:"current_step"`
}

// UploadResult reports the outcome of a single attachment upload performed
// by the external upload collaborator.
type UploadResult struct {
	FileName string `json:"file_name"`
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
	// APIStatusDegraded indicates a request succeeded with a degraded result.
	APIStatusDegraded APIStatus = "degraded"
)

// API Response types for consistent JSON responses

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
	return &APIResponseBuilder{
		response: APIResponse{},
	}
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

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
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

// Degraded creates a degraded API response with a message and result.
func Degraded(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusDegraded).
		WithMessage(message).
		WithResult(result).
		Build()
}
