// Package store provides the AuditRepo interface for augmentation diagnostics.
package store

import (
	"time"
)

// Augmentation decision kinds recorded in the audit log.
const (
	// DecisionTerminalSkip records that a terminal flow caused augmentation to be skipped.
	DecisionTerminalSkip = "terminal_skip"
	// DecisionPassthrough records that a backend-computed booking payload was passed through.
	DecisionPassthrough = "passthrough"
	// DecisionOffered records that a local intent detection attached a fresh offer.
	DecisionOffered = "offered"
	// DecisionNoOp records that the reply was returned unmodified.
	DecisionNoOp = "noop"
	// DecisionError records an internal pipeline failure that degraded to the raw reply.
	DecisionError = "error"
)

// AuditRecord represents one augmentation pipeline decision.
//
// The audit log exists for diagnostics only; it never holds conversation
// content or flow state.
type AuditRecord struct {
	ID              int64     `json:"id"`
	ConversationKey string    `json:"conversation_key"`
	Decision        string    `json:"decision"`
	Detail          string    `json:"detail,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// AuditRepo defines the interface for recording augmentation decisions.
type AuditRepo interface {
	// RecordDecision appends one decision for a conversation key.
	RecordDecision(conversationKey, decision, detail string) error

	// RecentDecisions returns up to limit most recent decisions for a key,
	// newest first.
	RecentDecisions(conversationKey string, limit int) ([]AuditRecord, error)
}
