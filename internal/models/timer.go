// Package models defines timer introspection structures for LeadPipe.
package models

import "time"

// TimerInfo describes one active scheduled timer, for the debug panel.
type TimerInfo struct {
	ID          string    `json:"id"`
	ScheduledAt time.Time `json:"scheduled_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Remaining   string    `json:"remaining"`
	Description string    `json:"description,omitempty"`
}
