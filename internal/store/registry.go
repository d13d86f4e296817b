// Package store provides the booking flow registry for LeadPipe.
package store

import (
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// BookingFlowRegistry maps conversation keys to booking flow state.
//
// Each key owns a singleton entry: GetOrCreate always returns the same
// shared pointer for a key, so two callers can never race to create
// divergent entries. The registry lock only guards the map; entry fields
// are mutated by the flow transition functions under the session
// controller's per-conversation serialization.
//
// The registry is injectable rather than a module-level singleton so tests
// can instantiate isolated registries per case.
type BookingFlowRegistry struct {
	mu    sync.RWMutex
	flows map[string]*models.BookingFlowState
}

// NewBookingFlowRegistry creates an empty registry.
func NewBookingFlowRegistry() *BookingFlowRegistry {
	slog.Debug("Creating BookingFlowRegistry")
	return &BookingFlowRegistry{
		flows: make(map[string]*models.BookingFlowState),
	}
}

// GetOrCreate returns the flow state for the key, creating it with stage
// idle on first access.
func (r *BookingFlowRegistry) GetOrCreate(key string) *models.BookingFlowState {
	r.mu.Lock()
	defer r.mu.Unlock()

	if flow, exists := r.flows[key]; exists {
		return flow
	}

	now := time.Now()
	flow := &models.BookingFlowState{
		Key:       key,
		Stage:     models.StageIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.flows[key] = flow
	slog.Debug("BookingFlowRegistry created entry", "key", key)
	return flow
}

// Get returns the flow state for the key without creating one.
func (r *BookingFlowRegistry) Get(key string) (*models.BookingFlowState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	flow, exists := r.flows[key]
	return flow, exists
}

// Reset returns the entry for the key to idle and clears the completed and
// offer-shown markers. The entry itself survives so existing holders of
// the pointer observe the reset. Entries are never deleted automatically.
func (r *BookingFlowRegistry) Reset(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	flow, exists := r.flows[key]
	if !exists {
		slog.Debug("BookingFlowRegistry Reset: no entry", "key", key)
		return
	}

	flow.Stage = models.StageIdle
	flow.OfferShown = false
	flow.Completed = false
	flow.AppointmentID = ""
	flow.StageReason = "explicit reset"
	flow.UpdatedAt = time.Now()
	slog.Info("BookingFlowRegistry Reset", "key", key)
}

// Snapshot returns the debug projection of every entry, keyed by
// conversation key. Used by the admin status panel.
func (r *BookingFlowRegistry) Snapshot() map[string]models.BookingFlowSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]models.BookingFlowSnapshot, len(r.flows))
	for key, flow := range r.flows {
		out[key] = flow.Snapshot()
	}
	return out
}

// Len returns the number of entries in the registry.
func (r *BookingFlowRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.flows)
}
