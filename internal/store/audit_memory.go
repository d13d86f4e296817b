package store

import (
	"sync"
	"time"
)

// Compile-time check that InMemoryAuditRepo implements AuditRepo.
var _ AuditRepo = (*InMemoryAuditRepo)(nil)

// InMemoryAuditRepo is the default audit backend when no DSN is configured.
type InMemoryAuditRepo struct {
	mu      sync.RWMutex
	records []AuditRecord
	nextID  int64
}

// NewInMemoryAuditRepo creates an empty in-memory audit repo.
func NewInMemoryAuditRepo() *InMemoryAuditRepo {
	return &InMemoryAuditRepo{}
}

func (r *InMemoryAuditRepo) RecordDecision(conversationKey, decision, detail string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	r.records = append(r.records, AuditRecord{
		ID:              r.nextID,
		ConversationKey: conversationKey,
		Decision:        decision,
		Detail:          detail,
		CreatedAt:       time.Now(),
	})
	return nil
}

func (r *InMemoryAuditRepo) RecentDecisions(conversationKey string, limit int) ([]AuditRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []AuditRecord
	for i := len(r.records) - 1; i >= 0 && len(out) < limit; i-- {
		if r.records[i].ConversationKey == conversationKey {
			out = append(out, r.records[i])
		}
	}
	return out, nil
}
