// Package store provides in-memory conversation state and the audit log
// backends for LeadPipe.
//
// The message store and booking flow registry are session-scoped and never
// persisted; only the augmentation audit log has durable backends.
package store

import (
	"log/slog"
	"sync"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// MessageStore holds the canonical, render-ready list of turns for one
// open conversation. Appends only ever happen at the tail, so message
// order always matches user-perceived chronological order.
type MessageStore struct {
	mu   sync.RWMutex
	conv models.Conversation
}

// NewMessageStore creates an empty message store for the given lead.
func NewMessageStore(leadID string) *MessageStore {
	slog.Debug("Creating MessageStore", "leadID", leadID)
	return &MessageStore{
		conv: models.Conversation{
			LeadID:       leadID,
			Messages:     []models.Message{},
			ParsedFields: map[string]string{},
		},
	}
}

// Load replaces the store wholesale with fetched conversation data.
// The lead ID is preserved if the incoming data omits it, parsed fields
// default to an empty map, and the current step defaults to zero.
func (s *MessageStore) Load(conv models.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv.LeadID == "" {
		conv.LeadID = s.conv.LeadID
	}
	if conv.ParsedFields == nil {
		conv.ParsedFields = map[string]string{}
	}
	if conv.Messages == nil {
		conv.Messages = []models.Message{}
	}
	s.conv = conv
	slog.Debug("MessageStore Load", "leadID", conv.LeadID, "conversationID", conv.ConversationID, "messages", len(conv.Messages))
}

// AppendOptimistic appends a user-authored message before the network call
// resolves, so the UI reflects intent with zero latency.
func (s *MessageStore) AppendOptimistic(msg models.Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conv.Messages = append(s.conv.Messages, msg)
	idx := len(s.conv.Messages) - 1
	slog.Debug("MessageStore AppendOptimistic", "leadID", s.conv.LeadID, "index", idx, "role", msg.Role)
	return idx
}

// RollbackLast removes the most recently appended message. It is used
// exactly once per failed send to undo the optimistic append, returning
// the store to its pre-send shape. The removed message is returned so the
// caller can restore the draft.
func (s *MessageStore) RollbackLast() (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.conv.Messages) == 0 {
		slog.Warn("MessageStore RollbackLast on empty store", "leadID", s.conv.LeadID)
		return models.Message{}, models.ErrEmptyStore
	}

	last := s.conv.Messages[len(s.conv.Messages)-1]
	s.conv.Messages = s.conv.Messages[:len(s.conv.Messages)-1]
	slog.Debug("MessageStore RollbackLast", "leadID", s.conv.LeadID, "remaining", len(s.conv.Messages))
	return last, nil
}

// AppendAssistant appends a backend-authored turn after augmentation and
// returns its index.
func (s *MessageStore) AppendAssistant(content string, quickReplies []models.QuickReply, booking *models.BookingPayload) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conv.Messages = append(s.conv.Messages, models.Message{
		Role:         models.RoleAssistant,
		Content:      content,
		QuickReplies: quickReplies,
		Booking:      booking,
	})
	idx := len(s.conv.Messages) - 1
	slog.Debug("MessageStore AppendAssistant", "leadID", s.conv.LeadID, "index", idx, "hasBooking", booking != nil)
	return idx
}

// AppendSystem appends an informational system turn (e.g. the upload
// follow-up notice) and returns its index.
func (s *MessageStore) AppendSystem(content string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conv.Messages = append(s.conv.Messages, models.Message{
		Role:    models.RoleSystem,
		Content: content,
	})
	return len(s.conv.Messages) - 1
}

// PatchBookingAt mutates the booking field of one existing message in
// place and clears that message's quick replies, which are no longer
// valid once a panel interaction begins.
func (s *MessageStore) PatchBookingAt(index int, payload *models.BookingPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.conv.Messages) {
		slog.Error("MessageStore PatchBookingAt index out of range", "leadID", s.conv.LeadID, "index", index, "len", len(s.conv.Messages))
		return models.ErrIndexOutOfRange
	}

	s.conv.Messages[index].Booking = payload
	s.conv.Messages[index].QuickReplies = nil
	slog.Debug("MessageStore PatchBookingAt", "leadID", s.conv.LeadID, "index", index, "mode", payload.Mode)
	return nil
}

// StripQuickReplies removes quick replies from every message. Stale chip
// sets disappear once any one of them is used.
func (s *MessageStore) StripQuickReplies() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.conv.Messages {
		s.conv.Messages[i].QuickReplies = nil
	}
	slog.Debug("MessageStore StripQuickReplies", "leadID", s.conv.LeadID)
}

// SetConversationID records the backend-assigned conversation ID once known.
func (s *MessageStore) SetConversationID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != "" && s.conv.ConversationID == "" {
		slog.Debug("MessageStore SetConversationID", "leadID", s.conv.LeadID, "conversationID", id)
	}
	if id != "" {
		s.conv.ConversationID = id
	}
}

// SetCurrentStep updates the backend-reported progress counter.
func (s *MessageStore) SetCurrentStep(step int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conv.CurrentStep = step
}

// MergeParsedFields copies backend extraction results into the conversation.
func (s *MessageStore) MergeParsedFields(fields map[string]string) {
	if len(fields) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range fields {
		s.conv.ParsedFields[k] = v
	}
}

// Messages returns a copy of the message list.
func (s *MessageStore) Messages() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Message, len(s.conv.Messages))
	copy(out, s.conv.Messages)
	return out
}

// Len returns the number of messages in the store.
func (s *MessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conv.Messages)
}

// Conversation returns a snapshot of the conversation, including a copied
// message list.
func (s *MessageStore) Conversation() models.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv := s.conv
	conv.Messages = make([]models.Message, len(s.conv.Messages))
	copy(conv.Messages, s.conv.Messages)
	conv.ParsedFields = make(map[string]string, len(s.conv.ParsedFields))
	for k, v := range s.conv.ParsedFields {
		conv.ParsedFields[k] = v
	}
	return conv
}

// Key returns the registry key for this conversation: the conversation ID
// once assigned, otherwise the lead ID.
func (s *MessageStore) Key() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.conv
	return c.Key()
}

// LeadID returns the stable lead identity for this conversation.
func (s *MessageStore) LeadID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conv.LeadID
}
