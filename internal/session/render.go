package session

import (
	"github.com/BTreeMap/LeadPipe/internal/models"
)

// RenderState derives the render-ready projection of the conversation:
// the message list with per-message interactive/inert booking flags, the
// current countdown value (if any), and the restored draft.
func (c *Controller) RenderState() models.RenderState {
	c.mu.Lock()
	defer c.mu.Unlock()

	conv := c.store.Conversation()
	bookingFlow := c.registry.GetOrCreate(conv.Key())

	activeIdx := selectActiveBookingIndex(conv.Messages, bookingFlow)

	rendered := make([]models.RenderedMessage, len(conv.Messages))
	for i, msg := range conv.Messages {
		rendered[i] = models.RenderedMessage{
			Message:            msg,
			BookingInteractive: i == activeIdx,
		}
	}

	state := models.RenderState{
		LeadID:         conv.LeadID,
		ConversationID: conv.ConversationID,
		Messages:       rendered,
		Draft:          c.draft,
		CurrentStep:    conv.CurrentStep,
	}
	if remaining, running := c.scheduler.Remaining(); running {
		state.CountdownSeconds = &remaining
	}
	return state
}

// selectActiveBookingIndex picks the one message allowed to render an
// interactive booking panel. Scanning from the end, the last message
// carrying a non-empty booking mode is the candidate. It is interactive
// only if the flow is not terminal, OR the candidate's own mode is a
// terminal confirmation (a just-completed booking stays visible as a
// confirmation). All earlier booking-bearing messages render as inert
// history, which prevents duplicate live controls after multiple AI turns
// each propose booking.
//
// Returns -1 when no message should be interactive.
func selectActiveBookingIndex(messages []models.Message, bookingFlow *models.BookingFlowState) int {
	for i := len(messages) - 1; i >= 0; i-- {
		booking := messages[i].Booking
		if booking == nil || booking.Mode == "" {
			continue
		}
		if !bookingFlow.IsTerminal() || booking.Mode.IsTerminalConfirmation() {
			return i
		}
		return -1
	}
	return -1
}
