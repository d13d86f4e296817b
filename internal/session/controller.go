// Package session implements the conversation session controller.
//
// A controller owns one lead's open chat thread: it manages the
// optimistic message store, drives the reply scheduler, routes backend
// replies through the augmentation pipeline, and derives the render-ready
// state the dashboard consumes. All operations on one controller are
// serialized by a single mutex, which stands in for the UI event loop's
// cooperative scheduling: at most one operation affecting the message
// store is ever in flight per conversation.
package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/flow"
	"github.com/BTreeMap/LeadPipe/internal/leadapi"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/BTreeMap/LeadPipe/internal/util"
)

// Config holds the dependencies for one conversation controller.
type Config struct {
	CompanyID string
	LeadID    string
	API       leadapi.API
	Registry  *store.BookingFlowRegistry
	Augmenter *flow.Augmenter
	Timer     flow.Timer
}

// Controller drives a single lead's conversation session.
type Controller struct {
	mu sync.Mutex

	sessionID string
	companyID string
	store     *store.MessageStore
	registry  *store.BookingFlowRegistry
	augmenter *flow.Augmenter
	scheduler *flow.ReplyScheduler
	api       leadapi.API

	draft  string
	closed bool
}

// NewController creates a controller for one lead. The scheduler starts in
// manual mode; call SetMode to enable automated replies.
func NewController(cfg Config) *Controller {
	sessionID := util.GenerateSessionID()
	slog.Debug("Creating session Controller", "sessionID", sessionID, "companyID", cfg.CompanyID, "leadID", cfg.LeadID)
	c := &Controller{
		sessionID: sessionID,
		companyID: cfg.CompanyID,
		store:     store.NewMessageStore(cfg.LeadID),
		registry:  cfg.Registry,
		augmenter: cfg.Augmenter,
		api:       cfg.API,
	}
	c.scheduler = flow.NewReplyScheduler(cfg.Timer, c.onCountdownExpired)
	return c
}

// onCountdownExpired is the scheduler trigger: it requests an AI reply
// when the automated countdown runs out. The firing token is re-checked
// after the controller lock is won, because a user action can cancel the
// countdown between the timer expiring and this goroutine acquiring the
// controller, and a cancelled firing must not produce a reply.
func (c *Controller) onCountdownExpired(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), leadapi.DefaultTimeout)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		slog.Debug("Controller ignoring AI reply trigger on closed session", "leadID", c.store.LeadID())
		return
	}
	if !c.scheduler.FiringValid(gen) {
		slog.Debug("Controller dropping cancelled countdown firing", "leadID", c.store.LeadID())
		return
	}

	if err := c.aiReplyLocked(ctx); err != nil {
		slog.Warn("Controller scheduled AI reply failed", "leadID", c.store.LeadID(), "error", err)
	}
}

// Open fetches the conversation history and loads it into the store.
func (c *Controller) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conv, err := c.api.GetConversation(ctx, c.companyID, c.store.LeadID())
	if err != nil {
		return fmt.Errorf("open conversation failed: %w", err)
	}
	c.store.Load(conv)
	slog.Info("Controller opened conversation", "leadID", conv.LeadID, "conversationID", conv.ConversationID, "messages", len(conv.Messages))
	return nil
}

// Refresh re-fetches the conversation and replaces the store wholesale.
// Terminal-state guards in the registry make re-running augmentation over
// historical replies a no-op, so a refresh never re-offers a resolved
// booking.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	conv, err := c.api.GetConversation(ctx, c.companyID, c.store.LeadID())
	if err != nil {
		return fmt.Errorf("refresh conversation failed: %w", err)
	}
	c.store.Load(conv)
	slog.Debug("Controller refreshed conversation", "leadID", conv.LeadID, "messages", len(conv.Messages))
	return nil
}

// SendText delivers a typed user message through the optimistic
// append/rollback path. On a transient send failure the optimistic message
// is rolled back and the draft is restored verbatim so the user can retry;
// the error is returned for a non-blocking notification, never treated as
// fatal.
func (c *Controller) SendText(ctx context.Context, content string) error {
	if content == "" {
		return models.ErrEmptyContent
	}
	if len(content) > models.MaxMessageContentLength {
		return models.ErrContentTooLong
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendTextLocked(ctx, content)
}

func (c *Controller) sendTextLocked(ctx context.Context, content string) error {
	// New user activity invalidates any pending automated trigger.
	c.scheduler.Cancel()

	now := time.Now()
	c.store.AppendOptimistic(models.Message{
		ID:        util.GenerateMessageID(),
		Role:      models.RoleUser,
		Content:   content,
		Timestamp: &now,
	})
	c.draft = ""

	conv := c.store.Conversation()
	reply, err := c.api.SendMessage(ctx, c.companyID, conv.LeadID, leadapi.SendMessageRequest{
		Role:           models.RoleUser,
		Content:        content,
		ConversationID: conv.ConversationID,
	})
	if err != nil {
		// Local recovery: undo the optimistic append and restore the draft.
		if _, rbErr := c.store.RollbackLast(); rbErr != nil {
			slog.Error("Controller rollback after failed send also failed", "leadID", conv.LeadID, "error", rbErr)
		}
		c.draft = content
		slog.Warn("Controller send failed, rolled back optimistic message", "leadID", conv.LeadID, "error", err)
		return fmt.Errorf("send message failed: %w", err)
	}

	c.applyReplyLocked(ctx, reply, content)

	// The countdown restarts relative to this newest user message.
	c.scheduler.Start()
	return nil
}

// SelectQuickReply stages a quick reply's value as the outgoing message
// text, strips quick replies from every historical message so stale chip
// sets disappear, and sends through the same optimistic path as typed
// input.
func (c *Controller) SelectQuickReply(ctx context.Context, reply models.QuickReply) error {
	if reply.Value == "" {
		return models.ErrEmptyContent
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.store.StripQuickReplies()
	return c.sendTextLocked(ctx, reply.Value)
}

// TriggerAIReplyNow requests an AI reply immediately, cancelling any
// running countdown. On failure the conversation state is unchanged: no
// partial message is appended.
func (c *Controller) TriggerAIReplyNow(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		slog.Debug("Controller ignoring AI reply trigger on closed session", "leadID", c.store.LeadID())
		return nil
	}
	c.scheduler.Cancel()
	return c.aiReplyLocked(ctx)
}

func (c *Controller) aiReplyLocked(ctx context.Context) error {
	conv := c.store.Conversation()
	reply, err := c.api.AIReply(ctx, c.companyID, conv.LeadID)
	if err != nil {
		return fmt.Errorf("ai reply failed: %w", err)
	}

	c.applyReplyLocked(ctx, reply, lastUserContent(conv.Messages))
	return nil
}

// SendVoiceNote uploads a voice note through the opaque backend call and
// routes the reply through the same augmentation path as text.
func (c *Controller) SendVoiceNote(ctx context.Context, fileName string, audio io.Reader) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.scheduler.Cancel()

	now := time.Now()
	c.store.AppendOptimistic(models.Message{
		ID:        util.GenerateMessageID(),
		Role:      models.RoleUser,
		Content:   "[voice note]",
		AudioURL:  fileName,
		Timestamp: &now,
	})

	reply, err := c.api.SendVoiceMessage(ctx, c.store.Key(), fileName, audio)
	if err != nil {
		if _, rbErr := c.store.RollbackLast(); rbErr != nil {
			slog.Error("Controller rollback after failed voice send also failed", "leadID", c.store.LeadID(), "error", rbErr)
		}
		slog.Warn("Controller voice send failed, rolled back optimistic message", "leadID", c.store.LeadID(), "error", err)
		return fmt.Errorf("send voice note failed: %w", err)
	}

	c.applyReplyLocked(ctx, reply, "")
	c.scheduler.Start()
	return nil
}

// applyReplyLocked merges one backend reply into the session: records the
// backend-assigned identifiers, runs augmentation (which mutates flow
// state before the enriched reply is returned), and appends the assistant
// turn at the tail.
func (c *Controller) applyReplyLocked(ctx context.Context, reply models.BackendReply, lastUserUtterance string) {
	c.store.SetConversationID(reply.ConversationID)
	if reply.CurrentStep > 0 {
		c.store.SetCurrentStep(reply.CurrentStep)
	}
	c.store.MergeParsedFields(reply.ParsedFields)

	augmented := c.augmenter.Augment(ctx, c.store.Key(), reply, lastUserUtterance)
	c.store.AppendAssistant(augmented.Content, augmented.QuickReplies, augmented.Booking)
}

// ApplyBookingUpdate patches the booking payload of one message in place
// after an in-panel action (e.g. the lead picked a slot) and advances the
// flow state machine to match.
func (c *Controller) ApplyBookingUpdate(index int, payload *models.BookingPayload) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.PatchBookingAt(index, payload); err != nil {
		return err
	}

	bookingFlow := c.registry.GetOrCreate(c.store.Key())
	switch {
	case payload.Mode.IsTerminalConfirmation():
		if err := flow.MarkCompleted(bookingFlow, appointmentID(payload), "slot confirmed in panel"); err != nil {
			slog.Debug("Controller booking confirmation ignored by state machine", "key", bookingFlow.Key, "error", err)
		}
	case payload.Mode == models.BookingModeAwaitingSlotChoice:
		if err := flow.MarkAwaitingSlotChoice(bookingFlow, "lead engaged with panel"); err != nil {
			slog.Debug("Controller slot-choice transition ignored by state machine", "key", bookingFlow.Key, "error", err)
		}
	}
	return nil
}

// DismissBooking records explicit user dismissal of the booking panel. The
// flow becomes terminal; only ResetBookingFlow can re-enable offers.
func (c *Controller) DismissBooking() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	bookingFlow := c.registry.GetOrCreate(c.store.Key())
	if err := flow.MarkDeclined(bookingFlow, "panel dismissed by user"); err != nil {
		return err
	}
	return nil
}

// ResetBookingFlow is the operator escape hatch that returns the flow to
// idle and clears the completed and offer-shown markers.
func (c *Controller) ResetBookingFlow() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registry.Reset(c.store.Key())
}

// SetMode switches the reply scheduler between manual and automated.
func (c *Controller) SetMode(mode flow.SchedulerMode) error {
	return c.scheduler.SetMode(mode)
}

// SetDelaySeconds configures the automated countdown length.
func (c *Controller) SetDelaySeconds(n int) error {
	return c.scheduler.SetDelaySeconds(n)
}

// SetSmartDelayRange enables the randomized delay range on the scheduler.
func (c *Controller) SetSmartDelayRange(min, max time.Duration) {
	c.scheduler.SetSmartDelayRange(min, max)
}

// HandleUploadOutcome processes per-file results from the external upload
// collaborator. A batch with at least one success appends the
// informational follow-up turn and refreshes the conversation; individual
// failures are reported in the notice.
func (c *Controller) HandleUploadOutcome(ctx context.Context, results []models.UploadResult) error {
	succeeded := 0
	failed := 0
	for _, r := range results {
		if r.OK {
			succeeded++
		} else {
			failed++
		}
	}

	if succeeded == 0 {
		slog.Debug("Controller upload batch had no successes, skipping follow-up", "leadID", c.store.LeadID(), "failed", failed)
		return nil
	}

	c.mu.Lock()
	notice := fmt.Sprintf("%d attachment(s) uploaded.", succeeded)
	if failed > 0 {
		notice = fmt.Sprintf("%d attachment(s) uploaded, %d failed.", succeeded, failed)
	}
	c.store.AppendSystem(notice)
	c.mu.Unlock()

	return c.Refresh(ctx)
}

// SessionID returns the unique identifier assigned to this session at
// creation, used to correlate log lines across operations.
func (c *Controller) SessionID() string {
	return c.sessionID
}

// ConversationKey returns the registry key for this session's conversation.
func (c *Controller) ConversationKey() string {
	return c.store.Key()
}

// Draft returns the restored draft text after a failed send, if any.
func (c *Controller) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// DebugSnapshot exposes the booking flow state for the dashboard's status
// panel.
func (c *Controller) DebugSnapshot() models.BookingFlowSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.GetOrCreate(c.store.Key()).Snapshot()
}

// Close releases the session's scoped resources, cancelling any pending
// countdown so a timer can never fire against torn-down state. Close is
// safe to call more than once and on any exit path.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.scheduler.Cancel()
	slog.Info("Controller closed", "sessionID", c.sessionID, "leadID", c.store.LeadID())
}

// lastUserContent returns the content of the most recent user turn.
func lastUserContent(messages []models.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

// appointmentID extracts the appointment identifier from a payload.
func appointmentID(payload *models.BookingPayload) string {
	if payload.AppointmentID != "" {
		return payload.AppointmentID
	}
	if payload.Appointment != nil {
		return payload.Appointment.ID
	}
	return ""
}
