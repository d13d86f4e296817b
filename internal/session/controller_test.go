package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/flow"
	"github.com/BTreeMap/LeadPipe/internal/leadapi"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
)

// fakeAPI is a scripted lead API backend for controller tests.
type fakeAPI struct {
	mu sync.Mutex

	conversation models.Conversation
	getErr       error

	nextReply models.BackendReply
	sendErr   error
	aiErr     error
	voiceErr  error

	sentMessages []leadapi.SendMessageRequest
	aiCalls      int
	getCalls     int
}

func (f *fakeAPI) GetConversation(ctx context.Context, companyID, leadID string) (models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getErr != nil {
		return models.Conversation{}, f.getErr
	}
	return f.conversation, nil
}

func (f *fakeAPI) SendMessage(ctx context.Context, companyID, leadID string, req leadapi.SendMessageRequest) (models.BackendReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return models.BackendReply{}, f.sendErr
	}
	f.sentMessages = append(f.sentMessages, req)
	return f.nextReply, nil
}

func (f *fakeAPI) AIReply(ctx context.Context, companyID, leadID string) (models.BackendReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aiCalls++
	if f.aiErr != nil {
		return models.BackendReply{}, f.aiErr
	}
	return f.nextReply, nil
}

func (f *fakeAPI) SendVoiceMessage(ctx context.Context, conversationKey, fileName string, audio io.Reader) (models.BackendReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.voiceErr != nil {
		return models.BackendReply{}, f.voiceErr
	}
	return f.nextReply, nil
}

// fakeTimer captures scheduled countdowns so tests can fire them synchronously.
type fakeTimer struct {
	mu        sync.Mutex
	nextID    int
	scheduled map[string]func()
}

func newFakeTimer() *fakeTimer {
	return &fakeTimer{scheduled: make(map[string]func())}
}

func (f *fakeTimer) ScheduleAfter(delay time.Duration, fn func()) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("fake_%d", f.nextID)
	f.scheduled[id] = fn
	return id, nil
}

func (f *fakeTimer) Cancel(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.scheduled, id)
	return nil
}

func (f *fakeTimer) fireAll() {
	f.mu.Lock()
	fns := make([]func(), 0, len(f.scheduled))
	for id, fn := range f.scheduled {
		fns = append(fns, fn)
		delete(f.scheduled, id)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (f *fakeTimer) pendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.scheduled)
}

func newTestController(t *testing.T, api *fakeAPI) (*Controller, *store.BookingFlowRegistry, *fakeTimer) {
	t.Helper()
	registry := store.NewBookingFlowRegistry()
	timer := newFakeTimer()
	ctrl := NewController(Config{
		CompanyID: "co-1",
		LeadID:    "lead-1",
		API:       api,
		Registry:  registry,
		Augmenter: flow.NewAugmenter(registry, nil, nil),
		Timer:     timer,
	})
	if err := ctrl.Open(context.Background()); err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	return ctrl, registry, timer
}

func TestSendTextAppendsUserAndAssistantTurns(t *testing.T) {
	api := &fakeAPI{nextReply: models.BackendReply{ConversationID: "conv-1", Content: "hello there"}}
	ctrl, _, _ := newTestController(t, api)

	if err := ctrl.SendText(context.Background(), "hi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state := ctrl.RenderState()
	if len(state.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(state.Messages))
	}
	if state.Messages[0].Role != models.RoleUser || state.Messages[0].Content != "hi" {
		t.Errorf("unexpected user turn: %+v", state.Messages[0].Message)
	}
	if state.Messages[1].Role != models.RoleAssistant || state.Messages[1].Content != "hello there" {
		t.Errorf("unexpected assistant turn: %+v", state.Messages[1].Message)
	}
	if state.ConversationID != "conv-1" {
		t.Errorf("expected backend conversation ID recorded, got %q", state.ConversationID)
	}
	if state.Draft != "" {
		t.Errorf("expected empty draft after successful send, got %q", state.Draft)
	}
}

func TestSendTextRollbackRestoresDraft(t *testing.T) {
	api := &fakeAPI{sendErr: errors.New("network down")}
	ctrl, _, _ := newTestController(t, api)

	err := ctrl.SendText(context.Background(), "important message")
	if err == nil {
		t.Fatal("expected error from failed send")
	}

	state := ctrl.RenderState()
	if len(state.Messages) != 0 {
		t.Errorf("expected optimistic message rolled back, got %d messages", len(state.Messages))
	}
	if state.Draft != "important message" {
		t.Errorf("expected draft restored verbatim, got %q", state.Draft)
	}

	// Retry after the backend recovers clears the draft.
	api.mu.Lock()
	api.sendErr = nil
	api.nextReply = models.BackendReply{Content: "got it"}
	api.mu.Unlock()
	if err := ctrl.SendText(context.Background(), state.Draft); err != nil {
		t.Fatalf("unexpected error on retry: %v", err)
	}
	if ctrl.Draft() != "" {
		t.Errorf("expected draft cleared after retry, got %q", ctrl.Draft())
	}
}

func TestSendTextValidation(t *testing.T) {
	api := &fakeAPI{}
	ctrl, _, _ := newTestController(t, api)

	if err := ctrl.SendText(context.Background(), ""); err != models.ErrEmptyContent {
		t.Errorf("expected ErrEmptyContent, got %v", err)
	}
	long := strings.Repeat("x", models.MaxMessageContentLength+1)
	if err := ctrl.SendText(context.Background(), long); err != models.ErrContentTooLong {
		t.Errorf("expected ErrContentTooLong, got %v", err)
	}
	if len(api.sentMessages) != 0 {
		t.Error("expected no backend call for invalid input")
	}
}

func TestSelectQuickReplyStripsAllChips(t *testing.T) {
	api := &fakeAPI{
		conversation: models.Conversation{
			LeadID: "lead-1",
			Messages: []models.Message{
				{Role: models.RoleAssistant, Content: "pick one", QuickReplies: []models.QuickReply{
					{Label: "Morning", Value: "morning works"},
					{Label: "Evening", Value: "evening works"},
				}},
			},
		},
		nextReply: models.BackendReply{Content: "morning it is"},
	}
	ctrl, _, _ := newTestController(t, api)

	err := ctrl.SelectQuickReply(context.Background(), models.QuickReply{Label: "Morning", Value: "morning works"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state := ctrl.RenderState()
	for i, msg := range state.Messages {
		if msg.QuickReplies != nil {
			t.Errorf("expected quick replies stripped from message %d", i)
		}
	}
	if state.Messages[1].Role != models.RoleUser || state.Messages[1].Content != "morning works" {
		t.Errorf("expected quick reply value sent as user turn, got %+v", state.Messages[1].Message)
	}
	if len(api.sentMessages) != 1 || api.sentMessages[0].Content != "morning works" {
		t.Error("expected quick reply value delivered to backend")
	}
}

func TestSelectQuickReplyEmptyValue(t *testing.T) {
	ctrl, _, _ := newTestController(t, &fakeAPI{})
	if err := ctrl.SelectQuickReply(context.Background(), models.QuickReply{Label: "x"}); err != models.ErrEmptyContent {
		t.Errorf("expected ErrEmptyContent, got %v", err)
	}
}

func TestAugmentationAttachesOfferToReply(t *testing.T) {
	api := &fakeAPI{nextReply: models.BackendReply{Content: "would you like to schedule a visit?"}}
	ctrl, registry, _ := newTestController(t, api)

	if err := ctrl.SendText(context.Background(), "tell me more"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state := ctrl.RenderState()
	last := state.Messages[len(state.Messages)-1]
	if last.Booking == nil || last.Booking.Mode != models.BookingModeOffered {
		t.Fatal("expected offered booking payload on assistant turn")
	}
	if !last.BookingInteractive {
		t.Error("expected the fresh offer to render interactive")
	}
	if f := registry.GetOrCreate(ctrl.ConversationKey()); f.Stage != models.StageOffered {
		t.Errorf("expected flow offered, got %s", f.Stage)
	}
}

func TestDismissBookingSuppressesFutureOffers(t *testing.T) {
	api := &fakeAPI{nextReply: models.BackendReply{Content: "want to book an appointment?"}}
	ctrl, _, _ := newTestController(t, api)

	if err := ctrl.SendText(context.Background(), "hi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ctrl.DismissBooking(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Further booking-flavored replies must not re-offer.
	if err := ctrl.SendText(context.Background(), "hmm"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	state := ctrl.RenderState()
	last := state.Messages[len(state.Messages)-1]
	if last.Booking != nil {
		t.Error("expected no booking payload after dismissal")
	}
	for i, msg := range state.Messages {
		if msg.BookingInteractive {
			t.Errorf("expected no interactive panel after dismissal, message %d is", i)
		}
	}

	// Dismissing a terminal flow is rejected.
	if err := ctrl.DismissBooking(); err == nil {
		t.Error("expected error dismissing an already-terminal flow")
	}
}

func TestResetBookingFlowReenablesOffers(t *testing.T) {
	api := &fakeAPI{nextReply: models.BackendReply{Content: "want to book an appointment?"}}
	ctrl, _, _ := newTestController(t, api)

	if err := ctrl.SendText(context.Background(), "hi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ctrl.DismissBooking(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctrl.ResetBookingFlow()

	if err := ctrl.SendText(context.Background(), "actually, tell me about appointments"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	state := ctrl.RenderState()
	last := state.Messages[len(state.Messages)-1]
	if last.Booking == nil || last.Booking.Mode != models.BookingModeOffered {
		t.Error("expected a fresh offer after explicit reset")
	}
}

func TestApplyBookingUpdateConfirmsFlow(t *testing.T) {
	api := &fakeAPI{nextReply: models.BackendReply{Content: "pick a time slot", Booking: &models.BookingPayload{Mode: models.BookingModeAwaitingSlotChoice}}}
	ctrl, registry, _ := newTestController(t, api)

	if err := ctrl.SendText(context.Background(), "let's book"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	confirmed := &models.BookingPayload{Mode: models.BookingModeConfirmed, AppointmentID: "appt-42"}
	if err := ctrl.ApplyBookingUpdate(1, confirmed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f := registry.GetOrCreate(ctrl.ConversationKey())
	if f.Stage != models.StageCompleted || f.AppointmentID != "appt-42" {
		t.Errorf("expected completed flow with appointment, got %s %q", f.Stage, f.AppointmentID)
	}

	// The confirmed panel stays visible even though the flow is terminal.
	state := ctrl.RenderState()
	if !state.Messages[1].BookingInteractive {
		t.Error("expected confirmed panel to remain interactive")
	}
	if state.Messages[1].Booking.Mode != models.BookingModeConfirmed {
		t.Errorf("expected confirmed mode on patched message, got %s", state.Messages[1].Booking.Mode)
	}
}

func TestApplyBookingUpdateIndexOutOfRange(t *testing.T) {
	ctrl, _, _ := newTestController(t, &fakeAPI{})
	err := ctrl.ApplyBookingUpdate(5, &models.BookingPayload{Mode: models.BookingModeConfirmed})
	if !errors.Is(err, models.ErrIndexOutOfRange) {
		t.Errorf("expected ErrIndexOutOfRange, got %v", err)
	}
}

func TestOnlyLastBookingMessageInteractive(t *testing.T) {
	api := &fakeAPI{nextReply: models.BackendReply{Content: "shall we schedule?"}}
	ctrl, _, _ := newTestController(t, api)

	if err := ctrl.SendText(context.Background(), "hi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A refresh brings back history where multiple turns carry booking panels.
	api.mu.Lock()
	api.conversation = models.Conversation{
		LeadID:         "lead-1",
		ConversationID: "conv-1",
		Messages: []models.Message{
			{Role: models.RoleAssistant, Content: "book?", Booking: &models.BookingPayload{Mode: models.BookingModeOffered}},
			{Role: models.RoleUser, Content: "maybe later"},
			{Role: models.RoleAssistant, Content: "ready now?", Booking: &models.BookingPayload{Mode: models.BookingModeOffered}},
		},
	}
	api.mu.Unlock()
	if err := ctrl.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state := ctrl.RenderState()
	interactive := 0
	for i, msg := range state.Messages {
		if msg.BookingInteractive {
			interactive++
			if i != 2 {
				t.Errorf("expected only the last booking message interactive, message %d is", i)
			}
		}
	}
	if interactive != 1 {
		t.Errorf("expected exactly one interactive panel, got %d", interactive)
	}
}

func TestAutomatedModeCountdownTriggersAIReply(t *testing.T) {
	api := &fakeAPI{nextReply: models.BackendReply{Content: "auto reply"}}
	ctrl, _, timer := newTestController(t, api)

	if err := ctrl.SetMode(flow.ModeAutomated); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ctrl.SendText(context.Background(), "hi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if timer.pendingCount() != 1 {
		t.Fatalf("expected one pending countdown, got %d", timer.pendingCount())
	}
	state := ctrl.RenderState()
	if state.CountdownSeconds == nil {
		t.Error("expected countdown seconds in render state while running")
	}

	timer.fireAll()
	if api.aiCalls != 1 {
		t.Errorf("expected one AI reply call after countdown, got %d", api.aiCalls)
	}

	state = ctrl.RenderState()
	last := state.Messages[len(state.Messages)-1]
	if last.Role != models.RoleAssistant || last.Content != "auto reply" {
		t.Errorf("expected automated assistant turn appended, got %+v", last.Message)
	}
	if state.CountdownSeconds != nil {
		t.Error("expected no countdown after it fired")
	}
}

func TestManualTriggerCancelsCountdown(t *testing.T) {
	api := &fakeAPI{nextReply: models.BackendReply{Content: "reply"}}
	ctrl, _, timer := newTestController(t, api)

	if err := ctrl.SetMode(flow.ModeAutomated); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ctrl.SendText(context.Background(), "hi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ctrl.TriggerAIReplyNow(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if timer.pendingCount() != 0 {
		t.Errorf("expected countdown cancelled by manual trigger, %d pending", timer.pendingCount())
	}
	if api.aiCalls != 1 {
		t.Errorf("expected one AI reply call, got %d", api.aiCalls)
	}
}

func TestCancelAfterCountdownExpirySuppressesStaleReply(t *testing.T) {
	api := &fakeAPI{nextReply: models.BackendReply{Content: "stale auto reply"}}
	ctrl, _, timer := newTestController(t, api)

	if err := ctrl.SetMode(flow.ModeAutomated); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ctrl.SendText(context.Background(), "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Hold the controller to stand in for an in-flight user action while
	// the countdown expires underneath it.
	ctrl.mu.Lock()
	done := make(chan struct{})
	go func() {
		timer.fireAll()
		close(done)
	}()

	// The expired firing clears the countdown on the scheduler side before
	// it blocks on the controller. Once that has happened, the user action
	// cancels and only then releases the controller; the stale firing must
	// not produce a reply even though it already left the timer.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, running := ctrl.scheduler.Remaining(); !running {
			break
		}
		if time.Now().After(deadline) {
			ctrl.mu.Unlock()
			t.Fatal("countdown never expired")
		}
		time.Sleep(time.Millisecond)
	}
	ctrl.scheduler.Cancel()
	ctrl.mu.Unlock()
	<-done

	api.mu.Lock()
	aiCalls := api.aiCalls
	api.mu.Unlock()
	if aiCalls != 0 {
		t.Errorf("expected no AI reply after cancel won the race, got %d calls", aiCalls)
	}
	state := ctrl.RenderState()
	if len(state.Messages) != 2 {
		t.Errorf("expected message list unchanged, got %d messages", len(state.Messages))
	}
}

func TestAIReplyFailureLeavesStateUnchanged(t *testing.T) {
	api := &fakeAPI{aiErr: errors.New("backend overloaded")}
	ctrl, _, _ := newTestController(t, api)

	if err := ctrl.TriggerAIReplyNow(context.Background()); err == nil {
		t.Fatal("expected error from failed AI reply")
	}
	if n := len(ctrl.RenderState().Messages); n != 0 {
		t.Errorf("expected no partial message on AI reply failure, got %d", n)
	}
}

func TestSendVoiceNoteOptimisticAndRollback(t *testing.T) {
	api := &fakeAPI{nextReply: models.BackendReply{Content: "heard you"}}
	ctrl, _, _ := newTestController(t, api)

	err := ctrl.SendVoiceNote(context.Background(), "note.ogg", strings.NewReader("audio-bytes"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	state := ctrl.RenderState()
	if len(state.Messages) != 2 {
		t.Fatalf("expected voice turn plus reply, got %d messages", len(state.Messages))
	}
	if state.Messages[0].AudioURL != "note.ogg" {
		t.Errorf("expected audio reference on the voice turn, got %q", state.Messages[0].AudioURL)
	}

	api.mu.Lock()
	api.voiceErr = errors.New("upload refused")
	api.mu.Unlock()
	if err := ctrl.SendVoiceNote(context.Background(), "note2.ogg", strings.NewReader("x")); err == nil {
		t.Fatal("expected error from failed voice send")
	}
	if n := len(ctrl.RenderState().Messages); n != 2 {
		t.Errorf("expected failed voice turn rolled back, got %d messages", n)
	}
}

func TestHandleUploadOutcome(t *testing.T) {
	api := &fakeAPI{conversation: models.Conversation{LeadID: "lead-1"}}
	ctrl, _, _ := newTestController(t, api)
	refreshesBefore := api.getCalls

	results := []models.UploadResult{
		{FileName: "a.pdf", OK: true},
		{FileName: "b.pdf", OK: false, Error: "too large"},
	}
	if err := ctrl.HandleUploadOutcome(context.Background(), results); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state := ctrl.RenderState()
	found := false
	for _, msg := range state.Messages {
		if msg.Role == models.RoleSystem && strings.Contains(msg.Content, "1 attachment(s) uploaded, 1 failed") {
			found = true
		}
	}
	if !found {
		t.Error("expected system notice describing the upload outcome")
	}
	if api.getCalls <= refreshesBefore {
		t.Error("expected a conversation refresh after successful uploads")
	}
}

func TestHandleUploadOutcomeAllFailed(t *testing.T) {
	api := &fakeAPI{}
	ctrl, _, _ := newTestController(t, api)

	results := []models.UploadResult{{FileName: "a.pdf", OK: false, Error: "rejected"}}
	if err := ctrl.HandleUploadOutcome(context.Background(), results); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := len(ctrl.RenderState().Messages); n != 0 {
		t.Errorf("expected no follow-up for an all-failed batch, got %d messages", n)
	}
}

func TestCloseCancelsCountdownAndIgnoresTriggers(t *testing.T) {
	api := &fakeAPI{nextReply: models.BackendReply{Content: "reply"}}
	ctrl, _, timer := newTestController(t, api)

	if err := ctrl.SetMode(flow.ModeAutomated); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ctrl.SendText(context.Background(), "hi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctrl.Close()
	ctrl.Close() // idempotent

	if timer.pendingCount() != 0 {
		t.Errorf("expected countdown cancelled on close, %d pending", timer.pendingCount())
	}
	if err := ctrl.TriggerAIReplyNow(context.Background()); err != nil {
		t.Errorf("expected trigger on closed session to be a silent no-op, got %v", err)
	}
	if api.aiCalls != 0 {
		t.Errorf("expected no AI calls after close, got %d", api.aiCalls)
	}
}

func TestRefreshOnClosedSessionIsNoOp(t *testing.T) {
	api := &fakeAPI{}
	ctrl, _, _ := newTestController(t, api)
	calls := api.getCalls

	ctrl.Close()
	if err := ctrl.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if api.getCalls != calls {
		t.Error("expected no backend call refreshing a closed session")
	}
}

func TestConversationKeyMigratesToConversationID(t *testing.T) {
	api := &fakeAPI{nextReply: models.BackendReply{ConversationID: "conv-77", Content: "hi"}}
	ctrl, _, _ := newTestController(t, api)

	if ctrl.ConversationKey() != "lead-1" {
		t.Errorf("expected lead ID key before assignment, got %q", ctrl.ConversationKey())
	}
	if err := ctrl.SendText(context.Background(), "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ctrl.ConversationKey() != "conv-77" {
		t.Errorf("expected conversation ID key after assignment, got %q", ctrl.ConversationKey())
	}
}
