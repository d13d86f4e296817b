package flow

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
)

// Augmenter merges raw backend replies with the booking flow state
// machine. Augmentation is a best-effort enhancement: any internal failure
// degrades to the original reply, never blocking message display.
type Augmenter struct {
	registry   *store.BookingFlowRegistry
	classifier IntentClassifier
	audit      store.AuditRepo
}

// NewAugmenter creates an augmenter. A nil classifier falls back to the
// keyword classifier; a nil audit repo falls back to the in-memory one.
func NewAugmenter(registry *store.BookingFlowRegistry, classifier IntentClassifier, audit store.AuditRepo) *Augmenter {
	slog.Debug("Creating Augmenter", "hasClassifier", classifier != nil, "hasAudit", audit != nil)
	if classifier == nil {
		classifier = NewKeywordIntentClassifier()
	}
	if audit == nil {
		audit = store.NewInMemoryAuditRepo()
	}
	return &Augmenter{registry: registry, classifier: classifier, audit: audit}
}

// Augment takes a raw backend reply and returns it, unmodified or enriched
// with a booking payload. Flow state is mutated before the enriched reply
// is returned, so a concurrent registry read reflects the new stage
// immediately.
func (a *Augmenter) Augment(ctx context.Context, key string, reply models.BackendReply, lastUserUtterance string) (out models.BackendReply) {
	raw := reply
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Augmenter recovered from panic, returning raw reply", "key", key, "panic", r)
			a.record(key, store.DecisionError, "pipeline panic")
			out = raw
		}
	}()

	flow := a.registry.GetOrCreate(key)

	// Terminal flows skip augmentation entirely, so a resolved booking is
	// never re-offered when the pipeline re-runs over historical replies
	// after a refresh.
	if flow.IsTerminal() {
		slog.Debug("Augmenter skipping terminal flow", "key", key, "stage", flow.Stage)
		a.record(key, store.DecisionTerminalSkip, string(flow.Stage))
		return raw
	}

	// A backend-computed payload takes precedence over local heuristics.
	if payload := DecodeBookingPayload(&reply); payload != nil {
		a.applyBackendPayload(flow, payload)
		reply.Booking = payload
		a.record(key, store.DecisionPassthrough, string(payload.Mode))
		return reply
	}

	intent, err := a.classifier.DetectBookingIntent(ctx, reply.Content, lastUserUtterance)
	if err != nil {
		slog.Warn("Augmenter intent classification failed, degrading to raw reply", "key", key, "error", err)
		a.record(key, store.DecisionError, "classifier: "+err.Error())
		return raw
	}

	if intent && !flow.OfferShown {
		if err := MarkOffered(flow, "booking intent detected in reply"); err != nil {
			slog.Warn("Augmenter could not mark offer, returning raw reply", "key", key, "error", err)
			a.record(key, store.DecisionError, "transition: "+err.Error())
			return raw
		}
		reply.Booking = &models.BookingPayload{Mode: models.BookingModeOffered}
		a.record(key, store.DecisionOffered, "")
		return reply
	}

	a.record(key, store.DecisionNoOp, "")
	return raw
}

// applyBackendPayload advances the flow to match a backend-computed
// payload. Transition validation errors are logged and ignored: the state
// machine, not the backend, is authoritative for what moves are legal.
func (a *Augmenter) applyBackendPayload(flow *models.BookingFlowState, payload *models.BookingPayload) {
	switch payload.Mode {
	case models.BookingModeOffered:
		if err := MarkOffered(flow, "backend attached offer"); err != nil {
			slog.Debug("Augmenter backend offer ignored by state machine", "key", flow.Key, "error", err)
		}
	case models.BookingModeAwaitingSlotChoice:
		if flow.Stage == models.StageIdle {
			// Backend skipped straight to slot options; record the offer first.
			if err := MarkOffered(flow, "backend attached slot options"); err != nil {
				slog.Debug("Augmenter implicit offer ignored", "key", flow.Key, "error", err)
			}
		}
		if err := MarkAwaitingSlotChoice(flow, "backend attached slot options"); err != nil {
			slog.Debug("Augmenter backend slot options ignored by state machine", "key", flow.Key, "error", err)
		}
	case models.BookingModeConfirmed, models.BookingModeBookingSuccess:
		if err := MarkCompleted(flow, appointmentIDOf(payload), "backend confirmed booking"); err != nil {
			slog.Debug("Augmenter backend confirmation ignored by state machine", "key", flow.Key, "error", err)
		}
	}
}

// appointmentIDOf extracts the appointment identifier from a payload,
// preferring the explicit field over the nested appointment.
func appointmentIDOf(payload *models.BookingPayload) string {
	if payload.AppointmentID != "" {
		return payload.AppointmentID
	}
	if payload.Appointment != nil {
		return payload.Appointment.ID
	}
	return ""
}

// record writes one audit entry; audit failures are diagnostics-only and
// never affect the reply.
func (a *Augmenter) record(key, decision, detail string) {
	if err := a.audit.RecordDecision(key, decision, detail); err != nil {
		slog.Warn("Augmenter audit write failed", "key", key, "decision", decision, "error", err)
	}
}
