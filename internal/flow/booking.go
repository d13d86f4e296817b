// Package flow implements the booking flow state machine, the response
// augmentation pipeline, and the reply scheduler for LeadPipe conversations.
package flow

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// Transition functions are the only code allowed to mutate a registry
// entry's stage. Callers must hold the session controller's
// per-conversation serialization while invoking them.

// MarkOffered transitions idle -> offered and records that an offer was
// surfaced. Terminal flows reject the transition.
func MarkOffered(flow *models.BookingFlowState, reason string) error {
	if flow.IsTerminal() {
		err := fmt.Errorf("booking flow %s is terminal (stage %s), cannot offer", flow.Key, flow.Stage)
		slog.Error("MarkOffered on terminal flow", "key", flow.Key, "stage", flow.Stage)
		return err
	}
	if flow.Stage != models.StageIdle {
		err := fmt.Errorf("invalid booking transition: expected %s, current is %s", models.StageIdle, flow.Stage)
		slog.Error("MarkOffered invalid transition", "key", flow.Key, "current", flow.Stage)
		return err
	}

	flow.Stage = models.StageOffered
	flow.OfferShown = true
	flow.StageReason = reason
	flow.UpdatedAt = time.Now()
	slog.Info("Booking flow transition", "key", flow.Key, "to", models.StageOffered, "reason", reason)
	return nil
}

// MarkAwaitingSlotChoice transitions offered -> awaiting_slot_choice when
// slot options were presented to the lead.
func MarkAwaitingSlotChoice(flow *models.BookingFlowState, reason string) error {
	if flow.IsTerminal() {
		err := fmt.Errorf("booking flow %s is terminal (stage %s), cannot await slot choice", flow.Key, flow.Stage)
		slog.Error("MarkAwaitingSlotChoice on terminal flow", "key", flow.Key, "stage", flow.Stage)
		return err
	}
	if flow.Stage != models.StageOffered {
		err := fmt.Errorf("invalid booking transition: expected %s, current is %s", models.StageOffered, flow.Stage)
		slog.Error("MarkAwaitingSlotChoice invalid transition", "key", flow.Key, "current", flow.Stage)
		return err
	}

	flow.Stage = models.StageAwaitingSlotChoice
	flow.StageReason = reason
	flow.UpdatedAt = time.Now()
	slog.Info("Booking flow transition", "key", flow.Key, "to", models.StageAwaitingSlotChoice, "reason", reason)
	return nil
}

// MarkCompleted transitions any non-terminal stage -> completed when a
// booking confirmation payload is applied. The backend may confirm in a
// single step, so the awaiting_slot_choice stage is not required first.
func MarkCompleted(flow *models.BookingFlowState, appointmentID, reason string) error {
	if flow.IsTerminal() {
		err := fmt.Errorf("booking flow %s is terminal (stage %s), cannot complete", flow.Key, flow.Stage)
		slog.Error("MarkCompleted on terminal flow", "key", flow.Key, "stage", flow.Stage)
		return err
	}

	flow.Stage = models.StageCompleted
	flow.Completed = true
	flow.AppointmentID = appointmentID
	flow.StageReason = reason
	flow.UpdatedAt = time.Now()
	slog.Info("Booking flow transition", "key", flow.Key, "to", models.StageCompleted, "appointmentID", appointmentID, "reason", reason)
	return nil
}

// MarkDeclined transitions any non-terminal stage -> declined on explicit
// user dismissal of the panel.
func MarkDeclined(flow *models.BookingFlowState, reason string) error {
	if flow.IsTerminal() {
		err := fmt.Errorf("booking flow %s is terminal (stage %s), cannot decline", flow.Key, flow.Stage)
		slog.Error("MarkDeclined on terminal flow", "key", flow.Key, "stage", flow.Stage)
		return err
	}

	flow.Stage = models.StageDeclined
	flow.StageReason = reason
	flow.UpdatedAt = time.Now()
	slog.Info("Booking flow transition", "key", flow.Key, "to", models.StageDeclined, "reason", reason)
	return nil
}
