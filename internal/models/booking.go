// Package models defines booking flow structures for LeadPipe conversations.
package models

import "time"

// BookingMode is the UI-facing mode of a booking payload attached to a message.
type BookingMode string

const (
	// BookingModeOffered marks a freshly surfaced scheduling prompt.
	BookingModeOffered BookingMode = "offered"
	// BookingModeAwaitingSlotChoice marks a panel waiting for the lead to pick a slot.
	BookingModeAwaitingSlotChoice BookingMode = "awaiting_slot_choice"
	// BookingModeConfirmed marks a booking the backend has confirmed.
	BookingModeConfirmed BookingMode = "confirmed"
	// BookingModeBookingSuccess marks the success screen after confirmation.
	BookingModeBookingSuccess BookingMode = "booking_success"
	// BookingModeDeclined marks a panel the lead dismissed.
	BookingModeDeclined BookingMode = "declined"
)

// IsTerminalConfirmation reports whether the mode represents a finished,
// confirmed booking. Such a panel stays visible as a confirmation even
// after the flow itself is terminal.
func (m BookingMode) IsTerminalConfirmation() bool {
	return m == BookingModeConfirmed || m == BookingModeBookingSuccess
}

// Slot is one schedulable appointment time offered to the lead.
type Slot struct {
	ID       string    `json:"id,omitempty"`
	StartsAt time.Time `json:"starts_at"`
	Label    string    `json:"label,omitempty"` // display string, e.g. "Mon Feb 10 at 10:00 AM"
}

// Appointment describes a confirmed appointment returned by the booking collaborator.
type Appointment struct {
	ID       string `json:"id"`
	Slot     *Slot  `json:"slot,omitempty"`
	Service  string `json:"service,omitempty"`
	Location string `json:"location,omitempty"`
}

// BookingPayload is the UI-facing projection attached to a message that
// carries a scheduling prompt or its outcome.
type BookingPayload struct {
	Mode          BookingMode  `json:"mode"`
	AppointmentID string       `json:"appointment_id,omitempty"`
	Appointment   *Appointment `json:"appointment,omitempty"`
	ConfirmedSlot *Slot        `json:"confirmed_slot,omitempty"`
	Slots         []Slot       `json:"slots,omitempty"`
}

// BookingStage is the stage of a conversation's booking flow state machine.
type BookingStage string

const (
	// StageIdle means no offer has been made yet.
	StageIdle BookingStage = "idle"
	// StageOffered means a scheduling prompt was surfaced to the lead.
	StageOffered BookingStage = "offered"
	// StageAwaitingSlotChoice means the lead engaged and a slot list is pending selection.
	StageAwaitingSlotChoice BookingStage = "awaiting_slot_choice"
	// StageDeclined is terminal: the lead dismissed the offer.
	StageDeclined BookingStage = "declined"
	// StageCompleted is terminal: an appointment was confirmed.
	StageCompleted BookingStage = "completed"
)

// IsTerminal reports whether the stage admits no further automatic offers.
func (s BookingStage) IsTerminal() bool {
	return s == StageDeclined || s == StageCompleted
}

// IsValidBookingStage checks if the given stage is supported.
func IsValidBookingStage(s BookingStage) bool {
	switch s {
	case StageIdle, StageOffered, StageAwaitingSlotChoice, StageDeclined, StageCompleted:
		return true
	default:
		return false
	}
}

// BookingFlowState is the registry entry for one conversation key.
//
// Entries are singletons: all mutation happens on the shared entry through
// the documented transition functions, never by replacement.
type BookingFlowState struct {
	Key           string       `json:"key"`
	Stage         BookingStage `json:"stage"`
	OfferShown    bool         `json:"offer_shown"`
	Completed     bool         `json:"completed"`
	AppointmentID string       `json:"appointment_id,omitempty"`
	StageReason   string       `json:"stage_reason,omitempty"` // why the flow last moved, for the debug panel
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// IsTerminal reports whether the flow must skip all further offer logic.
func (s *BookingFlowState) IsTerminal() bool {
	return s.Completed || s.Stage.IsTerminal()
}

// BookingFlowSnapshot is the debug projection of a flow state exposed to
// the dashboard's status panel.
type BookingFlowSnapshot struct {
	Offered               bool   `json:"offered"`
	AwaitingSlotSelection bool   `json:"awaiting_slot_selection"`
	Dismissed             bool   `json:"dismissed"`
	BookedAppointmentID   string `json:"booked_appointment_id,omitempty"`
	StageReason           string `json:"stage_reason,omitempty"`
}

// Snapshot projects the flow state into its debug view.
func (s *BookingFlowState) Snapshot() BookingFlowSnapshot {
	return BookingFlowSnapshot{
		Offered:               s.OfferShown,
		AwaitingSlotSelection: s.Stage == StageAwaitingSlotChoice,
		Dismissed:             s.Stage == StageDeclined,
		BookedAppointmentID:   s.AppointmentID,
		StageReason:           s.StageReason,
	}
}
