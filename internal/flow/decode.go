package flow

import (
	"github.com/BTreeMap/LeadPipe/internal/models"
)

// DecodeBookingPayload extracts a backend-computed booking payload from a
// raw reply. The backend has attached payloads in three places over time;
// the decode priority is fixed here and nowhere else:
//
//  1. top-level booking
//  2. metadata.booking
//  3. ui_action.booking when ui_action.type == "booking"
//
// Returns nil when the reply carries no booking payload.
func DecodeBookingPayload(reply *models.BackendReply) *models.BookingPayload {
	if reply.Booking != nil {
		return reply.Booking
	}
	if reply.Metadata != nil && reply.Metadata.Booking != nil {
		return reply.Metadata.Booking
	}
	if reply.UIAction != nil && reply.UIAction.Type == "booking" && reply.UIAction.Booking != nil {
		return reply.UIAction.Booking
	}
	return nil
}
