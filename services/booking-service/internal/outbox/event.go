// Package outbox turns schedule mutations into domain events. Events are appended inside
// the mutating transaction and a Relay later hands them to Kafka or RabbitMQ.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/storage"
)

const (
	AggregateWorkBlock = "work_block"
	AggregateBooking   = "booking"
)

const (
	TypeWorkBlockCreated     = "workblock.created.v1"
	TypeWorkBlockDeactivated = "workblock.deactivated.v1"
	TypeBookingReserved      = "booking.reserved.v1"
	TypeBookingConfirmed     = "booking.confirmed.v1"
	TypeBookingCompleted     = "booking.completed.v1"
	TypeBookingCancelled     = "booking.cancelled.v1"
)

type WorkBlockPayload struct {
	BlockID    string `json:"block_id"`
	EmployeeID string `json:"employee_id"`
	Date       string `json:"date"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	Active     bool   `json:"active"`
}

type BookingPayload struct {
	BookingID          string `json:"booking_id"`
	EmployeeID         string `json:"employee_id"`
	ClientID           string `json:"client_id"`
	Date               string `json:"date"`
	Slot               string `json:"slot"`
	DurationMinutes    int    `json:"duration_minutes"`
	Status             string `json:"status"`
	Outcome            string `json:"outcome"`
	CancellationReason string `json:"cancellation_reason,omitempty"`
	RefundIssued       bool   `json:"refund_issued"`
	RescheduledFrom    string `json:"rescheduled_from,omitempty"`
	OccurredAt         string `json:"occurred_at"`
	// Replacement is set on booking.cancelled.v1 when the booking was rescheduled.
	Replacement *BookingPayload `json:"replacement,omitempty"`
}

func WorkBlockEvent(b model.WorkBlock) WorkBlockPayload {
	return WorkBlockPayload{
		BlockID:    b.ID,
		EmployeeID: b.EmployeeID,
		Date:       model.FormatDate(b.Date),
		StartTime:  b.Start.String(),
		EndTime:    b.End.String(),
		Active:     b.Active,
	}
}

func BookingEvent(b model.Booking) BookingPayload {
	return BookingPayload{
		BookingID:          b.ID,
		EmployeeID:         b.EmployeeID,
		ClientID:           b.ClientID,
		Date:               model.FormatDate(b.Date),
		Slot:               b.Slot.String(),
		DurationMinutes:    b.DurationMinutes,
		Status:             string(b.Status),
		Outcome:            string(b.Outcome()),
		CancellationReason: b.CancellationReason,
		RefundIssued:       b.RefundIssued,
		RescheduledFrom:    b.RescheduledFrom,
		OccurredAt:         b.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// Append marshals payload and records it on tx.
func Append(ctx context.Context, tx storage.Tx, aggregateType, aggregateID, eventType string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", eventType, err)
	}
	return tx.AppendEvent(ctx, storage.Event{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       body,
	})
}
