package model

import (
	"time"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/interval"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// ActiveStatuses are the statuses that hold a claim on an employee's time.
var ActiveStatuses = []Status{StatusPending, StatusConfirmed, StatusCompleted}

// LiveStatuses are the statuses of bookings that still need a work block behind them.
var LiveStatuses = []Status{StatusPending, StatusConfirmed}

func (s Status) Active() bool {
	return s == StatusPending || s == StatusConfirmed || s == StatusCompleted
}

func (s Status) Valid() bool {
	return s.Active() || s == StatusCancelled
}

// Outcome is the coarse cancellation state of a booking.
type Outcome string

const (
	OutcomeActive               Outcome = "active"
	OutcomeCancelledRefunded    Outcome = "cancelled_refunded"
	OutcomeCancelledRescheduled Outcome = "cancelled_rescheduled"
)

type Booking struct {
	ID                 string
	EmployeeID         string
	ClientID           string
	Date               time.Time
	Slot               interval.Minute
	DurationMinutes    int
	Status             Status
	CancellationReason string
	RefundIssued       bool
	// RescheduledFrom points at the booking this one replaced.
	RescheduledFrom string
	// RescheduledTo points at the replacement of a rescheduled booking.
	RescheduledTo string
	CancelledAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Range is the time the booking occupies on its date.
func (b Booking) Range() interval.Range {
	return interval.Of(b.Slot, b.DurationMinutes)
}

func (b Booking) Outcome() Outcome {
	if b.Status != StatusCancelled {
		return OutcomeActive
	}
	if b.RefundIssued {
		return OutcomeCancelledRefunded
	}
	return OutcomeCancelledRescheduled
}
