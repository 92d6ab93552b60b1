// Package cancellation drives a booking out of the active states. A cancellation either
// refunds the client or moves them to a replacement booking; a cancellation without refund
// never commits unless the replacement is reserved in the same transaction.
package cancellation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/bookings"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/interval"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("salonbook/cancellation")

type Invalidator interface {
	Invalidate(ctx context.Context, date time.Time)
}

type Options struct {
	Now         func() time.Time
	Invalidator Invalidator
}

type Coordinator struct {
	store  storage.Store
	logger *slog.Logger
	now    func() time.Time
	cache  Invalidator
}

func New(store storage.Store, logger *slog.Logger, opts Options) *Coordinator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{store: store, logger: logger, now: opts.Now, cache: opts.Invalidator}
}

type Request struct {
	BookingID   string
	Reason      string
	IssueRefund bool
	// NewDate and NewSlot are required when IssueRefund is false.
	NewDate *time.Time
	NewSlot *interval.Minute
}

type Result struct {
	Booking     model.Booking
	Replacement *model.Booking
}

func (r Request) validate() error {
	if strings.TrimSpace(r.BookingID) == "" {
		return model.Errorf(model.KindValidation, "booking id is required")
	}
	if strings.TrimSpace(r.Reason) == "" {
		return model.Errorf(model.KindValidation, "a cancellation reason is required")
	}
	hasTarget := r.NewDate != nil || r.NewSlot != nil
	if r.IssueRefund && hasTarget {
		return model.Errorf(model.KindValidation, "a refunded cancellation takes no reschedule target")
	}
	if !r.IssueRefund && (r.NewDate == nil || r.NewSlot == nil) {
		return model.Errorf(model.KindValidation, "cancelling without a refund requires a new date and slot")
	}
	return nil
}

// Cancel cancels an active booking. With IssueRefund the booking ends cancelled and refunded.
// Without it the booking is cancelled and a replacement for the same employee and duration
// is reserved at the new date and slot; if that slot is unavailable nothing changes.
func (c *Coordinator) Cancel(ctx context.Context, req Request) (Result, error) {
	ctx, span := tracer.Start(ctx, "cancellation.Cancel")
	defer span.End()
	span.SetAttributes(attribute.String("booking_id", req.BookingID), attribute.Bool("refund", req.IssueRefund))

	if err := req.validate(); err != nil {
		return Result{}, err
	}
	original, err := c.store.GetBooking(ctx, req.BookingID)
	if errors.Is(err, storage.ErrNotFound) {
		return Result{}, model.Errorf(model.KindNotFound, "booking %s not found", req.BookingID)
	}
	if err != nil {
		return Result{}, fmt.Errorf("get booking: %w", err)
	}

	var newDate time.Time
	keys := []string{storage.ScopeKey(original.EmployeeID, original.Date)}
	if !req.IssueRefund {
		newDate = model.DateOf(*req.NewDate)
		keys = append(keys, storage.ScopeKey(original.EmployeeID, newDate))
	}

	var res Result
	err = c.store.WithTx(ctx, func(tx storage.Tx) error {
		if err := tx.Lock(ctx, keys...); err != nil {
			return err
		}
		cur, err := tx.GetBookingForUpdate(ctx, req.BookingID)
		if err != nil {
			return fmt.Errorf("get booking: %w", err)
		}
		if !cur.Status.Active() {
			return model.Errorf(model.KindInvalidTransition, "booking %s is already %s", cur.ID, cur.Status)
		}

		prevStatus := cur.Status
		now := c.now().UTC()
		cur.Status = model.StatusCancelled
		cur.CancellationReason = strings.TrimSpace(req.Reason)
		cur.CancelledAt = &now
		cur.UpdatedAt = now

		if req.IssueRefund {
			cur.RefundIssued = true
			if err := tx.UpdateBooking(ctx, cur); err != nil {
				return fmt.Errorf("cancel booking: %w", err)
			}
			res.Booking = cur
			return outbox.Append(ctx, tx, outbox.AggregateBooking, cur.ID, outbox.TypeBookingCancelled, outbox.BookingEvent(cur))
		}

		if newDate.Equal(cur.Date) && *req.NewSlot == cur.Slot {
			return model.Errorf(model.KindValidation, "reschedule target is the booking's current slot")
		}
		replacementStatus := model.StatusPending
		if prevStatus == model.StatusConfirmed || prevStatus == model.StatusCompleted {
			replacementStatus = model.StatusConfirmed
		}

		// The original is released first so a same-day move may reuse part of its range.
		// Any failure below rolls the release back with the rest of the transaction.
		cur.RescheduledTo = uuid.NewString()
		if err := tx.UpdateBooking(ctx, cur); err != nil {
			return fmt.Errorf("cancel booking: %w", err)
		}
		replacement, err := bookings.Reserve(ctx, tx, bookings.ReserveRequest{
			ID:              cur.RescheduledTo,
			EmployeeID:      cur.EmployeeID,
			ClientID:        cur.ClientID,
			Date:            newDate,
			Slot:            *req.NewSlot,
			DurationMinutes: cur.DurationMinutes,
			RescheduledFrom: cur.ID,
			Status:          replacementStatus,
		}, now)
		if err != nil {
			return err
		}
		res.Booking = cur
		res.Replacement = &replacement

		payload := outbox.BookingEvent(cur)
		rp := outbox.BookingEvent(replacement)
		payload.Replacement = &rp
		return outbox.Append(ctx, tx, outbox.AggregateBooking, cur.ID, outbox.TypeBookingCancelled, payload)
	})
	if err != nil {
		if kind := model.KindOf(err); kind != "" {
			c.logger.Info("cancellation rejected", "booking_id", req.BookingID, "refund", req.IssueRefund, "kind", kind, "reason", err.Error())
		} else {
			c.logger.Error("cancellation failed", "booking_id", req.BookingID, "err", err)
		}
		return Result{}, err
	}

	c.invalidate(ctx, original.Date)
	if res.Replacement != nil {
		if !newDate.Equal(original.Date) {
			c.invalidate(ctx, newDate)
		}
		c.logger.Info("booking rescheduled", "booking_id", res.Booking.ID, "replacement_id", res.Replacement.ID,
			"employee_id", res.Booking.EmployeeID, "date", model.FormatDate(newDate), "slot", res.Replacement.Slot.String())
	} else {
		c.logger.Info("booking cancelled with refund", "booking_id", res.Booking.ID, "employee_id", res.Booking.EmployeeID,
			"date", model.FormatDate(res.Booking.Date))
	}
	return res, nil
}

func (c *Coordinator) invalidate(ctx context.Context, date time.Time) {
	if c.cache != nil {
		c.cache.Invalidate(ctx, date)
	}
}
