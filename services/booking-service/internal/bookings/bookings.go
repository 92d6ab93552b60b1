// Package bookings owns appointment records. At most one active booking may occupy any
// minute of an employee's day, and every booking must sit entirely inside one active
// work block.
package bookings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/interval"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("salonbook/bookings")

// Invalidator drops cached availability for a date after a committed change.
type Invalidator interface {
	Invalidate(ctx context.Context, date time.Time)
}

type Options struct {
	Now         func() time.Time
	Invalidator Invalidator
}

type Store struct {
	store  storage.Store
	logger *slog.Logger
	now    func() time.Time
	cache  Invalidator
}

func New(store storage.Store, logger *slog.Logger, opts Options) *Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{store: store, logger: logger, now: opts.Now, cache: opts.Invalidator}
}

type ReserveRequest struct {
	// ID is assigned when empty.
	ID              string
	EmployeeID      string
	ClientID        string
	Date            time.Time
	Slot            interval.Minute
	DurationMinutes int
	// IdempotencyKey makes a retried reservation return the booking the first attempt made.
	IdempotencyKey  string
	RescheduledFrom string
	// Status defaults to pending; confirmed is allowed for reschedule replacements.
	Status model.Status
}

func (r ReserveRequest) validate() error {
	switch {
	case r.EmployeeID == "":
		return model.Errorf(model.KindValidation, "employee id is required")
	case r.ClientID == "":
		return model.Errorf(model.KindValidation, "client id is required")
	case r.DurationMinutes <= 0:
		return model.Errorf(model.KindValidation, "duration must be positive, got %d", r.DurationMinutes)
	case r.Date.IsZero():
		return model.Errorf(model.KindValidation, "date is required")
	}
	rng := interval.Of(r.Slot, r.DurationMinutes)
	if !rng.Valid() {
		return model.Errorf(model.KindValidation, "booking %s does not fit in one day", rng)
	}
	if r.Status != "" && r.Status != model.StatusPending && r.Status != model.StatusConfirmed {
		return model.Errorf(model.KindValidation, "a new booking cannot start as %s", r.Status)
	}
	return nil
}

// ReserveSlot books the range for a client. The coverage and conflict checks run under the
// (employee, date) scope lock, so concurrent callers for the same slot get exactly one
// winner and SlotUnavailable for everyone else.
func (s *Store) ReserveSlot(ctx context.Context, req ReserveRequest) (model.Booking, error) {
	ctx, span := tracer.Start(ctx, "bookings.ReserveSlot")
	defer span.End()
	span.SetAttributes(attribute.String("employee_id", req.EmployeeID), attribute.String("slot", req.Slot.String()))

	if err := req.validate(); err != nil {
		return model.Booking{}, err
	}
	req.Date = model.DateOf(req.Date)

	var booking model.Booking
	replayed := false
	err := s.store.WithTx(ctx, func(tx storage.Tx) error {
		keys := []string{storage.ScopeKey(req.EmployeeID, req.Date)}
		if req.IdempotencyKey != "" {
			keys = append(keys, storage.IdempotencyLockKey(req.IdempotencyKey))
		}
		if err := tx.Lock(ctx, keys...); err != nil {
			return err
		}
		if req.IdempotencyKey != "" {
			id, found, err := tx.LookupIdempotencyKey(ctx, req.IdempotencyKey)
			if err != nil {
				return fmt.Errorf("lookup idempotency key: %w", err)
			}
			if found {
				booking, err = tx.GetBooking(ctx, id)
				if err != nil {
					return fmt.Errorf("load replayed booking: %w", err)
				}
				replayed = true
				return nil
			}
		}

		var err error
		booking, err = Reserve(ctx, tx, req, s.now())
		if err != nil {
			return err
		}
		if req.IdempotencyKey != "" {
			if err := tx.SaveIdempotencyKey(ctx, req.IdempotencyKey, booking.ID); err != nil {
				return fmt.Errorf("save idempotency key: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		logRejected(s.logger, "reserve slot rejected", err, "employee_id", req.EmployeeID,
			"date", model.FormatDate(req.Date), "slot", req.Slot.String())
		return model.Booking{}, err
	}
	if replayed {
		s.logger.Info("reservation replayed", "booking_id", booking.ID, "idempotency_key", req.IdempotencyKey)
		return booking, nil
	}

	s.invalidate(ctx, booking.Date)
	s.logger.Info("slot reserved", "booking_id", booking.ID, "employee_id", booking.EmployeeID,
		"date", model.FormatDate(booking.Date), "slot", booking.Slot.String(), "duration_minutes", booking.DurationMinutes)
	return booking, nil
}

// Reserve checks and inserts a booking inside tx. The caller must already hold the scope
// lock for (req.EmployeeID, req.Date).
func Reserve(ctx context.Context, tx storage.Tx, req ReserveRequest, now time.Time) (model.Booking, error) {
	if err := req.validate(); err != nil {
		return model.Booking{}, err
	}
	date := model.DateOf(req.Date)
	rng := interval.Of(req.Slot, req.DurationMinutes)

	blocks, err := tx.ListBlocks(ctx, storage.BlockFilter{EmployeeID: req.EmployeeID, Date: &date, ActiveOnly: true})
	if err != nil {
		return model.Booking{}, fmt.Errorf("list blocks: %w", err)
	}
	covered := false
	for _, b := range blocks {
		if b.Range().Contains(rng) {
			covered = true
			break
		}
	}
	if !covered {
		return model.Booking{}, model.Errorf(model.KindSlotUnavailable,
			"%s on %s is not covered by a single active work block", rng, model.FormatDate(date))
	}

	existing, err := tx.ListBookings(ctx, storage.BookingFilter{EmployeeID: req.EmployeeID, Date: &date, Statuses: model.ActiveStatuses})
	if err != nil {
		return model.Booking{}, fmt.Errorf("list bookings: %w", err)
	}
	for _, b := range existing {
		if b.Range().Overlaps(rng) {
			return model.Booking{}, model.Conflictf(model.KindSlotUnavailable, b.Range(),
				"%s on %s overlaps booked time %s", rng, model.FormatDate(date), b.Range())
		}
	}

	status := req.Status
	if status == "" {
		status = model.StatusPending
	}
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	now = now.UTC()
	booking := model.Booking{
		ID:              id,
		EmployeeID:      req.EmployeeID,
		ClientID:        req.ClientID,
		Date:            date,
		Slot:            req.Slot,
		DurationMinutes: req.DurationMinutes,
		Status:          status,
		RescheduledFrom: req.RescheduledFrom,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := tx.InsertBooking(ctx, booking); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return model.Booking{}, model.Errorf(model.KindSlotUnavailable, "%s on %s was taken concurrently", rng, model.FormatDate(date))
		}
		return model.Booking{}, fmt.Errorf("insert booking: %w", err)
	}
	if err := outbox.Append(ctx, tx, outbox.AggregateBooking, booking.ID, outbox.TypeBookingReserved, outbox.BookingEvent(booking)); err != nil {
		return model.Booking{}, err
	}
	return booking, nil
}

// Confirm moves a pending booking to confirmed once payment is authorized.
func (s *Store) Confirm(ctx context.Context, id string) (model.Booking, error) {
	return s.transition(ctx, "bookings.Confirm", id, model.StatusPending, model.StatusConfirmed, outbox.TypeBookingConfirmed)
}

// MarkCompleted records that the service was delivered.
func (s *Store) MarkCompleted(ctx context.Context, id string) (model.Booking, error) {
	return s.transition(ctx, "bookings.MarkCompleted", id, model.StatusConfirmed, model.StatusCompleted, outbox.TypeBookingCompleted)
}

func (s *Store) transition(ctx context.Context, op, id string, from, to model.Status, eventType string) (model.Booking, error) {
	ctx, span := tracer.Start(ctx, op)
	defer span.End()
	span.SetAttributes(attribute.String("booking_id", id))

	var booking model.Booking
	err := s.store.WithTx(ctx, func(tx storage.Tx) error {
		b, err := tx.GetBookingForUpdate(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return model.Errorf(model.KindNotFound, "booking %s not found", id)
		}
		if err != nil {
			return fmt.Errorf("get booking: %w", err)
		}
		if b.Status != from {
			return model.Errorf(model.KindInvalidTransition, "booking %s is %s, want %s to become %s", id, b.Status, from, to)
		}
		b.Status = to
		b.UpdatedAt = s.now().UTC()
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return fmt.Errorf("update booking: %w", err)
		}
		booking = b
		return outbox.Append(ctx, tx, outbox.AggregateBooking, b.ID, eventType, outbox.BookingEvent(b))
	})
	if err != nil {
		logRejected(s.logger, "booking transition rejected", err, "booking_id", id, "to", string(to))
		return model.Booking{}, err
	}
	s.logger.Info("booking transitioned", "booking_id", id, "from", string(from), "to", string(to))
	return booking, nil
}

// GetActiveBookings lists pending, confirmed and completed bookings, optionally filtered.
func (s *Store) GetActiveBookings(ctx context.Context, employeeID string, date *time.Time) ([]model.Booking, error) {
	f := storage.BookingFilter{EmployeeID: employeeID, Statuses: model.ActiveStatuses}
	if date != nil {
		d := model.DateOf(*date)
		f.Date = &d
	}
	out, err := s.store.ListBookings(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	return out, nil
}

// Get returns a booking in any status.
func (s *Store) Get(ctx context.Context, id string) (model.Booking, error) {
	b, err := s.store.GetBooking(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Booking{}, model.Errorf(model.KindNotFound, "booking %s not found", id)
	}
	if err != nil {
		return model.Booking{}, fmt.Errorf("get booking: %w", err)
	}
	return b, nil
}

func (s *Store) invalidate(ctx context.Context, date time.Time) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, date)
	}
}

func logRejected(logger *slog.Logger, msg string, err error, args ...any) {
	if kind := model.KindOf(err); kind != "" {
		logger.Info(msg, append(args, "kind", kind, "reason", err.Error())...)
		return
	}
	logger.Error(msg, append(args, "err", err)...)
}
