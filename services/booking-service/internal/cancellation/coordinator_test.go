package cancellation

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/bookings"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/interval"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/storage/storagetest"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/workblocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	now     = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	june10  = time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	june11  = time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC)
	nine    = interval.Minute(9 * 60)
	ten     = interval.Minute(10 * 60)
	discard = slog.New(slog.NewTextHandler(io.Discard, nil))
)

type engine struct {
	store    storage.Store
	blocks   *workblocks.Store
	bookings *bookings.Store
	calc     *availability.Calculator
	coord    *Coordinator
}

func newEngine(t *testing.T) engine {
	t.Helper()
	st := storagetest.New(t)
	clock := func() time.Time { return now }
	calc := availability.NewCalculator(st, discard, availability.Config{IncrementMinutes: 60})
	e := engine{
		store:    st,
		blocks:   workblocks.New(st, discard, workblocks.Options{Now: clock, Invalidator: calc}),
		bookings: bookings.New(st, discard, bookings.Options{Now: clock, Invalidator: calc}),
		calc:     calc,
		coord:    New(st, discard, Options{Now: clock, Invalidator: calc}),
	}
	for _, d := range []time.Time{june10, june11} {
		_, err := e.blocks.CreateBlock(context.Background(), workblocks.CreateRequest{EmployeeID: "E1", Date: d, Start: nine, End: 11 * 60})
		require.NoError(t, err)
	}
	return e
}

func (e engine) reserve(t *testing.T, date time.Time, slot interval.Minute, client string) model.Booking {
	t.Helper()
	b, err := e.bookings.ReserveSlot(context.Background(), bookings.ReserveRequest{
		EmployeeID: "E1", ClientID: client, Date: date, Slot: slot, DurationMinutes: 60,
	})
	require.NoError(t, err)
	return b
}

func (e engine) slots(t *testing.T, date time.Time) []string {
	t.Helper()
	got, err := e.calc.Compute(context.Background(), date, "E1")
	require.NoError(t, err)
	out := make([]string, len(got))
	for i, s := range got {
		out[i] = s.Slot.String()
	}
	return out
}

func ptr[T any](v T) *T { return &v }

func TestRefundFreesSlot(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	b := e.reserve(t, june10, nine, "clientA")
	assert.Equal(t, []string{"10:00"}, e.slots(t, june10))

	res, err := e.coord.Cancel(ctx, Request{BookingID: b.ID, Reason: "client no-show", IssueRefund: true})
	require.NoError(t, err)
	assert.Nil(t, res.Replacement)
	assert.Equal(t, model.OutcomeCancelledRefunded, res.Booking.Outcome())
	assert.Equal(t, "client no-show", res.Booking.CancellationReason)
	require.NotNil(t, res.Booking.CancelledAt)

	assert.Equal(t, []string{"09:00", "10:00"}, e.slots(t, june10))

	_, err = e.coord.Cancel(ctx, Request{BookingID: b.ID, Reason: "again", IssueRefund: true})
	assert.ErrorIs(t, err, model.ErrInvalidTransition, "cancelled is terminal")
}

func TestRescheduleToFreeSlot(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	b := e.reserve(t, june10, ten, "clientB")
	_, err := e.bookings.Confirm(ctx, b.ID)
	require.NoError(t, err)

	res, err := e.coord.Cancel(ctx, Request{
		BookingID: b.ID, Reason: "employee sick", NewDate: ptr(june11), NewSlot: ptr(nine),
	})
	require.NoError(t, err)
	require.NotNil(t, res.Replacement)

	assert.Equal(t, model.OutcomeCancelledRescheduled, res.Booking.Outcome())
	assert.Equal(t, res.Replacement.ID, res.Booking.RescheduledTo)
	assert.Equal(t, b.ID, res.Replacement.RescheduledFrom)
	assert.Equal(t, june11, res.Replacement.Date)
	assert.Equal(t, nine, res.Replacement.Slot)
	assert.Equal(t, "clientB", res.Replacement.ClientID)
	assert.Equal(t, b.DurationMinutes, res.Replacement.DurationMinutes)
	assert.Equal(t, model.StatusConfirmed, res.Replacement.Status, "a paid booking stays confirmed")

	stored, err := e.bookings.Get(ctx, res.Replacement.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, stored.RescheduledFrom)

	assert.Equal(t, []string{"09:00", "10:00"}, e.slots(t, june10))
	assert.Equal(t, []string{"10:00"}, e.slots(t, june11))
}

func TestRescheduleToTakenSlotChangesNothing(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	b := e.reserve(t, june10, ten, "clientB")
	e.reserve(t, june11, nine, "clientC")

	_, err := e.coord.Cancel(ctx, Request{
		BookingID: b.ID, Reason: "employee sick", NewDate: ptr(june11), NewSlot: ptr(nine),
	})
	require.ErrorIs(t, err, model.ErrSlotUnavailable)

	got, err := e.bookings.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Empty(t, got.RescheduledTo)
	assert.Nil(t, got.CancelledAt)

	june11Bookings, err := e.bookings.GetActiveBookings(ctx, "E1", &june11)
	require.NoError(t, err)
	assert.Len(t, june11Bookings, 1)

	_, err = e.coord.Cancel(ctx, Request{
		BookingID: b.ID, Reason: "employee sick", NewDate: ptr(june11), NewSlot: ptr(interval.Minute(13 * 60)),
	})
	assert.ErrorIs(t, err, model.ErrSlotUnavailable, "no block covers 13:00")
}

func TestRescheduleWithinSameDayMayOverlapOwnRange(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	b, err := e.bookings.ReserveSlot(ctx, bookings.ReserveRequest{
		EmployeeID: "E1", ClientID: "A", Date: june10, Slot: nine, DurationMinutes: 90,
	})
	require.NoError(t, err)

	res, err := e.coord.Cancel(ctx, Request{
		BookingID: b.ID, Reason: "client running late", NewDate: ptr(june10), NewSlot: ptr(nine + 30),
	})
	require.NoError(t, err)
	assert.Equal(t, "09:30-11:00", res.Replacement.Range().String())
	assert.Equal(t, model.StatusPending, res.Replacement.Status)
}

func TestFailedSameDayRescheduleKeepsOriginal(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	b := e.reserve(t, june10, nine, "A")
	e.reserve(t, june10, ten, "B")

	// The original is released inside the transaction before the replacement collides with B.
	_, err := e.coord.Cancel(ctx, Request{
		BookingID: b.ID, Reason: "client running late", NewDate: ptr(june10), NewSlot: ptr(nine + 30),
	})
	require.ErrorIs(t, err, model.ErrSlotUnavailable)

	got, err := e.bookings.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Empty(t, got.RescheduledTo)
	assert.Empty(t, e.slots(t, june10), "09:00 must still be held by the original")

	_, err = e.store.ClaimOutbox(ctx, 50, func(records []storage.OutboxRecord) ([]int64, error) {
		for _, r := range records {
			assert.NotEqual(t, outbox.TypeBookingCancelled, r.EventType)
		}
		return nil, nil
	})
	require.NoError(t, err)
}

func TestCancelValidation(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	b := e.reserve(t, june10, nine, "A")

	cases := map[string]Request{
		"no reason":         {BookingID: b.ID, Reason: "  ", IssueRefund: true},
		"no target":         {BookingID: b.ID, Reason: "sick"},
		"date only":         {BookingID: b.ID, Reason: "sick", NewDate: ptr(june11)},
		"refund and target": {BookingID: b.ID, Reason: "sick", IssueRefund: true, NewDate: ptr(june11), NewSlot: ptr(nine)},
		"same slot":         {BookingID: b.ID, Reason: "sick", NewDate: ptr(june10), NewSlot: ptr(nine)},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := e.coord.Cancel(ctx, req)
			assert.ErrorIs(t, err, model.ErrValidation)
		})
	}

	got, err := e.bookings.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)

	_, err = e.coord.Cancel(ctx, Request{BookingID: "missing", Reason: "x", IssueRefund: true})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestCancelEmitsReplacementEvent(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	b := e.reserve(t, june10, nine, "A")
	_, err := e.coord.Cancel(ctx, Request{BookingID: b.ID, Reason: "sick", NewDate: ptr(june11), NewSlot: ptr(ten)})
	require.NoError(t, err)

	var cancelled *outbox.BookingPayload
	_, err = e.store.ClaimOutbox(ctx, 50, func(records []storage.OutboxRecord) ([]int64, error) {
		for _, r := range records {
			if r.EventType == outbox.TypeBookingCancelled {
				cancelled = &outbox.BookingPayload{}
				require.NoError(t, json.Unmarshal(r.Payload, cancelled))
			}
		}
		return nil, nil
	})
	require.NoError(t, err)
	require.NotNil(t, cancelled)
	assert.Equal(t, "cancelled_rescheduled", cancelled.Outcome)
	require.NotNil(t, cancelled.Replacement)
	assert.Equal(t, "2025-06-11", cancelled.Replacement.Date)
	assert.Equal(t, "10:00", cancelled.Replacement.Slot)
	assert.Equal(t, b.ID, cancelled.Replacement.RescheduledFrom)
}
