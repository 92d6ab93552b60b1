package model

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/interval"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorKinds(t *testing.T) {
	err := Conflictf(KindScheduleConflict, interval.Range{Start: 540, End: 660}, "overlaps block %s", "b1")
	wrapped := fmt.Errorf("create block: %w", err)

	assert.ErrorIs(t, wrapped, ErrScheduleConflict)
	assert.NotErrorIs(t, wrapped, ErrSlotUnavailable)
	assert.Equal(t, KindScheduleConflict, KindOf(wrapped))
	assert.Equal(t, "overlaps block b1", err.Error())
	require.NotNil(t, err.Conflict)
	assert.Equal(t, "09:00-11:00", err.Conflict.String())

	assert.Equal(t, Kind(""), KindOf(errors.New("connection reset")))
}

func TestBookingOutcome(t *testing.T) {
	b := Booking{Status: StatusConfirmed, Slot: 540, DurationMinutes: 90}
	assert.Equal(t, OutcomeActive, b.Outcome())
	assert.Equal(t, interval.Range{Start: 540, End: 630}, b.Range())

	b.Status = StatusCancelled
	b.RefundIssued = true
	assert.Equal(t, OutcomeCancelledRefunded, b.Outcome())

	b.RefundIssued = false
	assert.Equal(t, OutcomeCancelledRescheduled, b.Outcome())
}

func TestStatus(t *testing.T) {
	for _, s := range ActiveStatuses {
		assert.True(t, s.Active(), s)
	}
	assert.False(t, StatusCancelled.Active())
	assert.True(t, StatusCancelled.Valid())
	assert.False(t, Status("archived").Valid())
}

func TestDates(t *testing.T) {
	d, err := ParseDate("2025-06-10")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC), d)
	assert.Equal(t, "2025-06-10", FormatDate(d))
	assert.Equal(t, d, DateOf(time.Date(2025, 6, 10, 17, 45, 0, 0, time.UTC)))

	_, err = ParseDate("10/06/2025")
	assert.Error(t, err)
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Ana Lopez", Employee{ID: "e1", FirstName: "Ana", LastName: "Lopez"}.DisplayName())
	assert.Equal(t, "Ana", Employee{ID: "e1", FirstName: " Ana "}.DisplayName())
	assert.Equal(t, "e1", Employee{ID: "e1"}.DisplayName())
}
