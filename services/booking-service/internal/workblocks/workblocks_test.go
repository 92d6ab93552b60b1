package workblocks

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/interval"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	now = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	day = time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
)

type invalidations struct{ dates []time.Time }

func (i *invalidations) Invalidate(_ context.Context, date time.Time) {
	i.dates = append(i.dates, date)
}

func newStore(t *testing.T) (*Store, storage.Store, *invalidations) {
	t.Helper()
	st := storagetest.New(t)
	inv := &invalidations{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(st, logger, Options{Now: func() time.Time { return now }, Invalidator: inv}), st, inv
}

func clock(t *testing.T, s string) interval.Minute {
	t.Helper()
	m, err := interval.ParseClock(s)
	require.NoError(t, err)
	return m
}

func create(t *testing.T, s *Store, emp, start, end string) (model.WorkBlock, error) {
	t.Helper()
	return s.CreateBlock(context.Background(), CreateRequest{EmployeeID: emp, Date: day, Start: clock(t, start), End: clock(t, end)})
}

func TestCreateBlockRejectsOverlap(t *testing.T) {
	s, _, inv := newStore(t)

	b, err := create(t, s, "E1", "09:00", "11:00")
	require.NoError(t, err)
	assert.True(t, b.Active)
	assert.Equal(t, day, b.Date)
	assert.Equal(t, []time.Time{day}, inv.dates)

	_, err = create(t, s, "E1", "10:30", "12:00")
	require.ErrorIs(t, err, model.ErrScheduleConflict)
	var me *model.Error
	require.ErrorAs(t, err, &me)
	require.NotNil(t, me.Conflict)
	assert.Equal(t, "09:00-11:00", me.Conflict.String())

	_, err = create(t, s, "E1", "09:30", "10:00")
	assert.ErrorIs(t, err, model.ErrScheduleConflict, "containment is an overlap")

	_, err = create(t, s, "E1", "08:00", "12:00")
	assert.ErrorIs(t, err, model.ErrScheduleConflict)

	_, err = create(t, s, "E1", "11:00", "12:00")
	assert.NoError(t, err, "touching blocks do not overlap")

	_, err = create(t, s, "E2", "09:00", "11:00")
	assert.NoError(t, err, "other employees are independent")

	blocks, err := s.ListActiveBlocks(context.Background(), "E1", &day)
	require.NoError(t, err)
	assert.Len(t, blocks, 2)
}

func TestCreateBlockValidation(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	_, err := create(t, s, "E1", "11:00", "11:00")
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = create(t, s, "E1", "12:00", "11:00")
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = create(t, s, "", "09:00", "10:00")
	assert.ErrorIs(t, err, model.ErrValidation)

	past := time.Date(2025, 5, 30, 0, 0, 0, 0, time.UTC)
	_, err = s.CreateBlock(ctx, CreateRequest{EmployeeID: "E1", Date: past, Start: 540, End: 600})
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = s.CreateBlock(ctx, CreateRequest{EmployeeID: "E1", Date: past, Start: 540, End: 600, Backfill: true})
	assert.NoError(t, err)

	_, err = s.CreateBlock(ctx, CreateRequest{EmployeeID: "E1", Date: now, Start: 540, End: 600})
	assert.NoError(t, err, "today is not in the past")
}

func TestDeactivateBlock(t *testing.T) {
	s, st, inv := newStore(t)
	ctx := context.Background()

	err := s.DeactivateBlock(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)

	b, err := create(t, s, "E1", "09:00", "11:00")
	require.NoError(t, err)

	require.NoError(t, s.DeactivateBlock(ctx, b.ID))
	require.NoError(t, s.DeactivateBlock(ctx, b.ID), "deactivating twice is a no-op")
	assert.Len(t, inv.dates, 2, "one invalidation for create, one for the real deactivation")

	got, err := st.GetBlock(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	require.NotNil(t, got.DeactivatedAt)

	blocks, err := s.ListActiveBlocks(ctx, "E1", nil)
	require.NoError(t, err)
	assert.Empty(t, blocks)

	_, err = create(t, s, "E1", "09:00", "11:00")
	assert.NoError(t, err, "an inactive block no longer conflicts")
}

func TestDeactivateBlockInUse(t *testing.T) {
	s, st, _ := newStore(t)
	ctx := context.Background()

	b, err := create(t, s, "E1", "09:00", "11:00")
	require.NoError(t, err)

	insert := func(id string, slot interval.Minute, status model.Status) {
		require.NoError(t, st.WithTx(ctx, func(tx storage.Tx) error {
			return tx.InsertBooking(ctx, model.Booking{ID: id, EmployeeID: "E1", ClientID: "C1", Date: day,
				Slot: slot, DurationMinutes: 60, Status: status, CreatedAt: now, UpdatedAt: now})
		}))
	}

	insert("done", 540, model.StatusCompleted)
	require.NoError(t, s.DeactivateBlock(ctx, b.ID), "completed bookings do not pin a block")

	b, err = create(t, s, "E1", "09:00", "11:00")
	require.NoError(t, err)
	insert("live", 600, model.StatusConfirmed)

	err = s.DeactivateBlock(ctx, b.ID)
	require.ErrorIs(t, err, model.ErrBlockInUse)

	got, err := st.GetBlock(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, got.Active)
}

func TestListActiveBlocksFilters(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()
	next := day.AddDate(0, 0, 1)

	_, err := create(t, s, "E1", "09:00", "11:00")
	require.NoError(t, err)
	_, err = create(t, s, "E2", "09:00", "11:00")
	require.NoError(t, err)
	_, err = s.CreateBlock(ctx, CreateRequest{EmployeeID: "E1", Date: next, Start: 540, End: 600})
	require.NoError(t, err)

	cases := []struct {
		name     string
		employee string
		date     *time.Time
		want     int
	}{
		{"all", "", nil, 3},
		{"employee", "E1", nil, 2},
		{"date", "", &day, 2},
		{"both", "E1", &next, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			blocks, err := s.ListActiveBlocks(ctx, tc.employee, tc.date)
			require.NoError(t, err)
			assert.Len(t, blocks, tc.want)
		})
	}
}
