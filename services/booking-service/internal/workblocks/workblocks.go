// Package workblocks owns employee working-hour blocks. Blocks for one employee and date
// never overlap while active, and a block backing a live booking cannot be deactivated.
package workblocks

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

var tracer = otel.Tracer("salonbook/workblocks")

// Invalidator drops cached availability for a date after a committed change.
type Invalidator interface {
	Invalidate(ctx context.Context, date time.Time)
}

type Options struct {
	// AllowPast permits blocks on dates before today for every call.
	AllowPast   bool
	Now         func() time.Time
	Invalidator Invalidator
}

type Store struct {
	store     storage.Store
	logger    *slog.Logger
	allowPast bool
	now       func() time.Time
	cache     Invalidator
}

func New(store storage.Store, logger *slog.Logger, opts Options) *Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		store:     store,
		logger:    logger,
		allowPast: opts.AllowPast,
		now:       opts.Now,
		cache:     opts.Invalidator,
	}
}

type CreateRequest struct {
	EmployeeID string
	Date       time.Time
	Start      interval.Minute
	End        interval.Minute
	// Backfill skips the past-date check for this call.
	Backfill bool
}

func (s *Store) CreateBlock(ctx context.Context, req CreateRequest) (model.WorkBlock, error) {
	ctx, span := tracer.Start(ctx, "workblocks.CreateBlock")
	defer span.End()
	span.SetAttributes(attribute.String("employee_id", req.EmployeeID))

	if req.EmployeeID == "" {
		return model.WorkBlock{}, model.Errorf(model.KindValidation, "employee id is required")
	}
	rng := interval.Range{Start: req.Start, End: req.End}
	if !rng.Valid() {
		return model.WorkBlock{}, model.Errorf(model.KindValidation, "block %s: start must be before end within one day", rng)
	}
	date := model.DateOf(req.Date)
	today := model.DateOf(s.now())
	if date.Before(today) && !s.allowPast && !req.Backfill {
		return model.WorkBlock{}, model.Errorf(model.KindValidation, "date %s is in the past", model.FormatDate(date))
	}

	block := model.WorkBlock{
		ID:         uuid.NewString(),
		EmployeeID: req.EmployeeID,
		Date:       date,
		Start:      req.Start,
		End:        req.End,
		Active:     true,
		CreatedAt:  s.now().UTC(),
	}
	err := s.store.WithTx(ctx, func(tx storage.Tx) error {
		if err := tx.Lock(ctx, storage.ScopeKey(block.EmployeeID, date)); err != nil {
			return err
		}
		existing, err := tx.ListBlocks(ctx, storage.BlockFilter{EmployeeID: block.EmployeeID, Date: &date, ActiveOnly: true})
		if err != nil {
			return fmt.Errorf("list blocks: %w", err)
		}
		for _, other := range existing {
			if other.Range().Overlaps(rng) {
				return model.Conflictf(model.KindScheduleConflict, other.Range(),
					"block %s overlaps existing block %s", rng, other.Range())
			}
		}
		if err := tx.InsertBlock(ctx, block); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				return model.Errorf(model.KindScheduleConflict, "block %s overlaps an existing block", rng)
			}
			return fmt.Errorf("insert block: %w", err)
		}
		return outbox.Append(ctx, tx, outbox.AggregateWorkBlock, block.ID, outbox.TypeWorkBlockCreated, outbox.WorkBlockEvent(block))
	})
	if err != nil {
		s.logRejected("create block rejected", err, "employee_id", req.EmployeeID, "date", model.FormatDate(date))
		return model.WorkBlock{}, err
	}

	s.invalidate(ctx, date)
	s.logger.Info("work block created", "block_id", block.ID, "employee_id", block.EmployeeID,
		"date", model.FormatDate(date), "range", rng.String())
	return block, nil
}

// DeactivateBlock soft-deletes a block. Deactivating an inactive block succeeds without
// change; a block whose range holds the slot of a pending or confirmed booking is refused.
func (s *Store) DeactivateBlock(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "workblocks.DeactivateBlock")
	defer span.End()
	span.SetAttributes(attribute.String("block_id", id))

	block, err := s.store.GetBlock(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Errorf(model.KindNotFound, "block %s not found", id)
	}
	if err != nil {
		return fmt.Errorf("get block: %w", err)
	}
	if !block.Active {
		return nil
	}

	changed := false
	err = s.store.WithTx(ctx, func(tx storage.Tx) error {
		if err := tx.Lock(ctx, storage.ScopeKey(block.EmployeeID, block.Date)); err != nil {
			return err
		}
		current, err := tx.GetBlockForUpdate(ctx, id)
		if err != nil {
			return fmt.Errorf("get block: %w", err)
		}
		if !current.Active {
			return nil
		}
		live, err := tx.ListBookings(ctx, storage.BookingFilter{
			EmployeeID: current.EmployeeID,
			Date:       &current.Date,
			Statuses:   model.LiveStatuses,
		})
		if err != nil {
			return fmt.Errorf("list bookings: %w", err)
		}
		rng := current.Range()
		for _, b := range live {
			if b.Slot >= rng.Start && b.Slot < rng.End {
				return model.Errorf(model.KindBlockInUse, "block %s backs %s booking %s at %s",
					rng, b.Status, b.ID, b.Slot)
			}
		}

		now := s.now().UTC()
		if err := tx.DeactivateBlock(ctx, id, now); err != nil {
			return fmt.Errorf("deactivate block: %w", err)
		}
		current.Active = false
		current.DeactivatedAt = &now
		changed = true
		return outbox.Append(ctx, tx, outbox.AggregateWorkBlock, id, outbox.TypeWorkBlockDeactivated, outbox.WorkBlockEvent(current))
	})
	if err != nil {
		s.logRejected("deactivate block rejected", err, "block_id", id)
		return err
	}
	if changed {
		s.invalidate(ctx, block.Date)
		s.logger.Info("work block deactivated", "block_id", id, "employee_id", block.EmployeeID,
			"date", model.FormatDate(block.Date))
	}
	return nil
}

// ListActiveBlocks filters by employee, date, both or neither.
func (s *Store) ListActiveBlocks(ctx context.Context, employeeID string, date *time.Time) ([]model.WorkBlock, error) {
	f := storage.BlockFilter{EmployeeID: employeeID, ActiveOnly: true}
	if date != nil {
		d := model.DateOf(*date)
		f.Date = &d
	}
	blocks, err := s.store.ListBlocks(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	return blocks, nil
}

func (s *Store) invalidate(ctx context.Context, date time.Time) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, date)
	}
}

func (s *Store) logRejected(msg string, err error, args ...any) {
	if kind := model.KindOf(err); kind != "" {
		s.logger.Info(msg, append(args, "kind", kind, "reason", err.Error())...)
		return
	}
	s.logger.Error(msg, append(args, "err", err)...)
}
