// Package availability turns active work blocks and active bookings into the free
// (employee, slot) pairs for a date. It only reads, so results may be cached briefly.
package availability

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/interval"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var tracer = otel.Tracer("salonbook/availability")

type BlockSource interface {
	ListBlocks(ctx context.Context, f storage.BlockFilter) ([]model.WorkBlock, error)
}

type BookingSource interface {
	ListBookings(ctx context.Context, f storage.BookingFilter) ([]model.Booking, error)
}

type Directory interface {
	ListEmployees(ctx context.Context, ids []string) ([]model.Employee, error)
}

type Source interface {
	BlockSource
	BookingSource
	Directory
}

// Cache stores computed availability per date, keyed by employee filter ("" for all).
type Cache interface {
	Get(ctx context.Context, date time.Time, employeeID string) ([]model.AvailableSlot, bool)
	Set(ctx context.Context, date time.Time, employeeID string, slots []model.AvailableSlot)
	Invalidate(ctx context.Context, date time.Time)
}

type Config struct {
	IncrementMinutes int
	Cache            Cache
}

type Calculator struct {
	source    Source
	logger    *slog.Logger
	increment int
	cache     Cache
	group     singleflight.Group
	// gen advances on every Invalidate so callers arriving after a commit never join a
	// computation that started before it.
	gen atomic.Uint64
}

func NewCalculator(source Source, logger *slog.Logger, cfg Config) *Calculator {
	if cfg.IncrementMinutes <= 0 {
		cfg.IncrementMinutes = 60
	}
	return &Calculator{source: source, logger: logger, increment: cfg.IncrementMinutes, cache: cfg.Cache}
}

func (c *Calculator) IncrementMinutes() int { return c.increment }

// Compute returns the free slots on date, optionally for one employee, ordered by slot
// then employee id. Each (employee, slot) appears once even when blocks touch or overlap.
// Concurrent callers for the same key share one read; a caller whose ctx ends stops
// waiting without failing the others.
func (c *Calculator) Compute(ctx context.Context, date time.Time, employeeID string) ([]model.AvailableSlot, error) {
	ctx, span := tracer.Start(ctx, "availability.Compute")
	defer span.End()
	date = model.DateOf(date)
	span.SetAttributes(attribute.String("date", model.FormatDate(date)), attribute.String("employee_id", employeeID))

	if c.cache != nil {
		if slots, ok := c.cache.Get(ctx, date, employeeID); ok {
			span.SetAttributes(attribute.Bool("cache_hit", true))
			return slots, nil
		}
	}

	gen := c.gen.Load()
	key := model.FormatDate(date) + "|" + employeeID + "|" + strconv.FormatUint(gen, 10)
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		slots, err := c.compute(shared, date, employeeID)
		if err != nil {
			return nil, err
		}
		if c.cache != nil && c.gen.Load() == gen {
			c.cache.Set(shared, date, employeeID, slots)
		}
		return slots, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return slices.Clone(res.Val.([]model.AvailableSlot)), nil
	}
}

// Invalidate drops cached results for date. The stores call it after every commit that
// changes blocks or bookings.
func (c *Calculator) Invalidate(ctx context.Context, date time.Time) {
	c.gen.Add(1)
	if c.cache != nil {
		c.cache.Invalidate(ctx, model.DateOf(date))
	}
}

func (c *Calculator) compute(ctx context.Context, date time.Time, employeeID string) ([]model.AvailableSlot, error) {
	var blocks []model.WorkBlock
	var bookings []model.Booking

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		blocks, err = c.source.ListBlocks(gctx, storage.BlockFilter{EmployeeID: employeeID, Date: &date, ActiveOnly: true})
		if err != nil {
			return fmt.Errorf("list blocks: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		bookings, err = c.source.ListBookings(gctx, storage.BookingFilter{EmployeeID: employeeID, Date: &date, Statuses: model.ActiveStatuses})
		if err != nil {
			return fmt.Errorf("list bookings: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	busy := make(map[string][]interval.Range)
	for _, b := range bookings {
		busy[b.EmployeeID] = append(busy[b.EmployeeID], b.Range())
	}

	type pair struct {
		employee string
		slot     interval.Minute
	}
	seen := make(map[pair]struct{})
	var employees []string
	out := make([]model.AvailableSlot, 0)
	for _, blk := range blocks {
		for _, slot := range FreeSlots(blk.Range(), c.increment, busy[blk.EmployeeID]) {
			p := pair{blk.EmployeeID, slot}
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, model.AvailableSlot{EmployeeID: blk.EmployeeID, Slot: slot})
		}
		if !slices.Contains(employees, blk.EmployeeID) {
			employees = append(employees, blk.EmployeeID)
		}
	}

	names, err := c.displayNames(ctx, employees)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].DisplayName = names[out[i].EmployeeID]
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Slot != out[j].Slot {
			return out[i].Slot < out[j].Slot
		}
		return out[i].EmployeeID < out[j].EmployeeID
	})
	return out, nil
}

func (c *Calculator) displayNames(ctx context.Context, ids []string) (map[string]string, error) {
	names := make(map[string]string, len(ids))
	for _, id := range ids {
		names[id] = model.Employee{ID: id}.DisplayName()
	}
	if len(ids) == 0 {
		return names, nil
	}
	found, err := c.source.ListEmployees(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list employees: %w", err)
	}
	for _, e := range found {
		names[e.ID] = e.DisplayName()
	}
	return names, nil
}
