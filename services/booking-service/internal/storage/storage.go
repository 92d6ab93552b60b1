// Package storage persists work blocks, bookings, employees, idempotency keys and outbox
// events. Postgres and SQLite adapters implement the same Store; all scheduling invariants
// are checked by the callers inside a Tx after taking the scope locks, and the schema
// constraints act as a backstop that surfaces as ErrConflict.
package storage

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
)

var (
	ErrNotFound = errors.New("storage: not found")
	// ErrConflict is returned when a write violates a uniqueness or exclusion constraint.
	ErrConflict = errors.New("storage: constraint conflict")
)

type BlockFilter struct {
	EmployeeID string
	Date       *time.Time
	ActiveOnly bool
}

type BookingFilter struct {
	EmployeeID string
	Date       *time.Time
	// Statuses restricts the result; empty means any status.
	Statuses []model.Status
}

// Event is a domain event appended to the outbox in the same transaction as the mutation
// it describes.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

type OutboxRecord struct {
	ID            int64
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Traceparent   string
	Tracestate    string
	CreatedAt     time.Time
}

type Reader interface {
	ListBlocks(ctx context.Context, f BlockFilter) ([]model.WorkBlock, error)
	GetBlock(ctx context.Context, id string) (model.WorkBlock, error)
	ListBookings(ctx context.Context, f BookingFilter) ([]model.Booking, error)
	GetBooking(ctx context.Context, id string) (model.Booking, error)
	// ListEmployees returns the employees among ids that are on file.
	ListEmployees(ctx context.Context, ids []string) ([]model.Employee, error)
}

type Tx interface {
	Reader

	// Lock takes transaction-scoped exclusive locks on keys, in sorted order.
	Lock(ctx context.Context, keys ...string) error
	GetBlockForUpdate(ctx context.Context, id string) (model.WorkBlock, error)
	GetBookingForUpdate(ctx context.Context, id string) (model.Booking, error)

	InsertBlock(ctx context.Context, b model.WorkBlock) error
	DeactivateBlock(ctx context.Context, id string, at time.Time) error
	InsertBooking(ctx context.Context, b model.Booking) error
	// UpdateBooking writes the mutable fields: status, cancellation data and links.
	UpdateBooking(ctx context.Context, b model.Booking) error

	LookupIdempotencyKey(ctx context.Context, key string) (bookingID string, found bool, err error)
	SaveIdempotencyKey(ctx context.Context, key, bookingID string) error

	AppendEvent(ctx context.Context, evt Event) error
}

type Store interface {
	Reader

	// WithTx runs fn in a transaction, committing when fn returns nil.
	WithTx(ctx context.Context, fn func(Tx) error) error
	UpsertEmployee(ctx context.Context, e model.Employee) error
	// ClaimOutbox hands up to limit unpublished events to publish and marks the ids it
	// returns as published. Events it does not return stay pending.
	ClaimOutbox(ctx context.Context, limit int, publish func([]OutboxRecord) ([]int64, error)) (int, error)
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// ScopeKey names the lock serializing every schedule mutation for one employee and date.
func ScopeKey(employeeID string, date time.Time) string {
	return "scope:" + employeeID + ":" + model.FormatDate(date)
}

// IdempotencyLockKey names the lock serializing replays of one idempotency key.
func IdempotencyLockKey(key string) string {
	return "idem:" + key
}

func sortedKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok || k == "" {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func statusStrings(in []model.Status) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}
