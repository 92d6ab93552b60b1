package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/salonbook/libs/db"
	otelx "github.com/md-rashed-zaman/salonbook/libs/otel"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/interval"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
)

// Postgres is the production Store. Scope locks are transaction-level advisory locks, and
// exclusion constraints on work_blocks and bookings reject overlaps that slip past them.
type Postgres struct {
	pool *db.Pool
}

func NewPostgres(pool *db.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// pgQuerier is satisfied by both the pool and a pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgReader struct {
	q pgQuerier
}

type pgTx struct {
	pgReader
	tx pgx.Tx
}

var (
	_ Store = (*Postgres)(nil)
	_ Tx    = (*pgTx)(nil)
)

func (p *Postgres) reader() pgReader { return pgReader{q: p.pool} }

func (p *Postgres) ListBlocks(ctx context.Context, f BlockFilter) ([]model.WorkBlock, error) {
	return p.reader().ListBlocks(ctx, f)
}

func (p *Postgres) GetBlock(ctx context.Context, id string) (model.WorkBlock, error) {
	return p.reader().GetBlock(ctx, id)
}

func (p *Postgres) ListBookings(ctx context.Context, f BookingFilter) ([]model.Booking, error) {
	return p.reader().ListBookings(ctx, f)
}

func (p *Postgres) GetBooking(ctx context.Context, id string) (model.Booking, error) {
	return p.reader().GetBooking(ctx, id)
}

func (p *Postgres) ListEmployees(ctx context.Context, ids []string) ([]model.Employee, error) {
	return p.reader().ListEmployees(ctx, ids)
}

func (p *Postgres) WithTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{pgReader: pgReader{q: tx}, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return mapPgError(fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (p *Postgres) UpsertEmployee(ctx context.Context, e model.Employee) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO employees (id, first_name, last_name, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (id) DO UPDATE
		SET first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			updated_at = now()
	`, e.ID, e.FirstName, e.LastName)
	return err
}

func (p *Postgres) ClaimOutbox(ctx context.Context, limit int, publish func([]OutboxRecord) ([]int64, error)) (int, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT id, event_id, aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate, created_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return 0, err
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (OutboxRecord, error) {
		var r OutboxRecord
		err := row.Scan(&r.ID, &r.EventID, &r.AggregateType, &r.AggregateID, &r.EventType, &r.Payload, &r.Traceparent, &r.Tracestate, &r.CreatedAt)
		return r, err
	})
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, tx.Commit(ctx)
	}

	published, pubErr := publish(records)
	if len(published) > 0 {
		if _, err := tx.Exec(ctx, `
			UPDATE outbox_events SET published_at = now() WHERE id = ANY($1)
		`, published); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(published), pubErr
}

func (p *Postgres) Migrate(ctx context.Context) error {
	scripts, err := migrationScripts("postgres")
	if err != nil {
		return err
	}
	for i, script := range scripts {
		if _, err := p.pool.Exec(ctx, script); err != nil {
			return fmt.Errorf("apply postgres migration %d: %w", i+1, err)
		}
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return db.ReadyCheck(p.pool)(ctx)
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

const pgBlockColumns = `id, employee_id, block_date, start_minute, end_minute, active, created_at, deactivated_at`

func scanPgBlock(row pgx.Row) (model.WorkBlock, error) {
	var b model.WorkBlock
	var start, end int
	err := row.Scan(&b.ID, &b.EmployeeID, &b.Date, &start, &end, &b.Active, &b.CreatedAt, &b.DeactivatedAt)
	if err != nil {
		return model.WorkBlock{}, err
	}
	b.Start, b.End = interval.Minute(start), interval.Minute(end)
	b.Date = model.DateOf(b.Date)
	return b, nil
}

func (r pgReader) ListBlocks(ctx context.Context, f BlockFilter) ([]model.WorkBlock, error) {
	var where []string
	var args []any
	if f.EmployeeID != "" {
		args = append(args, f.EmployeeID)
		where = append(where, "employee_id = $"+strconv.Itoa(len(args)))
	}
	if f.Date != nil {
		args = append(args, model.DateOf(*f.Date))
		where = append(where, "block_date = $"+strconv.Itoa(len(args)))
	}
	if f.ActiveOnly {
		where = append(where, "active")
	}
	rows, err := r.q.Query(ctx, `SELECT `+pgBlockColumns+` FROM work_blocks`+whereClause(where)+
		` ORDER BY block_date, employee_id, start_minute`, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.WorkBlock, error) {
		return scanPgBlock(row)
	})
}

func (r pgReader) GetBlock(ctx context.Context, id string) (model.WorkBlock, error) {
	b, err := scanPgBlock(r.q.QueryRow(ctx, `SELECT `+pgBlockColumns+` FROM work_blocks WHERE id = $1`, id))
	return b, mapPgError(err)
}

const pgBookingColumns = `id, employee_id, client_id, booking_date, slot_minute, duration_minutes, status,
	cancellation_reason, refund_issued, COALESCE(rescheduled_from, ''), COALESCE(rescheduled_to, ''),
	cancelled_at, created_at, updated_at`

func scanPgBooking(row pgx.Row) (model.Booking, error) {
	var b model.Booking
	var slot int
	var status string
	err := row.Scan(&b.ID, &b.EmployeeID, &b.ClientID, &b.Date, &slot, &b.DurationMinutes, &status,
		&b.CancellationReason, &b.RefundIssued, &b.RescheduledFrom, &b.RescheduledTo,
		&b.CancelledAt, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return model.Booking{}, err
	}
	b.Slot = interval.Minute(slot)
	b.Status = model.Status(status)
	b.Date = model.DateOf(b.Date)
	return b, nil
}

func (r pgReader) ListBookings(ctx context.Context, f BookingFilter) ([]model.Booking, error) {
	var where []string
	var args []any
	if f.EmployeeID != "" {
		args = append(args, f.EmployeeID)
		where = append(where, "employee_id = $"+strconv.Itoa(len(args)))
	}
	if f.Date != nil {
		args = append(args, model.DateOf(*f.Date))
		where = append(where, "booking_date = $"+strconv.Itoa(len(args)))
	}
	if len(f.Statuses) > 0 {
		args = append(args, statusStrings(f.Statuses))
		where = append(where, "status = ANY($"+strconv.Itoa(len(args))+")")
	}
	rows, err := r.q.Query(ctx, `SELECT `+pgBookingColumns+` FROM bookings`+whereClause(where)+
		` ORDER BY booking_date, slot_minute, employee_id`, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Booking, error) {
		return scanPgBooking(row)
	})
}

func (r pgReader) GetBooking(ctx context.Context, id string) (model.Booking, error) {
	b, err := scanPgBooking(r.q.QueryRow(ctx, `SELECT `+pgBookingColumns+` FROM bookings WHERE id = $1`, id))
	return b, mapPgError(err)
}

func (r pgReader) ListEmployees(ctx context.Context, ids []string) ([]model.Employee, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.q.Query(ctx, `
		SELECT id, first_name, last_name FROM employees WHERE id = ANY($1) ORDER BY id
	`, ids)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Employee, error) {
		var e model.Employee
		err := row.Scan(&e.ID, &e.FirstName, &e.LastName)
		return e, err
	})
}

func (t *pgTx) Lock(ctx context.Context, keys ...string) error {
	for _, k := range sortedKeys(keys) {
		if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, k); err != nil {
			return fmt.Errorf("lock %s: %w", k, err)
		}
	}
	return nil
}

func (t *pgTx) GetBlockForUpdate(ctx context.Context, id string) (model.WorkBlock, error) {
	b, err := scanPgBlock(t.tx.QueryRow(ctx, `SELECT `+pgBlockColumns+` FROM work_blocks WHERE id = $1 FOR UPDATE`, id))
	return b, mapPgError(err)
}

func (t *pgTx) GetBookingForUpdate(ctx context.Context, id string) (model.Booking, error) {
	b, err := scanPgBooking(t.tx.QueryRow(ctx, `SELECT `+pgBookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, id))
	return b, mapPgError(err)
}

func (t *pgTx) InsertBlock(ctx context.Context, b model.WorkBlock) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO work_blocks (id, employee_id, block_date, start_minute, end_minute, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, b.ID, b.EmployeeID, model.DateOf(b.Date), int(b.Start), int(b.End), b.Active, b.CreatedAt)
	return mapPgError(err)
}

func (t *pgTx) DeactivateBlock(ctx context.Context, id string, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE work_blocks SET active = FALSE, deactivated_at = $2 WHERE id = $1 AND active
	`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) InsertBooking(ctx context.Context, b model.Booking) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO bookings
			(id, employee_id, client_id, booking_date, slot_minute, duration_minutes, status,
			 cancellation_reason, refund_issued, rescheduled_from, rescheduled_to, cancelled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), NULLIF($11, ''), $12, $13, $14)
	`, b.ID, b.EmployeeID, b.ClientID, model.DateOf(b.Date), int(b.Slot), b.DurationMinutes, string(b.Status),
		b.CancellationReason, b.RefundIssued, b.RescheduledFrom, b.RescheduledTo, b.CancelledAt, b.CreatedAt, b.UpdatedAt)
	return mapPgError(err)
}

func (t *pgTx) UpdateBooking(ctx context.Context, b model.Booking) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE bookings
		SET status = $2,
			cancellation_reason = $3,
			refund_issued = $4,
			rescheduled_from = NULLIF($5, ''),
			rescheduled_to = NULLIF($6, ''),
			cancelled_at = $7,
			updated_at = $8
		WHERE id = $1
	`, b.ID, string(b.Status), b.CancellationReason, b.RefundIssued, b.RescheduledFrom, b.RescheduledTo, b.CancelledAt, b.UpdatedAt)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) LookupIdempotencyKey(ctx context.Context, key string) (string, bool, error) {
	var id string
	err := t.tx.QueryRow(ctx, `SELECT booking_id FROM booking_idempotency_keys WHERE idempotency_key = $1`, key).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (t *pgTx) SaveIdempotencyKey(ctx context.Context, key, bookingID string) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (idempotency_key, booking_id) VALUES ($1, $2)
	`, key, bookingID)
	return mapPgError(err)
}

func (t *pgTx) AppendEvent(ctx context.Context, evt Event) error {
	tc := otelx.CaptureTraceContext(ctx)
	_, err := t.tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.NewString(), evt.AggregateType, evt.AggregateID, evt.EventType, evt.Payload, tc.Parent, tc.State)
	return err
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

// mapPgError translates no-rows and constraint violations into the package sentinels.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23P01", "23505":
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
		}
	}
	return err
}
