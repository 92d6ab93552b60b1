package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	otelx "github.com/md-rashed-zaman/salonbook/libs/otel"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/interval"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLite is the single-node Store used for local runs and tests. The handle holds one
// connection, so transactions never interleave and Lock has nothing left to do. Code running
// inside WithTx must only use the Tx it was given.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(conn *sql.DB) *SQLite {
	return &SQLite{db: conn}
}

type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqliteReader struct {
	q sqlQuerier
}

type sqliteTx struct {
	sqliteReader
	tx *sql.Tx
}

var (
	_ Store = (*SQLite)(nil)
	_ Tx    = (*sqliteTx)(nil)
)

const sqliteTimeLayout = time.RFC3339Nano

func (s *SQLite) reader() sqliteReader { return sqliteReader{q: s.db} }

func (s *SQLite) ListBlocks(ctx context.Context, f BlockFilter) ([]model.WorkBlock, error) {
	return s.reader().ListBlocks(ctx, f)
}

func (s *SQLite) GetBlock(ctx context.Context, id string) (model.WorkBlock, error) {
	return s.reader().GetBlock(ctx, id)
}

func (s *SQLite) ListBookings(ctx context.Context, f BookingFilter) ([]model.Booking, error) {
	return s.reader().ListBookings(ctx, f)
}

func (s *SQLite) GetBooking(ctx context.Context, id string) (model.Booking, error) {
	return s.reader().GetBooking(ctx, id)
}

func (s *SQLite) ListEmployees(ctx context.Context, ids []string) ([]model.Employee, error) {
	return s.reader().ListEmployees(ctx, ids)
}

func (s *SQLite) WithTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&sqliteTx{sqliteReader: sqliteReader{q: tx}, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapSQLiteError(fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (s *SQLite) UpsertEmployee(ctx context.Context, e model.Employee) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employees (id, first_name, last_name, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET first_name = excluded.first_name,
			last_name = excluded.last_name,
			updated_at = excluded.updated_at
	`, e.ID, e.FirstName, e.LastName, formatTime(time.Now()))
	return err
}

func (s *SQLite) ClaimOutbox(ctx context.Context, limit int, publish func([]OutboxRecord) ([]int64, error)) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, event_id, aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate, created_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT ?
	`, limit)
	if err != nil {
		return 0, err
	}
	var records []OutboxRecord
	for rows.Next() {
		var r OutboxRecord
		var created string
		if err := rows.Scan(&r.ID, &r.EventID, &r.AggregateType, &r.AggregateID, &r.EventType, &r.Payload, &r.Traceparent, &r.Tracestate, &created); err != nil {
			_ = rows.Close()
			return 0, err
		}
		if r.CreatedAt, err = parseTime(created); err != nil {
			_ = rows.Close()
			return 0, err
		}
		records = append(records, r)
	}
	if err := rows.Close(); err != nil {
		return 0, err
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, tx.Commit()
	}

	published, pubErr := publish(records)
	now := formatTime(time.Now())
	for _, id := range published {
		if _, err := tx.ExecContext(ctx, `UPDATE outbox_events SET published_at = ? WHERE id = ?`, now, id); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(published), pubErr
}

func (s *SQLite) Migrate(ctx context.Context) error {
	scripts, err := migrationScripts("sqlite")
	if err != nil {
		return err
	}
	for i, script := range scripts {
		if _, err := s.db.ExecContext(ctx, script); err != nil {
			return fmt.Errorf("apply sqlite migration %d: %w", i+1, err)
		}
	}
	return nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

const sqliteBlockColumns = `id, employee_id, block_date, start_minute, end_minute, active, created_at, deactivated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteBlock(row rowScanner) (model.WorkBlock, error) {
	var b model.WorkBlock
	var date, created string
	var deactivated sql.NullString
	var start, end int
	if err := row.Scan(&b.ID, &b.EmployeeID, &date, &start, &end, &b.Active, &created, &deactivated); err != nil {
		return model.WorkBlock{}, err
	}
	var err error
	if b.Date, err = model.ParseDate(date); err != nil {
		return model.WorkBlock{}, err
	}
	if b.CreatedAt, err = parseTime(created); err != nil {
		return model.WorkBlock{}, err
	}
	if b.DeactivatedAt, err = parseNullTime(deactivated); err != nil {
		return model.WorkBlock{}, err
	}
	b.Start, b.End = interval.Minute(start), interval.Minute(end)
	return b, nil
}

func (r sqliteReader) ListBlocks(ctx context.Context, f BlockFilter) ([]model.WorkBlock, error) {
	var where []string
	var args []any
	if f.EmployeeID != "" {
		where = append(where, "employee_id = ?")
		args = append(args, f.EmployeeID)
	}
	if f.Date != nil {
		where = append(where, "block_date = ?")
		args = append(args, model.FormatDate(*f.Date))
	}
	if f.ActiveOnly {
		where = append(where, "active = 1")
	}
	rows, err := r.q.QueryContext(ctx, `SELECT `+sqliteBlockColumns+` FROM work_blocks`+whereClause(where)+
		` ORDER BY block_date, employee_id, start_minute`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var blocks []model.WorkBlock
	for rows.Next() {
		b, err := scanSQLiteBlock(rows)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

func (r sqliteReader) GetBlock(ctx context.Context, id string) (model.WorkBlock, error) {
	b, err := scanSQLiteBlock(r.q.QueryRowContext(ctx, `SELECT `+sqliteBlockColumns+` FROM work_blocks WHERE id = ?`, id))
	return b, mapSQLiteError(err)
}

const sqliteBookingColumns = `id, employee_id, client_id, booking_date, slot_minute, duration_minutes, status,
	cancellation_reason, refund_issued, COALESCE(rescheduled_from, ''), COALESCE(rescheduled_to, ''),
	cancelled_at, created_at, updated_at`

func scanSQLiteBooking(row rowScanner) (model.Booking, error) {
	var b model.Booking
	var date, status, created, updated string
	var cancelled sql.NullString
	var slot int
	err := row.Scan(&b.ID, &b.EmployeeID, &b.ClientID, &date, &slot, &b.DurationMinutes, &status,
		&b.CancellationReason, &b.RefundIssued, &b.RescheduledFrom, &b.RescheduledTo,
		&cancelled, &created, &updated)
	if err != nil {
		return model.Booking{}, err
	}
	if b.Date, err = model.ParseDate(date); err != nil {
		return model.Booking{}, err
	}
	if b.CancelledAt, err = parseNullTime(cancelled); err != nil {
		return model.Booking{}, err
	}
	if b.CreatedAt, err = parseTime(created); err != nil {
		return model.Booking{}, err
	}
	if b.UpdatedAt, err = parseTime(updated); err != nil {
		return model.Booking{}, err
	}
	b.Slot = interval.Minute(slot)
	b.Status = model.Status(status)
	return b, nil
}

func (r sqliteReader) ListBookings(ctx context.Context, f BookingFilter) ([]model.Booking, error) {
	var where []string
	var args []any
	if f.EmployeeID != "" {
		where = append(where, "employee_id = ?")
		args = append(args, f.EmployeeID)
	}
	if f.Date != nil {
		where = append(where, "booking_date = ?")
		args = append(args, model.FormatDate(*f.Date))
	}
	if len(f.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, s := range f.Statuses {
			args = append(args, string(s))
		}
	}
	rows, err := r.q.QueryContext(ctx, `SELECT `+sqliteBookingColumns+` FROM bookings`+whereClause(where)+
		` ORDER BY booking_date, slot_minute, employee_id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []model.Booking
	for rows.Next() {
		b, err := scanSQLiteBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

func (r sqliteReader) GetBooking(ctx context.Context, id string) (model.Booking, error) {
	b, err := scanSQLiteBooking(r.q.QueryRowContext(ctx, `SELECT `+sqliteBookingColumns+` FROM bookings WHERE id = ?`, id))
	return b, mapSQLiteError(err)
}

func (r sqliteReader) ListEmployees(ctx context.Context, ids []string) ([]model.Employee, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, first_name, last_name FROM employees WHERE id IN (`+placeholders(len(ids))+`) ORDER BY id
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Employee
	for rows.Next() {
		var e model.Employee
		if err := rows.Scan(&e.ID, &e.FirstName, &e.LastName); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Lock is a no-op: the single connection already serializes transactions.
func (t *sqliteTx) Lock(context.Context, ...string) error {
	return nil
}

func (t *sqliteTx) GetBlockForUpdate(ctx context.Context, id string) (model.WorkBlock, error) {
	return t.GetBlock(ctx, id)
}

func (t *sqliteTx) GetBookingForUpdate(ctx context.Context, id string) (model.Booking, error) {
	return t.GetBooking(ctx, id)
}

func (t *sqliteTx) InsertBlock(ctx context.Context, b model.WorkBlock) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO work_blocks (id, employee_id, block_date, start_minute, end_minute, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, b.ID, b.EmployeeID, model.FormatDate(b.Date), int(b.Start), int(b.End), b.Active, formatTime(b.CreatedAt))
	return mapSQLiteError(err)
}

func (t *sqliteTx) DeactivateBlock(ctx context.Context, id string, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE work_blocks SET active = 0, deactivated_at = ? WHERE id = ? AND active = 1
	`, formatTime(at), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *sqliteTx) InsertBooking(ctx context.Context, b model.Booking) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO bookings
			(id, employee_id, client_id, booking_date, slot_minute, duration_minutes, status,
			 cancellation_reason, refund_issued, rescheduled_from, rescheduled_to, cancelled_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?)
	`, b.ID, b.EmployeeID, b.ClientID, model.FormatDate(b.Date), int(b.Slot), b.DurationMinutes, string(b.Status),
		b.CancellationReason, b.RefundIssued, b.RescheduledFrom, b.RescheduledTo, formatNullTime(b.CancelledAt),
		formatTime(b.CreatedAt), formatTime(b.UpdatedAt))
	return mapSQLiteError(err)
}

func (t *sqliteTx) UpdateBooking(ctx context.Context, b model.Booking) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE bookings
		SET status = ?,
			cancellation_reason = ?,
			refund_issued = ?,
			rescheduled_from = NULLIF(?, ''),
			rescheduled_to = NULLIF(?, ''),
			cancelled_at = ?,
			updated_at = ?
		WHERE id = ?
	`, string(b.Status), b.CancellationReason, b.RefundIssued, b.RescheduledFrom, b.RescheduledTo,
		formatNullTime(b.CancelledAt), formatTime(b.UpdatedAt), b.ID)
	if err != nil {
		return mapSQLiteError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *sqliteTx) LookupIdempotencyKey(ctx context.Context, key string) (string, bool, error) {
	var id string
	err := t.tx.QueryRowContext(ctx, `SELECT booking_id FROM booking_idempotency_keys WHERE idempotency_key = ?`, key).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (t *sqliteTx) SaveIdempotencyKey(ctx context.Context, key, bookingID string) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO booking_idempotency_keys (idempotency_key, booking_id, created_at) VALUES (?, ?, ?)
	`, key, bookingID, formatTime(time.Now()))
	return mapSQLiteError(err)
}

func (t *sqliteTx) AppendEvent(ctx context.Context, evt Event) error {
	tc := otelx.CaptureTraceContext(ctx)
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO outbox_events (event_id, aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), evt.AggregateType, evt.AggregateID, evt.EventType, evt.Payload, tc.Parent, tc.State, formatTime(time.Now()))
	return err
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func formatNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func mapSQLiteError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %s", ErrConflict, se.Error())
		}
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %s", ErrConflict, err.Error())
	}
	return err
}
