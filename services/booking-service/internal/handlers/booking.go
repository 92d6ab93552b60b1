package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/salonbook/libs/httpx"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/bookings"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/cancellation"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/interval"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
)

type BookingHandler struct {
	bookings *bookings.Store
	cancel   *cancellation.Coordinator
	calc     *availability.Calculator
	logger   *slog.Logger
}

func NewBookingHandler(store *bookings.Store, coord *cancellation.Coordinator, calc *availability.Calculator, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{bookings: store, cancel: coord, calc: calc, logger: logger}
}

type slotItem struct {
	EmployeeID  string          `json:"employee_id"`
	DisplayName string          `json:"employee_name"`
	StartTime   interval.Minute `json:"start_time"`
	EndTime     interval.Minute `json:"end_time"`
}

type slotsResponse struct {
	Date             string     `json:"date"`
	IncrementMinutes int        `json:"increment_minutes"`
	Slots            []slotItem `json:"slots"`
}

type createBookingRequest struct {
	EmployeeID      string           `json:"employee_id"`
	ClientID        string           `json:"client_id"`
	Date            string           `json:"date"`
	Slot            *interval.Minute `json:"slot"`
	DurationMinutes int              `json:"duration_minutes"`
}

type bookingIDRequest struct {
	BookingID string `json:"booking_id"`
}

type cancelBookingRequest struct {
	BookingID   string           `json:"booking_id"`
	Reason      string           `json:"reason"`
	IssueRefund bool             `json:"issue_refund"`
	NewDate     string           `json:"new_date,omitempty"`
	NewSlot     *interval.Minute `json:"new_slot,omitempty"`
}

type bookingItem struct {
	BookingID          string          `json:"booking_id"`
	EmployeeID         string          `json:"employee_id"`
	ClientID           string          `json:"client_id"`
	Date               string          `json:"date"`
	Slot               interval.Minute `json:"slot"`
	EndTime            interval.Minute `json:"end_time"`
	DurationMinutes    int             `json:"duration_minutes"`
	Status             string          `json:"status"`
	Outcome            string          `json:"outcome"`
	CancellationReason string          `json:"cancellation_reason,omitempty"`
	RefundIssued       bool            `json:"refund_issued"`
	RescheduledFrom    string          `json:"rescheduled_from,omitempty"`
	RescheduledTo      string          `json:"rescheduled_to,omitempty"`
	CancelledAt        string          `json:"cancelled_at,omitempty"`
	CreatedAt          string          `json:"created_at"`
}

type cancelBookingResponse struct {
	Booking     bookingItem  `json:"booking"`
	Replacement *bookingItem `json:"replacement,omitempty"`
}

func toBookingItem(b model.Booking) bookingItem {
	return bookingItem{
		BookingID:          b.ID,
		EmployeeID:         b.EmployeeID,
		ClientID:           b.ClientID,
		Date:               model.FormatDate(b.Date),
		Slot:               b.Slot,
		EndTime:            b.Range().End,
		DurationMinutes:    b.DurationMinutes,
		Status:             string(b.Status),
		Outcome:            string(b.Outcome()),
		CancellationReason: b.CancellationReason,
		RefundIssued:       b.RefundIssued,
		RescheduledFrom:    b.RescheduledFrom,
		RescheduledTo:      b.RescheduledTo,
		CancelledAt:        formatOptionalTime(b.CancelledAt),
		CreatedAt:          b.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// Slots serves GET /api/v1/public/slots?date=YYYY-MM-DD[&employee_id=].
func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	date, err := model.ParseDate(q.Get("date"))
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	slots, err := h.calc.Compute(r.Context(), date, strings.TrimSpace(q.Get("employee_id")))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	inc := h.calc.IncrementMinutes()
	items := make([]slotItem, 0, len(slots))
	for _, s := range slots {
		items = append(items, slotItem{
			EmployeeID:  s.EmployeeID,
			DisplayName: s.DisplayName,
			StartTime:   s.Slot,
			EndTime:     s.Slot + interval.Minute(inc),
		})
	}
	httpx.WriteJSON(w, http.StatusOK, slotsResponse{Date: model.FormatDate(date), IncrementMinutes: inc, Slots: items})
}

// Book serves POST /api/v1/public/book. An Idempotency-Key header makes retries safe.
func (h *BookingHandler) Book(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req createBookingRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(w, "invalid json body: "+err.Error())
		return
	}
	date, err := model.ParseDate(req.Date)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if req.Slot == nil {
		badRequest(w, "slot is required")
		return
	}
	if req.DurationMinutes == 0 {
		req.DurationMinutes = h.calc.IncrementMinutes()
	}

	b, err := h.bookings.ReserveSlot(r.Context(), bookings.ReserveRequest{
		EmployeeID:      strings.TrimSpace(req.EmployeeID),
		ClientID:        strings.TrimSpace(req.ClientID),
		Date:            date,
		Slot:            *req.Slot,
		DurationMinutes: req.DurationMinutes,
		IdempotencyKey:  strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toBookingItem(b))
}

// List serves GET /api/v1/appointments, returning active bookings.
func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	date, err := optionalDate(q.Get("date"))
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	list, err := h.bookings.GetActiveBookings(r.Context(), strings.TrimSpace(q.Get("employee_id")), date)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	items := make([]bookingItem, 0, len(list))
	for _, b := range list {
		items = append(items, toBookingItem(b))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("booking_id"))
	if id == "" {
		badRequest(w, "booking_id is required")
		return
	}
	b, err := h.bookings.Get(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toBookingItem(b))
}

func (h *BookingHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.bookings.Confirm)
}

func (h *BookingHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.bookings.MarkCompleted)
}

func (h *BookingHandler) transition(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, id string) (model.Booking, error)) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req bookingIDRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(w, "invalid json body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.BookingID) == "" {
		badRequest(w, "booking_id is required")
		return
	}
	b, err := apply(r.Context(), strings.TrimSpace(req.BookingID))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toBookingItem(b))
}

// Cancel serves POST /api/v1/appointments/cancel for both the refund and the reschedule path.
func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req cancelBookingRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(w, "invalid json body: "+err.Error())
		return
	}
	newDate, err := optionalDate(req.NewDate)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	res, err := h.cancel.Cancel(r.Context(), cancellation.Request{
		BookingID:   strings.TrimSpace(req.BookingID),
		Reason:      req.Reason,
		IssueRefund: req.IssueRefund,
		NewDate:     newDate,
		NewSlot:     req.NewSlot,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	resp := cancelBookingResponse{Booking: toBookingItem(res.Booking)}
	if res.Replacement != nil {
		item := toBookingItem(*res.Replacement)
		resp.Replacement = &item
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}
