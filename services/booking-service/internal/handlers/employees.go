package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/salonbook/libs/httpx"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
)

// EmployeeDirectory stores the names shown next to available slots.
type EmployeeDirectory interface {
	UpsertEmployee(ctx context.Context, e model.Employee) error
}

type EmployeeHandler struct {
	dir    EmployeeDirectory
	logger *slog.Logger
}

func NewEmployeeHandler(dir EmployeeDirectory, logger *slog.Logger) *EmployeeHandler {
	return &EmployeeHandler{dir: dir, logger: logger}
}

type upsertEmployeeRequest struct {
	EmployeeID string `json:"employee_id"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
}

type employeeItem struct {
	EmployeeID  string `json:"employee_id"`
	DisplayName string `json:"display_name"`
}

// Upsert serves POST /api/v1/employees.
func (h *EmployeeHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req upsertEmployeeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(w, "invalid json body: "+err.Error())
		return
	}
	e := model.Employee{
		ID:        strings.TrimSpace(req.EmployeeID),
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
	}
	if e.ID == "" {
		badRequest(w, "employee_id is required")
		return
	}
	if err := h.dir.UpsertEmployee(r.Context(), e); err != nil {
		writeError(w, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, employeeItem{EmployeeID: e.ID, DisplayName: e.DisplayName()})
}
