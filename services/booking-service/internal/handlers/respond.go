package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/salonbook/libs/httpx"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/interval"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
)

type errorResponse struct {
	Error    string     `json:"error"`
	Message  string     `json:"message"`
	Conflict *rangeItem `json:"conflict,omitempty"`
}

type rangeItem struct {
	StartTime interval.Minute `json:"start_time"`
	EndTime   interval.Minute `json:"end_time"`
}

func statusFor(kind model.Kind) int {
	switch kind {
	case model.KindValidation:
		return http.StatusBadRequest
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindScheduleConflict, model.KindSlotUnavailable, model.KindBlockInUse, model.KindInvalidTransition:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// writeError renders scheduling errors with their kind and hides infrastructure errors
// behind a generic 500.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var me *model.Error
	if !errors.As(err, &me) {
		logger.Error("request failed", "err", err)
		httpx.WriteJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal", Message: "internal error"})
		return
	}
	resp := errorResponse{Error: string(me.Kind), Message: me.Error()}
	if me.Conflict != nil {
		resp.Conflict = &rangeItem{StartTime: me.Conflict.Start, EndTime: me.Conflict.End}
	}
	httpx.WriteJSON(w, statusFor(me.Kind), resp)
}

func badRequest(w http.ResponseWriter, msg string) {
	httpx.WriteJSON(w, http.StatusBadRequest, errorResponse{Error: string(model.KindValidation), Message: msg})
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// optionalDate parses a YYYY-MM-DD query value; empty means no filter.
func optionalDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	d, err := model.ParseDate(raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
