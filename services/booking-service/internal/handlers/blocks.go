package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/salonbook/libs/httpx"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/interval"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/workblocks"
)

type BlockHandler struct {
	blocks *workblocks.Store
	logger *slog.Logger
}

func NewBlockHandler(blocks *workblocks.Store, logger *slog.Logger) *BlockHandler {
	return &BlockHandler{blocks: blocks, logger: logger}
}

type createBlockRequest struct {
	EmployeeID string           `json:"employee_id"`
	Date       string           `json:"date"`
	StartTime  *interval.Minute `json:"start_time"`
	EndTime    *interval.Minute `json:"end_time"`
	Backfill   bool             `json:"backfill"`
}

type deactivateBlockRequest struct {
	BlockID string `json:"block_id"`
}

type blockItem struct {
	BlockID       string          `json:"block_id"`
	EmployeeID    string          `json:"employee_id"`
	Date          string          `json:"date"`
	StartTime     interval.Minute `json:"start_time"`
	EndTime       interval.Minute `json:"end_time"`
	Active        bool            `json:"active"`
	CreatedAt     string          `json:"created_at"`
	DeactivatedAt string          `json:"deactivated_at,omitempty"`
}

func toBlockItem(b model.WorkBlock) blockItem {
	return blockItem{
		BlockID:       b.ID,
		EmployeeID:    b.EmployeeID,
		Date:          model.FormatDate(b.Date),
		StartTime:     b.Start,
		EndTime:       b.End,
		Active:        b.Active,
		CreatedAt:     b.CreatedAt.UTC().Format(time.RFC3339),
		DeactivatedAt: formatOptionalTime(b.DeactivatedAt),
	}
}

// Blocks serves /api/v1/blocks: GET lists active blocks, POST creates one.
func (h *BlockHandler) Blocks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.list(w, r)
	case http.MethodPost:
		h.create(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *BlockHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date, err := optionalDate(q.Get("date"))
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	blocks, err := h.blocks.ListActiveBlocks(r.Context(), strings.TrimSpace(q.Get("employee_id")), date)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	items := make([]blockItem, 0, len(blocks))
	for _, b := range blocks {
		items = append(items, toBlockItem(b))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *BlockHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createBlockRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(w, "invalid json body: "+err.Error())
		return
	}
	date, err := model.ParseDate(req.Date)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if req.StartTime == nil || req.EndTime == nil {
		badRequest(w, "start_time and end_time are required")
		return
	}
	block, err := h.blocks.CreateBlock(r.Context(), workblocks.CreateRequest{
		EmployeeID: strings.TrimSpace(req.EmployeeID),
		Date:       date,
		Start:      *req.StartTime,
		End:        *req.EndTime,
		Backfill:   req.Backfill,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toBlockItem(block))
}

// Deactivate serves POST /api/v1/blocks/deactivate.
func (h *BlockHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req deactivateBlockRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(w, "invalid json body: "+err.Error())
		return
	}
	id := strings.TrimSpace(req.BlockID)
	if id == "" {
		badRequest(w, "block_id is required")
		return
	}
	if err := h.blocks.DeactivateBlock(r.Context(), id); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
