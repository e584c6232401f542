package ledger

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the ledger.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs ledger handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/", h.handleApply)
}

type movementRequest struct {
	ProductID int64  `json:"product_id"`
	Direction string `json:"direction"`
	Quantity  int64  `json:"quantity"`
	UnitPrice *int64 `json:"unit_price"`
	Notes     string `json:"notes"`
	Actor     string `json:"actor"`
}

func (h *Handler) handleApply(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	direction, err := ParseDirection(req.Direction)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor := strings.TrimSpace(req.Actor)
	if actor == "" {
		actor = "api"
	}
	input := MovementInput{
		ProductID:      req.ProductID,
		Direction:      direction,
		Quantity:       req.Quantity,
		Notes:          strings.TrimSpace(req.Notes),
		Actor:          actor,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		RequireActive:  true,
	}
	if req.UnitPrice != nil {
		input.UnitPrice = *req.UnitPrice
	} else {
		input.UseProductPrice = true
	}
	result, err := h.service.ApplyMovement(r.Context(), input)
	if err != nil {
		if httpx.IsExpected(err) {
			h.logger.Info("movement rejected", slog.Int64("product_id", req.ProductID), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("movement applied",
		slog.Int64("product_id", req.ProductID),
		slog.String("direction", string(direction)),
		slog.Int64("quantity", req.Quantity),
		slog.Int64("new_stock", result.NewStock))
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter, fieldErrs := parseMovementFilter(r)
	if len(fieldErrs) > 0 {
		httpx.ValidationProblem(w, fieldErrs)
		return
	}
	movements, err := h.service.ListMovements(r.Context(), filter)
	if err != nil {
		if !httpx.IsExpected(err) {
			h.logger.Error("list movements", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	if movements == nil {
		movements = []Movement{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": movements})
}

func parseMovementFilter(r *http.Request) (MovementFilter, map[string]string) {
	q := r.URL.Query()
	errs := map[string]string{}
	var filter MovementFilter
	if v := q.Get("product_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			errs["product_id"] = "invalid product id"
		}
		filter.ProductID = id
	}
	if v := q.Get("direction"); v != "" {
		d, err := ParseDirection(v)
		if err != nil {
			errs["direction"] = "must be IN or OUT"
		}
		filter.Direction = d
	}
	if v := q.Get("from"); v != "" {
		from, err := time.Parse(time.DateOnly, v)
		if err != nil {
			errs["from"] = "expected YYYY-MM-DD"
		}
		filter.From = from
	}
	if v := q.Get("to"); v != "" {
		to, err := time.Parse(time.DateOnly, v)
		if err != nil {
			errs["to"] = "expected YYYY-MM-DD"
		} else {
			// inclusive end of day
			filter.To = to.Add(24*time.Hour - time.Nanosecond)
		}
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			errs["limit"] = "invalid limit"
		}
		filter.Limit = limit
	}
	return filter, errs
}
