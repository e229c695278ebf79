package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pharmflow/pharmflow-backend/internal/supply/domain"
	"github.com/pharmflow/pharmflow-backend/internal/supply/service"
	"github.com/pharmflow/pharmflow-backend/pkg/httputil"
	"github.com/pharmflow/pharmflow-backend/pkg/logger"
)

// StockHandler handles inventory endpoints
type StockHandler struct {
	service *service.SupplyService
	logger  *logger.Logger
}

// NewStockHandler creates a new stock handler
func NewStockHandler(svc *service.SupplyService, log *logger.Logger) *StockHandler {
	return &StockHandler{
		service: svc,
		logger:  log,
	}
}

func locationFromPath(r *http.Request) domain.Location {
	return domain.Location{
		Kind: domain.LocationKind(chi.URLParam(r, "kind")),
		ID:   chi.URLParam(r, "locationID"),
	}
}

// Register records freshly arrived stock
func (h *StockHandler) Register(w http.ResponseWriter, r *http.Request) {
	var input service.RegisterStockInput
	if err := httputil.DecodeJSON(r, &input); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&input); err != nil {
		httputil.Error(w, err)
		return
	}

	batch, err := h.service.RegisterStock(r.Context(), input, httputil.GetActorID(r.Context()))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, batch)
}

// Overview aggregates a location's stock per drug
func (h *StockHandler) Overview(w http.ResponseWriter, r *http.Request) {
	levels, err := h.service.StockOverview(r.Context(), locationFromPath(r))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, levels)
}

// Batches lists a drug's batches at a location in consumption order
func (h *StockHandler) Batches(w http.ResponseWriter, r *http.Request) {
	drugID := chi.URLParam(r, "drugID")

	batches, err := h.service.ListBatches(r.Context(), drugID, locationFromPath(r))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, batches)
}

// LowStock lists batches at or below their threshold
func (h *StockHandler) LowStock(w http.ResponseWriter, r *http.Request) {
	batches, err := h.service.LowStockReport(r.Context(), locationFromPath(r))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, batches)
}
