package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pharmflow/pharmflow-backend/internal/supply/domain"
	"github.com/pharmflow/pharmflow-backend/internal/supply/repository"
	"github.com/pharmflow/pharmflow-backend/internal/supply/service"
	"github.com/pharmflow/pharmflow-backend/pkg/httputil"
	"github.com/pharmflow/pharmflow-backend/pkg/logger"
)

// DrugHandler handles drug catalog endpoints
type DrugHandler struct {
	service *service.SupplyService
	logger  *logger.Logger
}

// NewDrugHandler creates a new drug handler
func NewDrugHandler(svc *service.SupplyService, log *logger.Logger) *DrugHandler {
	return &DrugHandler{
		service: svc,
		logger:  log,
	}
}

// Create creates a catalog entry
func (h *DrugHandler) Create(w http.ResponseWriter, r *http.Request) {
	var drug repository.Drug
	if err := httputil.DecodeJSON(r, &drug); err != nil {
		httputil.Error(w, err)
		return
	}

	if err := h.service.CreateDrug(r.Context(), &drug); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, drug)
}

// Get gets a drug by ID
func (h *DrugHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	drug, err := h.service.GetDrug(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, drug)
}

// List lists drugs
func (h *DrugHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	status := domain.DrugStatus(q.Get("status"))

	drugs, total, err := h.service.ListDrugs(r.Context(), page, perPage, status)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, drugs, &httputil.Meta{
		Page:    page,
		PerPage: perPage,
		Total:   total,
	})
}

// Update updates a drug's catalog fields
func (h *DrugHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var drug repository.Drug
	if err := httputil.DecodeJSON(r, &drug); err != nil {
		httputil.Error(w, err)
		return
	}

	drug.ID = id
	if err := h.service.UpdateDrug(r.Context(), &drug); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, drug)
}

// UpdateStatus moves a drug through its lifecycle
func (h *DrugHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body struct {
		Status string `json:"status" validate:"required,oneof=available phasing_out archived"`
	}
	if err := httputil.DecodeJSON(r, &body); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&body); err != nil {
		httputil.Error(w, err)
		return
	}

	drug, err := h.service.UpdateDrugStatus(r.Context(), id, domain.DrugStatus(body.Status), httputil.GetActorID(r.Context()))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, drug)
}
