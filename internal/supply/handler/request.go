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

// RequestHandler handles supply request endpoints
type RequestHandler struct {
	service *service.SupplyService
	logger  *logger.Logger
}

// NewRequestHandler creates a new request handler
func NewRequestHandler(svc *service.SupplyService, log *logger.Logger) *RequestHandler {
	return &RequestHandler{
		service: svc,
		logger:  log,
	}
}

// Create opens a new supply request
func (h *RequestHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input service.CreateRequestInput
	if err := httputil.DecodeJSON(r, &input); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&input); err != nil {
		httputil.Error(w, err)
		return
	}

	req, err := h.service.CreateRequest(r.Context(), input, httputil.GetActorID(r.Context()))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, req)
}

// Get gets a request with its lines
func (h *RequestHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	req, err := h.service.GetRequest(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, req)
}

// List lists requests with optional filters
func (h *RequestHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))

	filter := repository.RequestFilter{
		Status: domain.RequestStatus(q.Get("status")),
		Kind:   domain.RequestKind(q.Get("kind")),
	}
	if kind := q.Get("requester_kind"); kind != "" {
		filter.Requester = domain.Location{Kind: domain.LocationKind(kind), ID: q.Get("requester_id")}
	}
	if kind := q.Get("fulfiller_kind"); kind != "" {
		filter.Fulfiller = domain.Location{Kind: domain.LocationKind(kind), ID: q.Get("fulfiller_id")}
	}

	requests, total, err := h.service.ListRequests(r.Context(), filter, page, perPage)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, requests, &httputil.Meta{
		Page:    page,
		PerPage: perPage,
		Total:   total,
	})
}

// Accept accepts an external request and hands it to the supplier
func (h *RequestHandler) Accept(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	req, err := h.service.Accept(r.Context(), id, httputil.GetActorID(r.Context()))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, req)
}

// Fulfill approves a request and draws the stock
func (h *RequestHandler) Fulfill(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body struct {
		Overrides []service.LineOverride `json:"overrides" validate:"dive"`
	}
	if r.ContentLength > 0 {
		if err := httputil.DecodeJSON(r, &body); err != nil {
			httputil.Error(w, err)
			return
		}
		if err := httputil.Validate(&body); err != nil {
			httputil.Error(w, err)
			return
		}
	}

	result, err := h.service.Fulfill(r.Context(), id, body.Overrides, httputil.GetActorID(r.Context()))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}

// Reject declines a request
func (h *RequestHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body struct {
		Reason string `json:"reason" validate:"required"`
	}
	if err := httputil.DecodeJSON(r, &body); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&body); err != nil {
		httputil.Error(w, err)
		return
	}

	req, err := h.service.Reject(r.Context(), id, body.Reason, httputil.GetActorID(r.Context()))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, req)
}

// Cancel withdraws a pending request
func (h *RequestHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	req, err := h.service.Cancel(r.Context(), id, httputil.GetActorID(r.Context()))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, req)
}

// ConfirmReceipt records the requester's delivery confirmation
func (h *RequestHandler) ConfirmReceipt(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body struct {
		Lines []service.ReceiptLine `json:"lines" validate:"dive"`
	}
	if r.ContentLength > 0 {
		if err := httputil.DecodeJSON(r, &body); err != nil {
			httputil.Error(w, err)
			return
		}
		if err := httputil.Validate(&body); err != nil {
			httputil.Error(w, err)
			return
		}
	}

	result, err := h.service.ConfirmReceipt(r.Context(), id, body.Lines, httputil.GetActorID(r.Context()))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}
