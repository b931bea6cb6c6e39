package handler

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/pesio-ai/be-scm-requisitions/internal/errors"
	"github.com/pesio-ai/be-scm-requisitions/internal/logger"
	"github.com/pesio-ai/be-scm-requisitions/internal/metrics"
	"github.com/pesio-ai/be-scm-requisitions/internal/service"
	"github.com/pesio-ai/be-scm-requisitions/internal/validation"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	service *service.RequisitionService
	metrics *metrics.Collector
	log     *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler. A nil collector disables
// request metrics.
func NewHTTPHandler(service *service.RequisitionService, collector *metrics.Collector, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		service: service,
		metrics: collector,
		log:     log,
	}
}

// Register mounts the REST API under /api/v1 on mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	h.handle(mux, "POST /api/v1/requisitions", h.CreateRequisition)
	h.handle(mux, "GET /api/v1/requisitions", h.ListRequisitions)
	h.handle(mux, "GET /api/v1/requisitions/{id}", h.GetRequisition)
	h.handle(mux, "POST /api/v1/requisitions/{id}/submit", h.SubmitRequisition)
	h.handle(mux, "POST /api/v1/requisitions/{id}/actions", h.ActOnRequisition)
	h.handle(mux, "POST /api/v1/requisitions/{id}/cancel", h.CancelRequisition)
	h.handle(mux, "GET /api/v1/requisitions/{id}/history", h.GetHistory)
	h.handle(mux, "POST /api/v1/requisitions/{id}/quotations", h.AddQuotation)
	h.handle(mux, "GET /api/v1/requisitions/{id}/quotations", h.ListQuotations)
	h.handle(mux, "POST /api/v1/requisitions/{id}/quotations/{index}/select", h.SelectQuotation)
	h.handle(mux, "POST /api/v1/requisitions/{id}/execution/start", h.StartExecution)
	h.handle(mux, "POST /api/v1/requisitions/{id}/execution/complete", h.CompleteExecution)
	h.handle(mux, "GET /api/v1/approvals/pending", h.ListPendingApprovals)
	h.handle(mux, "GET /api/v1/categories", h.ListCategories)
	h.handle(mux, "GET /api/v1/categories/{code}", h.GetCategory)
	h.handle(mux, "POST /api/v1/categories/reload", h.ReloadCategories)
}

func (h *HTTPHandler) handle(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	mux.Handle(pattern, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r)
		if h.metrics != nil {
			h.metrics.RecordHTTPRequest(r.Method, pattern, fmt.Sprintf("%dxx", rec.status/100))
		}
	}))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// ── Requisitions ─────────────────────────────────────────────────────────────

// CreateRequisition handles create requisition HTTP requests
func (h *HTTPHandler) CreateRequisition(w http.ResponseWriter, r *http.Request) {
	var req service.CreateRequisitionRequest
	if !h.decode(w, r, &req) {
		return
	}

	requisition, err := h.service.CreateRequisition(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, requisition)
}

// GetRequisition handles get requisition HTTP requests
func (h *HTTPHandler) GetRequisition(w http.ResponseWriter, r *http.Request) {
	requisition, err := h.service.GetRequisition(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, requisition)
}

// ListRequisitions handles list requisitions HTTP requests
func (h *HTTPHandler) ListRequisitions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, pageSize := pageParams(r)
	req := &service.ListRequisitionsRequest{
		Status:       q.Get("status"),
		CategoryCode: q.Get("category_code"),
		DepartmentID: q.Get("department_id"),
		RequesterID:  q.Get("requester_id"),
		Page:         page,
		PageSize:     pageSize,
	}

	requisitions, total, err := h.service.ListRequisitions(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"requisitions": requisitions,
		"total":        total,
		"page":         page,
		"pageSize":     pageSize,
	})
}

// SubmitRequisition handles submit requisition HTTP requests
func (h *HTTPHandler) SubmitRequisition(w http.ResponseWriter, r *http.Request) {
	var req service.EmployeeRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.RequisitionID = r.PathValue("id")

	result, err := h.service.Submit(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ActOnRequisition handles step decision HTTP requests
func (h *HTTPHandler) ActOnRequisition(w http.ResponseWriter, r *http.Request) {
	var req service.ActionRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.RequisitionID = r.PathValue("id")

	result, err := h.service.Act(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// CancelRequisition handles cancel requisition HTTP requests
func (h *HTTPHandler) CancelRequisition(w http.ResponseWriter, r *http.Request) {
	var req service.EmployeeRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.RequisitionID = r.PathValue("id")

	requisition, err := h.service.Cancel(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, requisition)
}

// GetHistory handles approval log HTTP requests
func (h *HTTPHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.service.History(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

// ── Quotations ───────────────────────────────────────────────────────────────

// AddQuotation handles add quotation HTTP requests
func (h *HTTPHandler) AddQuotation(w http.ResponseWriter, r *http.Request) {
	var req service.AddQuotationRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.RequisitionID = r.PathValue("id")

	quotation, err := h.service.AddQuotation(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, quotation)
}

// ListQuotations handles list quotations HTTP requests
func (h *HTTPHandler) ListQuotations(w http.ResponseWriter, r *http.Request) {
	quotations, err := h.service.ListQuotations(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"quotations": quotations})
}

// SelectQuotation handles quotation pre-selection HTTP requests
func (h *HTTPHandler) SelectQuotation(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		h.writeError(w, r, errors.New(errors.ErrCodeInvalidQuotationIndex, "quotation index must be a number"))
		return
	}

	var req service.SelectQuotationRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.RequisitionID = r.PathValue("id")
	req.Index = index

	quotation, err := h.service.SelectQuotation(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quotation)
}

// ── Execution ────────────────────────────────────────────────────────────────

// StartExecution handles execution start HTTP requests
func (h *HTTPHandler) StartExecution(w http.ResponseWriter, r *http.Request) {
	var req service.ExecutionRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.RequisitionID = r.PathValue("id")

	requisition, err := h.service.StartExecution(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, requisition)
}

// CompleteExecution handles execution completion HTTP requests
func (h *HTTPHandler) CompleteExecution(w http.ResponseWriter, r *http.Request) {
	var req service.ExecutionRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.RequisitionID = r.PathValue("id")

	requisition, err := h.service.Complete(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, requisition)
}

// ── Approvals and categories ─────────────────────────────────────────────────

// ListPendingApprovals handles pending approval queue HTTP requests
func (h *HTTPHandler) ListPendingApprovals(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)
	requisitions, total, err := h.service.PendingApprovals(r.Context(), r.URL.Query().Get("role"), page, pageSize)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"requisitions": requisitions,
		"total":        total,
		"page":         page,
		"pageSize":     pageSize,
	})
}

// ListCategories handles list categories HTTP requests
func (h *HTTPHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.service.Categories(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": categories})
}

// GetCategory handles get category HTTP requests
func (h *HTTPHandler) GetCategory(w http.ResponseWriter, r *http.Request) {
	category, err := h.service.Category(r.Context(), r.PathValue("code"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, category)
}

// ReloadCategories handles category cache reload HTTP requests
func (h *HTTPHandler) ReloadCategories(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.ReloadCategories(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "reloaded", "categories": n})
}

// ── helpers ──────────────────────────────────────────────────────────────────

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Code       errors.Code            `json:"code"`
	Message    string                 `json:"message"`
	Field      string                 `json:"field,omitempty"`
	Violations []validation.Violation `json:"violations,omitempty"`
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.writeError(w, r, errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid request body"))
		return false
	}
	return true
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBody{Code: errors.ErrCodeInternal, Message: "internal error"}
	status := http.StatusInternalServerError

	if appErr, ok := errors.As(err); ok {
		body.Code = appErr.Code
		body.Field = appErr.Field
		status = appErr.HTTPStatus()
		if status != http.StatusInternalServerError {
			body.Message = appErr.Message
		}
	}
	var verr *validation.Error
	if stderrors.As(err, &verr) {
		body.Violations = verr.Violations
		body.Message = "validation failed"
	}

	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	} else {
		h.log.Debug().Err(err).Str("path", r.URL.Path).Str("code", string(body.Code)).Msg("Request refused")
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func pageParams(r *http.Request) (page, pageSize int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ = strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > service.MaxPageSize {
		pageSize = 50
	}
	return page, pageSize
}

// HealthHandler reports whether the store is reachable.
func HealthHandler(store Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}
}
