package handler

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-scm-requisitions/internal/catalog"
	"github.com/pesio-ai/be-scm-requisitions/internal/errors"
	"github.com/pesio-ai/be-scm-requisitions/internal/logger"
	"github.com/pesio-ai/be-scm-requisitions/internal/metrics"
	"github.com/pesio-ai/be-scm-requisitions/internal/repository"
	"github.com/pesio-ai/be-scm-requisitions/internal/seed"
	"github.com/pesio-ai/be-scm-requisitions/internal/service"
	"github.com/pesio-ai/be-scm-requisitions/internal/workflow"
)

type testServer struct {
	mux       *http.ServeMux
	collector *metrics.Collector
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := repository.NewMemoryStore()
	defs, err := seed.Reference()
	require.NoError(t, err)
	_, err = seed.Apply(context.Background(), store, defs, logger.Nop())
	require.NoError(t, err)

	collector := metrics.NewCollector(prometheus.NewRegistry())
	svc := service.NewRequisitionService(store, catalog.New(store, 0, logger.Nop()), nil, nil, collector, nil, logger.Nop())

	mux := http.NewServeMux()
	NewHTTPHandler(svc, collector, logger.Nop()).Register(mux)
	mux.Handle("GET /health", HealthHandler(store))
	return &testServer{mux: mux, collector: collector}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) createSubmitted(t *testing.T, code string, amount int64) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/requisitions", map[string]any{
		"category_code": code,
		"department_id": "dept-ops",
		"requester_id":  "emp-requester",
		"amount":        amount,
		"description":   "office supplies",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decodeBody[workflow.Requisition](t, rec).ID

	rec = s.do(t, http.MethodPost, "/api/v1/requisitions/"+id+"/submit", map[string]any{"employee_id": "emp-requester"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return id
}

func TestHTTP_CreateGetAndAct(t *testing.T) {
	s := newTestServer(t)
	id := s.createSubmitted(t, "STATIONARY", 100000)

	rec := s.do(t, http.MethodGet, "/api/v1/requisitions/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[workflow.Requisition](t, rec)
	assert.Equal(t, workflow.StatusInApproval, got.Status)
	assert.Equal(t, workflow.RoleHOD, got.CurrentStepRole)

	rec = s.do(t, http.MethodPost, "/api/v1/requisitions/"+id+"/actions", map[string]any{
		"actor_role_code":        "HOD",
		"acting_employee_id":     "emp-hod",
		"decision":               "SEND_INFO",
		"expected_step_sequence": 1,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decodeBody[service.ActionResult](t, rec)
	assert.Equal(t, 2, result.Requisition.CurrentStepSequence)
	require.NotNil(t, result.LogEntry)
	assert.Equal(t, workflow.LogActionSendInfo, result.LogEntry.Action)

	rec = s.do(t, http.MethodGet, "/api/v1/requisitions/"+id+"/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decodeBody[map[string][]workflow.ApprovalLogEntry](t, rec)
	assert.Len(t, history["history"], 1)

	rec = s.do(t, http.MethodGet, "/api/v1/requisitions?category_code=UNKNOWN", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	page := decodeBody[map[string]any](t, rec)
	assert.EqualValues(t, 0, page["total"])
	assert.Empty(t, page["requisitions"])

	rec = s.do(t, http.MethodGet, "/api/v1/approvals/pending?role=DEPARTMENT_ADMIN", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), id)
}

func TestHTTP_ErrorMapping(t *testing.T) {
	s := newTestServer(t)
	id := s.createSubmitted(t, "VEHICLE_REPAIR", 7500000)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   errors.Code
	}{
		{"malformed body", http.MethodPost, "/api/v1/requisitions", "{", http.StatusBadRequest, errors.ErrCodeInvalidInput},
		{"unknown field", http.MethodPost, "/api/v1/requisitions", map[string]any{"colour": "red"}, http.StatusBadRequest, errors.ErrCodeInvalidInput},
		{"not found", http.MethodGet, "/api/v1/requisitions/missing", nil, http.StatusNotFound, errors.ErrCodeNotFound},
		{"wrong actor", http.MethodPost, "/api/v1/requisitions/" + id + "/actions", map[string]any{
			"actor_role_code": "CEO", "acting_employee_id": "emp-ceo", "decision": "APPROVE",
		}, http.StatusForbidden, errors.ErrCodeWrongActor},
		{"stale step", http.MethodPost, "/api/v1/requisitions/" + id + "/actions", map[string]any{
			"actor_role_code": "HOD", "acting_employee_id": "emp-hod", "decision": "SEND_INFO", "expected_step_sequence": 3,
		}, http.StatusConflict, errors.ErrCodeStaleState},
		{"bad decision", http.MethodPost, "/api/v1/requisitions/" + id + "/actions", map[string]any{
			"actor_role_code": "HOD", "acting_employee_id": "emp-hod", "decision": "MAYBE",
		}, http.StatusBadRequest, errors.ErrCodeInvalidInput},
		{"non numeric index", http.MethodPost, "/api/v1/requisitions/" + id + "/quotations/two/select", map[string]any{
			"actor_role_code": "PROCUREMENT_COMMITTEE",
		}, http.StatusBadRequest, errors.ErrCodeInvalidQuotationIndex},
		{"unknown category", http.MethodGet, "/api/v1/categories/NOPE", nil, http.StatusNotFound, errors.ErrCodeNotFound},
		{"pending without role", http.MethodGet, "/api/v1/approvals/pending", nil, http.StatusBadRequest, errors.ErrCodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			body := decodeBody[errorBody](t, rec)
			assert.Equal(t, tt.code, body.Code)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestHTTP_ValidationViolations(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/requisitions", map[string]any{
		"category_code": "STATIONARY",
		"amount":        -5,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody[errorBody](t, rec)
	assert.Equal(t, errors.ErrCodeInvalidInput, body.Code)

	fields := make([]string, 0, len(body.Violations))
	for _, v := range body.Violations {
		fields = append(fields, v.Field)
	}
	assert.Contains(t, fields, "amount")
	assert.Contains(t, fields, "description")
}

func TestHTTP_QuotationGateIsUnprocessable(t *testing.T) {
	s := newTestServer(t)
	id := s.createSubmitted(t, "VEHICLE_REPAIR", 7500000)

	for _, role := range []string{"HOD", "PROCUREMENT_COMMITTEE", "DEPARTMENT_ADMIN"} {
		decision := "APPROVE"
		if role == "HOD" {
			decision = "SEND_INFO"
		}
		rec := s.do(t, http.MethodPost, "/api/v1/requisitions/"+id+"/actions", map[string]any{
			"actor_role_code": role, "acting_employee_id": "emp", "decision": decision,
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := s.do(t, http.MethodPost, "/api/v1/requisitions/"+id+"/actions", map[string]any{
		"actor_role_code": "PROCUREMENT_TEAM", "acting_employee_id": "emp-pt", "decision": "SEND_INFO",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, errors.ErrCodeQuotationRequirementNotMet, decodeBody[errorBody](t, rec).Code)

	rec = s.do(t, http.MethodPost, "/api/v1/requisitions/"+id+"/quotations", map[string]any{
		"actor_role_code": "PROCUREMENT_TEAM", "acting_employee_id": "emp-pt", "vendor_name": "Garage One", "amount": 7200000,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decodeBody[workflow.Quotation](t, rec).Position)

	rec = s.do(t, http.MethodGet, "/api/v1/requisitions/"+id+"/quotations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[map[string][]workflow.Quotation](t, rec)["quotations"], 1)
}

func TestHTTP_CategoriesAndHealth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/categories", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[map[string][]workflow.CategoryWorkflowDefinition](t, rec)["categories"], 11)

	rec = s.do(t, http.MethodPost, "/api/v1/categories/reload", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"reloaded"`)

	rec = s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	metricsRec := httptest.NewRecorder()
	s.collector.Handler().ServeHTTP(metricsRec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.True(t, strings.Contains(metricsRec.Body.String(), `route="GET /api/v1/categories"`))
}

func TestHealthHandler_Unhealthy(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthHandler(fakePinger{err: stderrors.New("down")}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
