package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/pesio-ai/be-scm-requisitions/internal/catalog"
	"github.com/pesio-ai/be-scm-requisitions/internal/client"
	"github.com/pesio-ai/be-scm-requisitions/internal/errors"
	"github.com/pesio-ai/be-scm-requisitions/internal/logger"
	"github.com/pesio-ai/be-scm-requisitions/internal/metrics"
	"github.com/pesio-ai/be-scm-requisitions/internal/repository"
	"github.com/pesio-ai/be-scm-requisitions/internal/validation"
	"github.com/pesio-ai/be-scm-requisitions/internal/workflow"
)

// DefaultCurrency applies when a requisition is created without one.
const DefaultCurrency = "USD"

// MaxPageSize caps list requests.
const MaxPageSize = 200

// RequisitionService orchestrates requisitions: it loads a consistent
// snapshot, runs the workflow engine and commits the outcome atomically.
type RequisitionService struct {
	store     repository.Store
	catalog   *catalog.Catalog
	engine    *workflow.Engine
	publisher *client.NotificationPublisher
	metrics   *metrics.Collector
	tracer    trace.Tracer
	log       *logger.Logger
	now       func() time.Time
	newID     func() string
}

// NewRequisitionService creates a new RequisitionService. A nil publisher
// disables notifications; nil metrics and tracer fall back to private
// no-op instances.
func NewRequisitionService(
	store repository.Store,
	cat *catalog.Catalog,
	engine *workflow.Engine,
	publisher *client.NotificationPublisher,
	collector *metrics.Collector,
	tracer trace.Tracer,
	log *logger.Logger,
) *RequisitionService {
	if engine == nil {
		engine = workflow.NewEngine()
	}
	if collector == nil {
		collector = metrics.NewCollector(nil)
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RequisitionService{
		store:     store,
		catalog:   cat,
		engine:    engine,
		publisher: publisher,
		metrics:   collector,
		tracer:    tracer,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// ── Requests ─────────────────────────────────────────────────────────────────

// CreateRequisitionRequest represents a create requisition request
type CreateRequisitionRequest struct {
	CategoryCode string   `json:"category_code" validate:"required,max=64"`
	BranchID     string   `json:"branch_id" validate:"max=64"`
	DepartmentID string   `json:"department_id" validate:"required,max=64"`
	RequesterID  string   `json:"requester_id" validate:"required,max=64"`
	Amount       int64    `json:"amount" validate:"gte=0"`
	Currency     string   `json:"currency" validate:"omitempty,len=3,uppercase"`
	Description  string   `json:"description" validate:"required,max=4000"`
	Attachments  []string `json:"attachments" validate:"omitempty,max=20,dive,required,max=1024"`
}

// ListRequisitionsRequest represents a list requisitions request
type ListRequisitionsRequest struct {
	Status       string `json:"status" validate:"omitempty,oneof=DRAFT IN_APPROVAL APPROVED REJECTED EXECUTING COMPLETED CANCELLED"`
	CategoryCode string `json:"category_code"`
	DepartmentID string `json:"department_id"`
	RequesterID  string `json:"requester_id"`
	Page         int    `json:"page" validate:"gte=0"`
	PageSize     int    `json:"page_size" validate:"gte=0"`
}

// EmployeeRequest identifies the employee submitting or cancelling a requisition.
type EmployeeRequest struct {
	RequisitionID string `json:"-"`
	EmployeeID    string `json:"employee_id" validate:"required,max=64"`
}

// ActionRequest represents an actor's decision on the current step
type ActionRequest struct {
	RequisitionID    string `json:"-"`
	ActorRoleCode    string `json:"actor_role_code" validate:"required,max=64"`
	ActingEmployeeID string `json:"acting_employee_id" validate:"required,max=64"`
	Decision         string `json:"decision" validate:"required,decision"`
	Comments         string `json:"comments" validate:"max=4000"`
	QuotationIndex   int    `json:"quotation_index" validate:"gte=0"`
	// ExpectedStepSequence, when set, must equal the current step or the
	// action fails as stale.
	ExpectedStepSequence *int `json:"expected_step_sequence,omitempty" validate:"omitempty,gte=0"`
}

// AddQuotationRequest represents a vendor quotation entered on the collection step
type AddQuotationRequest struct {
	RequisitionID    string     `json:"-"`
	ActorRoleCode    string     `json:"actor_role_code" validate:"required,max=64"`
	ActingEmployeeID string     `json:"acting_employee_id" validate:"max=64"`
	VendorName       string     `json:"vendor_name" validate:"required,max=255"`
	Amount           int64      `json:"amount" validate:"gte=0"`
	QuotationDate    *time.Time `json:"quotation_date,omitempty"`
}

// SelectQuotationRequest represents a pre-selection on the selection step
type SelectQuotationRequest struct {
	RequisitionID string `json:"-"`
	ActorRoleCode string `json:"actor_role_code" validate:"required,max=64"`
	Index         int    `json:"-"`
}

// ExecutionRequest represents an execution department acting on an approved requisition
type ExecutionRequest struct {
	RequisitionID    string `json:"-"`
	Department       string `json:"department" validate:"required,department"`
	ActingEmployeeID string `json:"acting_employee_id" validate:"max=64"`
}

// ActionResult is the committed effect of a step action.
type ActionResult struct {
	Requisition *workflow.Requisition      `json:"requisition"`
	LogEntry    *workflow.ApprovalLogEntry `json:"log_entry,omitempty"`
	Skipped     []int                      `json:"skipped_steps,omitempty"`
}

// ── Queries ──────────────────────────────────────────────────────────────────

// GetRequisition returns a requisition by id
func (s *RequisitionService) GetRequisition(ctx context.Context, id string) (*workflow.Requisition, error) {
	return s.store.GetRequisition(ctx, id)
}

// ListRequisitions lists requisitions matching req; it returns the page and the total count.
func (s *RequisitionService) ListRequisitions(ctx context.Context, req *ListRequisitionsRequest) ([]*workflow.Requisition, int64, error) {
	if err := validation.Struct(req); err != nil {
		return nil, 0, err
	}
	filter := repository.RequisitionFilter{
		Status:       workflow.Status(req.Status),
		DepartmentID: req.DepartmentID,
		RequesterID:  req.RequesterID,
	}
	if req.CategoryCode != "" {
		def, err := s.catalog.Current(ctx, req.CategoryCode)
		if errors.HasCode(err, errors.ErrCodeNotFound) {
			return []*workflow.Requisition{}, 0, nil
		}
		if err != nil {
			return nil, 0, err
		}
		filter.CategoryID = def.CategoryID
	}
	filter.Limit, filter.Offset = paginate(req.Page, req.PageSize)
	return s.store.ListRequisitions(ctx, filter)
}

// PendingApprovals lists IN_APPROVAL requisitions whose current step awaits role.
func (s *RequisitionService) PendingApprovals(ctx context.Context, role string, page, pageSize int) ([]*workflow.Requisition, int64, error) {
	if strings.TrimSpace(role) == "" {
		return nil, 0, errors.InvalidInput("role", "role is required")
	}
	filter := repository.RequisitionFilter{
		Status:      workflow.StatusInApproval,
		PendingRole: role,
	}
	filter.Limit, filter.Offset = paginate(page, pageSize)
	return s.store.ListRequisitions(ctx, filter)
}

// History returns the approval log of a requisition in step order.
func (s *RequisitionService) History(ctx context.Context, id string) ([]workflow.ApprovalLogEntry, error) {
	if _, err := s.store.GetRequisition(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListApprovalLog(ctx, id)
}

// ListQuotations returns the quotations collected for a requisition by position.
func (s *RequisitionService) ListQuotations(ctx context.Context, id string) ([]workflow.Quotation, error) {
	if _, err := s.store.GetRequisition(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListQuotations(ctx, id)
}

// Categories returns the current definition of every category.
func (s *RequisitionService) Categories(ctx context.Context) ([]*workflow.CategoryWorkflowDefinition, error) {
	return s.catalog.List(ctx)
}

// Category returns the current definition of a category by code.
func (s *RequisitionService) Category(ctx context.Context, code string) (*workflow.CategoryWorkflowDefinition, error) {
	return s.catalog.Current(ctx, code)
}

// ReloadCategories drops cached current definitions and reloads them from the store.
func (s *RequisitionService) ReloadCategories(ctx context.Context) (int, error) {
	n, err := s.catalog.Reload(ctx)
	if err != nil {
		return 0, err
	}
	s.log.Info().Int("categories", n).Msg("Category catalog reloaded")
	return n, nil
}

// ── Commands ─────────────────────────────────────────────────────────────────

// CreateRequisition creates a DRAFT requisition in the given category.
func (s *RequisitionService) CreateRequisition(ctx context.Context, req *CreateRequisitionRequest) (_ *workflow.Requisition, err error) {
	ctx, done := s.begin(ctx, "create", attribute.String("category.code", req.CategoryCode))
	defer done(&err)

	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	def, err := s.catalog.Current(ctx, req.CategoryCode)
	if err != nil {
		return nil, err
	}

	currency := req.Currency
	if currency == "" {
		currency = DefaultCurrency
	}
	now := s.now()
	r := &workflow.Requisition{
		ID:           s.newID(),
		CategoryID:   def.CategoryID,
		BranchID:     req.BranchID,
		DepartmentID: req.DepartmentID,
		RequesterID:  req.RequesterID,
		Amount:       req.Amount,
		Currency:     currency,
		Status:       workflow.StatusDraft,
		Description:  req.Description,
		Attachments:  req.Attachments,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateRequisition(ctx, r); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("requisition_id", r.ID).
		Str("category", def.CategoryCode).
		Int64("amount", r.Amount).
		Msg("Requisition created")
	return r, nil
}

// Submit moves a DRAFT requisition into approval under the current version
// of its category.
func (s *RequisitionService) Submit(ctx context.Context, req *EmployeeRequest) (_ *ActionResult, err error) {
	ctx, done := s.begin(ctx, "submit", attribute.String("requisition.id", req.RequisitionID))
	defer done(&err)

	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	r, err := s.store.GetRequisition(ctx, req.RequisitionID)
	if err != nil {
		return nil, err
	}
	def, err := s.catalog.CurrentByID(ctx, r.CategoryID)
	if err != nil {
		return nil, err
	}

	out, err := s.engine.Submit(r, def, req.EmployeeID)
	if err != nil {
		return nil, err
	}
	next, err := s.commit(ctx, def, r, out)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("requisition_id", next.ID).
		Int("workflow_version", next.WorkflowVersion).
		Int("current_step", next.CurrentStepSequence).
		Ints("skipped_steps", out.Skipped).
		Msg("Requisition submitted")

	s.publish(ctx, client.EventRequisitionSubmitted, next, req.EmployeeID, []string{next.RequesterID}, false)
	s.notifyAdvance(ctx, def, next, req.EmployeeID)
	return &ActionResult{Requisition: next, Skipped: out.Skipped}, nil
}

// Act applies an actor's decision to the current step of a requisition.
func (s *RequisitionService) Act(ctx context.Context, req *ActionRequest) (_ *ActionResult, err error) {
	ctx, done := s.begin(ctx, "act",
		attribute.String("requisition.id", req.RequisitionID),
		attribute.String("actor.role", req.ActorRoleCode),
		attribute.String("decision", req.Decision))
	defer done(&err)

	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	snap, err := s.load(ctx, req.RequisitionID, true)
	if err != nil {
		return nil, err
	}
	if req.ExpectedStepSequence != nil && *req.ExpectedStepSequence != snap.req.CurrentStepSequence {
		s.metrics.RecordStaleCommit()
		return nil, errors.StaleState(fmt.Sprintf("expected step %d, requisition is at step %d",
			*req.ExpectedStepSequence, snap.req.CurrentStepSequence))
	}

	out, err := s.engine.Apply(snap.req, snap.def, snap.history, snap.quotations, workflow.Action{
		ActorRoleCode:    req.ActorRoleCode,
		ActingEmployeeID: req.ActingEmployeeID,
		Decision:         workflow.Decision(req.Decision),
		Comments:         req.Comments,
		QuotationIndex:   req.QuotationIndex,
	})
	if err != nil {
		return nil, err
	}
	next, err := s.commit(ctx, snap.def, snap.req, out)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("requisition_id", next.ID).
		Int("step", out.LogEntry.StepSequenceNumber).
		Str("role", req.ActorRoleCode).
		Str("action", string(out.LogEntry.Action)).
		Str("status", string(next.Status)).
		Ints("skipped_steps", out.Skipped).
		Msg("Requisition step acted")

	if next.Status == workflow.StatusRejected {
		s.publish(ctx, client.EventRequisitionRejected, next, req.ActingEmployeeID, []string{next.RequesterID}, false)
	} else {
		s.notifyAdvance(ctx, snap.def, next, req.ActingEmployeeID)
	}
	return &ActionResult{Requisition: next, LogEntry: out.LogEntry, Skipped: out.Skipped}, nil
}

// AddQuotation records a vendor quotation on the collection step.
func (s *RequisitionService) AddQuotation(ctx context.Context, req *AddQuotationRequest) (_ *workflow.Quotation, err error) {
	ctx, done := s.begin(ctx, "add_quotation", attribute.String("requisition.id", req.RequisitionID))
	defer done(&err)

	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	snap, err := s.load(ctx, req.RequisitionID, false)
	if err != nil {
		return nil, err
	}

	q := workflow.Quotation{
		VendorName: req.VendorName,
		Amount:     req.Amount,
		CreatedBy:  req.ActingEmployeeID,
	}
	if req.QuotationDate != nil {
		q.QuotationDate = req.QuotationDate.UTC()
	}
	out, err := s.engine.AddQuotation(snap.req, snap.def, snap.quotations, req.ActorRoleCode, q)
	if err != nil {
		return nil, err
	}
	next, err := s.commit(ctx, snap.def, snap.req, out)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("requisition_id", next.ID).
		Int("position", out.AddQuotation.Position).
		Str("vendor", q.VendorName).
		Msg("Quotation added")

	s.publish(ctx, client.EventQuotationAdded, next, req.ActingEmployeeID, []string{req.ActorRoleCode}, false)
	return out.AddQuotation, nil
}

// SelectQuotation flags the quotation at position Index on the selection step.
func (s *RequisitionService) SelectQuotation(ctx context.Context, req *SelectQuotationRequest) (_ *workflow.Quotation, err error) {
	ctx, done := s.begin(ctx, "select_quotation",
		attribute.String("requisition.id", req.RequisitionID),
		attribute.Int("quotation.index", req.Index))
	defer done(&err)

	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	snap, err := s.load(ctx, req.RequisitionID, false)
	if err != nil {
		return nil, err
	}
	out, err := s.engine.SelectQuotation(snap.req, snap.def, snap.quotations, req.ActorRoleCode, req.Index)
	if err != nil {
		return nil, err
	}
	if _, err := s.commit(ctx, snap.def, snap.req, out); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("requisition_id", req.RequisitionID).
		Int("position", out.SelectQuotation.Position).
		Msg("Quotation selected")
	return out.SelectQuotation, nil
}

// Cancel withdraws a requisition on behalf of its requester.
func (s *RequisitionService) Cancel(ctx context.Context, req *EmployeeRequest) (_ *workflow.Requisition, err error) {
	ctx, done := s.begin(ctx, "cancel", attribute.String("requisition.id", req.RequisitionID))
	defer done(&err)

	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	r, err := s.store.GetRequisition(ctx, req.RequisitionID)
	if err != nil {
		return nil, err
	}
	out, err := s.engine.Cancel(r, req.EmployeeID)
	if err != nil {
		return nil, err
	}
	def, err := s.definitionFor(ctx, r)
	if err != nil {
		return nil, err
	}
	next, err := s.commit(ctx, def, r, out)
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("requisition_id", next.ID).Msg("Requisition cancelled")

	var recipients []string
	if r.CurrentStepRole != "" {
		recipients = append(recipients, r.CurrentStepRole)
	}
	s.publish(ctx, client.EventRequisitionCancelled, next, req.EmployeeID, recipients, false)
	return next, nil
}

// StartExecution hands an approved requisition to its execution department.
func (s *RequisitionService) StartExecution(ctx context.Context, req *ExecutionRequest) (*workflow.Requisition, error) {
	return s.execute(ctx, "start_execution", req, s.engine.StartExecution, client.EventRequisitionExecuting)
}

// Complete closes a requisition its execution department has carried out.
func (s *RequisitionService) Complete(ctx context.Context, req *ExecutionRequest) (*workflow.Requisition, error) {
	return s.execute(ctx, "complete", req, s.engine.Complete, client.EventRequisitionCompleted)
}

type executeFunc func(*workflow.Requisition, *workflow.CategoryWorkflowDefinition, workflow.ExecutionDepartment) (*workflow.Outcome, error)

func (s *RequisitionService) execute(
	ctx context.Context,
	op string,
	req *ExecutionRequest,
	transition executeFunc,
	event string,
) (_ *workflow.Requisition, err error) {
	ctx, done := s.begin(ctx, op,
		attribute.String("requisition.id", req.RequisitionID),
		attribute.String("department", req.Department))
	defer done(&err)

	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	r, err := s.store.GetRequisition(ctx, req.RequisitionID)
	if err != nil {
		return nil, err
	}
	def, err := s.definitionFor(ctx, r)
	if err != nil {
		return nil, err
	}
	out, err := transition(r, def, workflow.ExecutionDepartment(req.Department))
	if err != nil {
		return nil, err
	}
	next, err := s.commit(ctx, def, r, out)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("requisition_id", next.ID).
		Str("department", req.Department).
		Str("status", string(next.Status)).
		Msg("Requisition execution updated")

	s.publish(ctx, event, next, req.ActingEmployeeID, []string{next.RequesterID}, false)
	return next, nil
}

// ── helpers ──────────────────────────────────────────────────────────────────

type snapshot struct {
	req        *workflow.Requisition
	def        *workflow.CategoryWorkflowDefinition
	history    []workflow.ApprovalLogEntry
	quotations []workflow.Quotation
}

// load reads the requisition, its bound definition, its quotations and
// optionally its history. The commit's version check rejects the outcome if
// any of it changes before the write.
func (s *RequisitionService) load(ctx context.Context, id string, withHistory bool) (*snapshot, error) {
	r, err := s.store.GetRequisition(ctx, id)
	if err != nil {
		return nil, err
	}
	def, err := s.definitionFor(ctx, r)
	if err != nil {
		return nil, err
	}
	quotations, err := s.store.ListQuotations(ctx, id)
	if err != nil {
		return nil, err
	}
	snap := &snapshot{req: r, def: def, quotations: quotations}
	if withHistory {
		if snap.history, err = s.store.ListApprovalLog(ctx, id); err != nil {
			return nil, err
		}
	}
	return snap, nil
}

// definitionFor returns the version a requisition is bound to, or the current
// version while it is still a draft.
func (s *RequisitionService) definitionFor(ctx context.Context, r *workflow.Requisition) (*workflow.CategoryWorkflowDefinition, error) {
	if r.WorkflowVersion == 0 {
		return s.catalog.CurrentByID(ctx, r.CategoryID)
	}
	return s.catalog.Version(ctx, r.CategoryID, r.WorkflowVersion)
}

func (s *RequisitionService) commit(
	ctx context.Context,
	def *workflow.CategoryWorkflowDefinition,
	r *workflow.Requisition,
	out *workflow.Outcome,
) (*workflow.Requisition, error) {
	next := out.ApplyTo(r)
	if err := s.store.Commit(ctx, next, out); err != nil {
		if errors.HasCode(err, errors.ErrCodeStaleState) {
			s.metrics.RecordStaleCommit()
			s.log.Warn().
				Str("requisition_id", r.ID).
				Int("expected_version", out.ExpectedVersion).
				Msg("Requisition changed concurrently; outcome discarded")
		}
		return nil, err
	}

	category := def.CategoryCode
	if out.StatusChanged() {
		s.metrics.RecordTransition(category, string(out.PreviousStatus), string(out.NewStatus))
	}
	if out.LogEntry != nil {
		s.metrics.RecordStepAction(category, out.LogEntry.ActorRoleCode, string(out.LogEntry.Action))
	}
	s.metrics.RecordSkipped(category, len(out.Skipped))
	if out.AddQuotation != nil {
		s.metrics.RecordQuotation(category, "add")
	}
	if out.SelectQuotation != nil {
		s.metrics.RecordQuotation(category, "select")
	}
	return next, nil
}

// notifyAdvance tells the next role its approval is required, or announces
// final approval to the requester and the execution department.
func (s *RequisitionService) notifyAdvance(ctx context.Context, def *workflow.CategoryWorkflowDefinition, r *workflow.Requisition, actorID string) {
	switch r.Status {
	case workflow.StatusInApproval:
		s.publish(ctx, client.EventRequisitionApprovalRequired, r, actorID, []string{r.CurrentStepRole}, true)
	case workflow.StatusApproved:
		s.publish(ctx, client.EventRequisitionApproved, r, actorID,
			[]string{r.RequesterID, string(def.ExecutionDepartment)}, false)
	}
}

func (s *RequisitionService) publish(ctx context.Context, event string, r *workflow.Requisition, actorID string, recipients []string, actionable bool) {
	s.publisher.PublishRequisitionEvent(ctx, event, r.ID, actorID, recipients, actionable, map[string]any{
		"status":        string(r.Status),
		"step_sequence": r.CurrentStepSequence,
		"step_role":     r.CurrentStepRole,
		"amount":        r.Amount,
		"currency":      r.Currency,
		"department_id": r.DepartmentID,
	})
}

// begin starts a span for op and returns the function that ends it, recording
// err and the operation duration.
func (s *RequisitionService) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "requisition."+op, trace.WithAttributes(attrs...))
	return ctx, func(errp *error) {
		if err := *errp; err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.metrics.RecordRefused(op, string(errors.CodeOf(err)))
		}
		s.metrics.ObserveOperation(op, time.Since(start))
		span.End()
	}
}

func paginate(page, pageSize int) (limit, offset int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = repository.DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return pageSize, (page - 1) * pageSize
}
