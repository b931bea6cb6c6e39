package workflow

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-scm-requisitions/internal/errors"
)

// Outcome is the state change computed by the engine. The caller persists the
// updated requisition together with LogEntry and any quotation change in one
// transaction, guarded by ExpectedVersion and ExpectedStepSequence.
type Outcome struct {
	NewStatus              Status
	NewCurrentStepSequence int
	NewCurrentStepRole     string
	NewAmount              int64
	AmountConfirmed        bool
	WorkflowVersion        int

	LogEntry        *ApprovalLogEntry
	SelectQuotation *Quotation
	AddQuotation    *Quotation
	// Skipped lists CONDITIONAL steps passed over while advancing.
	Skipped []int

	PreviousStatus       Status
	ExpectedVersion      int
	ExpectedStepSequence int
	At                   time.Time
}

// ApplyTo returns req with the outcome applied and its version bumped.
func (o *Outcome) ApplyTo(req *Requisition) *Requisition {
	next := *req
	next.Status = o.NewStatus
	next.CurrentStepSequence = o.NewCurrentStepSequence
	next.CurrentStepRole = o.NewCurrentStepRole
	next.Amount = o.NewAmount
	next.AmountConfirmed = o.AmountConfirmed
	if o.WorkflowVersion != 0 {
		next.WorkflowVersion = o.WorkflowVersion
	}
	next.Version = req.Version + 1
	next.UpdatedAt = o.At

	at := o.At
	if o.PreviousStatus == StatusDraft && o.NewStatus != StatusDraft && o.NewStatus != StatusCancelled {
		next.SubmittedAt = &at
	}
	if o.NewStatus != o.PreviousStatus {
		switch o.NewStatus {
		case StatusApproved, StatusRejected, StatusCompleted, StatusCancelled:
			next.CompletedAt = &at
		}
	}
	return &next
}

// StatusChanged reports whether the outcome moves the requisition to a new status.
func (o *Outcome) StatusChanged() bool {
	return o.NewStatus != o.PreviousStatus
}

// Engine computes requisition transitions. It holds no mutable state.
type Engine struct {
	now   func() time.Time
	newID func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator overrides how log entry and quotation ids are minted.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

// NewEngine creates an Engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ── Submission ───────────────────────────────────────────────────────────────

// Submit moves a DRAFT requisition into approval, binding it to def's version
// and to the first applicable step.
func (e *Engine) Submit(req *Requisition, def *CategoryWorkflowDefinition, employeeID string) (*Outcome, error) {
	if req.Status != StatusDraft {
		return nil, errors.Newf(errors.ErrCodeInvalidStateTransition,
			"cannot submit a requisition in status %s", req.Status)
	}
	if req.RequesterID != "" && employeeID != req.RequesterID {
		return nil, errors.New(errors.ErrCodeWrongActor, "only the requester can submit the requisition")
	}
	if req.CategoryID != "" && def.CategoryID != "" && req.CategoryID != def.CategoryID {
		return nil, errors.Newf(errors.ErrCodeInvalidInput,
			"workflow of category %s cannot be bound to a requisition of category %s", def.CategoryID, req.CategoryID)
	}

	out := e.base(req)
	out.WorkflowVersion = def.Version

	steps := ApplicableSteps(def, req)
	if len(steps) == 0 {
		out.NewStatus = StatusApproved
		out.NewCurrentStepSequence = 0
		out.NewCurrentStepRole = ""
		out.Skipped = SkippedBetween(def, req, 0, 0)
		return out, nil
	}

	first := steps[0]
	out.NewStatus = StatusInApproval
	out.NewCurrentStepSequence = first.SequenceNumber
	out.NewCurrentStepRole = first.RoleCode
	out.Skipped = SkippedBetween(def, req, 0, first.SequenceNumber)
	return out, nil
}

// ── Step actions ─────────────────────────────────────────────────────────────

// Apply evaluates an actor's action against the current step.
//
// Validation failures return an error and no outcome. A REJECT decision is a
// successful call whose outcome carries StatusRejected.
func (e *Engine) Apply(
	req *Requisition,
	def *CategoryWorkflowDefinition,
	history []ApprovalLogEntry,
	quotations []Quotation,
	action Action,
) (*Outcome, error) {
	if req.Status != StatusInApproval {
		return nil, errors.Newf(errors.ErrCodeInvalidStateTransition,
			"requisition is not in approval (status: %s)", req.Status)
	}
	if err := checkBinding(req, def); err != nil {
		return nil, err
	}

	remaining := RemainingSteps(def, req, req.CurrentStepSequence)
	if len(remaining) == 0 {
		return nil, errors.New(errors.ErrCodeNoStepsRemaining, "no applicable steps remain")
	}
	step := remaining[0]

	if actedUpon(history, step.SequenceNumber) {
		return nil, errors.StaleState(fmt.Sprintf("step %d has already been acted upon", step.SequenceNumber))
	}
	if action.ActorRoleCode != step.RoleCode {
		return nil, errors.Newf(errors.ErrCodeWrongActor,
			"step %d awaits %s, not %s", step.SequenceNumber, step.RoleCode, action.ActorRoleCode)
	}

	out := e.base(req)

	switch step.Semantic() {
	case ApprovalTypeInfo:
		if def.IsCollectionStep(step) {
			if gate := CanAdvancePastQuotationStep(def, quotations); !gate.Allowed {
				return nil, errors.New(errors.ErrCodeQuotationRequirementNotMet, gate.Reason)
			}
		}
		out.LogEntry = e.entry(req, step, action, LogActionSendInfo)
		e.advance(out, def, req, step)
		return out, nil

	case ApprovalTypeApproval:
		switch action.Decision {
		case DecisionApprove:
			working := *req
			if def.IsSelectionStep(step) {
				q, err := CheckSelection(quotations, action.QuotationIndex)
				if err != nil {
					return nil, err
				}
				working.Amount, working.AmountConfirmed = amountAfterSelection(def, req, q)
				out.NewAmount = working.Amount
				out.AmountConfirmed = working.AmountConfirmed
				q.IsSelected = true
				out.SelectQuotation = &q
			}
			out.LogEntry = e.entry(req, step, action, LogActionApprove)
			e.advance(out, def, &working, step)
			return out, nil

		case DecisionReject:
			out.LogEntry = e.entry(req, step, action, LogActionReject)
			out.NewStatus = StatusRejected
			out.NewCurrentStepSequence = step.SequenceNumber
			out.NewCurrentStepRole = ""
			return out, nil

		default:
			return nil, errors.Newf(errors.ErrCodeInvalidDecision,
				"step %d requires APPROVE or REJECT, got %q", step.SequenceNumber, action.Decision)
		}
	}

	return nil, errors.Newf(errors.ErrCodeInternal, "step %d has unsupported approval type %q",
		step.SequenceNumber, step.ApprovalType)
}

// ── Quotations ───────────────────────────────────────────────────────────────

// AddQuotation records a vendor quotation while the collection step is current.
func (e *Engine) AddQuotation(
	req *Requisition,
	def *CategoryWorkflowDefinition,
	quotations []Quotation,
	actorRoleCode string,
	q Quotation,
) (*Outcome, error) {
	if _, err := e.currentQuotationStep(req, def, actorRoleCode, def.IsCollectionStep, "collection"); err != nil {
		return nil, err
	}
	if q.Amount < 0 {
		return nil, errors.InvalidInput("amount", "quotation amount cannot be negative")
	}

	position := 0
	for _, existing := range quotations {
		if existing.Position > position {
			position = existing.Position
		}
	}

	out := e.base(req)
	q.ID = e.newID()
	q.RequisitionID = req.ID
	q.Position = position + 1
	q.IsSelected = false
	q.CreatedAt = out.At
	if q.QuotationDate.IsZero() {
		q.QuotationDate = out.At
	}
	out.AddQuotation = &q
	return out, nil
}

// SelectQuotation flags the quotation at index while the selection step is
// current. The amount policy is applied when the step is approved.
func (e *Engine) SelectQuotation(
	req *Requisition,
	def *CategoryWorkflowDefinition,
	quotations []Quotation,
	actorRoleCode string,
	index int,
) (*Outcome, error) {
	if _, err := e.currentQuotationStep(req, def, actorRoleCode, def.IsSelectionStep, "selection"); err != nil {
		return nil, err
	}
	if index == 0 {
		return nil, errors.New(errors.ErrCodeInvalidQuotationIndex, "quotation index must be 1 or greater")
	}
	q, err := CheckSelection(quotations, index)
	if err != nil {
		return nil, err
	}

	out := e.base(req)
	q.IsSelected = true
	out.SelectQuotation = &q
	return out, nil
}

func (e *Engine) currentQuotationStep(
	req *Requisition,
	def *CategoryWorkflowDefinition,
	actorRoleCode string,
	match func(ApprovalStepDefinition) bool,
	what string,
) (ApprovalStepDefinition, error) {
	if req.Status != StatusInApproval {
		return ApprovalStepDefinition{}, errors.Newf(errors.ErrCodeInvalidStateTransition,
			"requisition is not in approval (status: %s)", req.Status)
	}
	if !def.RequiresQuotation {
		return ApprovalStepDefinition{}, errors.Newf(errors.ErrCodeInvalidStateTransition,
			"category %s does not use quotations", def.CategoryCode)
	}
	if err := checkBinding(req, def); err != nil {
		return ApprovalStepDefinition{}, err
	}
	remaining := RemainingSteps(def, req, req.CurrentStepSequence)
	if len(remaining) == 0 {
		return ApprovalStepDefinition{}, errors.New(errors.ErrCodeNoStepsRemaining, "no applicable steps remain")
	}
	step := remaining[0]
	if !match(step) {
		return ApprovalStepDefinition{}, errors.Newf(errors.ErrCodeInvalidStateTransition,
			"current step %d is not the quotation %s step", step.SequenceNumber, what)
	}
	if actorRoleCode != step.RoleCode {
		return ApprovalStepDefinition{}, errors.Newf(errors.ErrCodeWrongActor,
			"quotation %s belongs to %s, not %s", what, step.RoleCode, actorRoleCode)
	}
	return step, nil
}

// ── Withdrawal and execution ─────────────────────────────────────────────────

// Cancel withdraws a requisition that has not finished approval. Only the
// requester may cancel.
func (e *Engine) Cancel(req *Requisition, employeeID string) (*Outcome, error) {
	if req.Status != StatusDraft && req.Status != StatusInApproval {
		return nil, errors.Newf(errors.ErrCodeInvalidStateTransition,
			"requisition cannot be cancelled from status %s", req.Status)
	}
	if req.RequesterID != "" && employeeID != req.RequesterID {
		return nil, errors.New(errors.ErrCodeWrongActor, "only the requester can cancel the requisition")
	}
	out := e.base(req)
	out.NewStatus = StatusCancelled
	out.NewCurrentStepRole = ""
	return out, nil
}

// StartExecution hands an approved requisition to its execution department.
func (e *Engine) StartExecution(req *Requisition, def *CategoryWorkflowDefinition, department ExecutionDepartment) (*Outcome, error) {
	return e.execute(req, def, department, StatusApproved, StatusExecuting)
}

// Complete closes a requisition the execution department has carried out.
func (e *Engine) Complete(req *Requisition, def *CategoryWorkflowDefinition, department ExecutionDepartment) (*Outcome, error) {
	return e.execute(req, def, department, StatusExecuting, StatusCompleted)
}

func (e *Engine) execute(
	req *Requisition,
	def *CategoryWorkflowDefinition,
	department ExecutionDepartment,
	from, to Status,
) (*Outcome, error) {
	if req.Status != from {
		return nil, errors.Newf(errors.ErrCodeInvalidStateTransition,
			"cannot move from %s to %s", req.Status, to)
	}
	if department != def.ExecutionDepartment {
		return nil, errors.Newf(errors.ErrCodeWrongActor,
			"category %s is executed by %s, not %s", def.CategoryCode, def.ExecutionDepartment, department)
	}
	out := e.base(req)
	out.NewStatus = to
	return out, nil
}

// ── helpers ──────────────────────────────────────────────────────────────────

func (e *Engine) base(req *Requisition) *Outcome {
	return &Outcome{
		NewStatus:              req.Status,
		NewCurrentStepSequence: req.CurrentStepSequence,
		NewCurrentStepRole:     req.CurrentStepRole,
		NewAmount:              req.Amount,
		AmountConfirmed:        req.AmountConfirmed,
		PreviousStatus:         req.Status,
		ExpectedVersion:        req.Version,
		ExpectedStepSequence:   req.CurrentStepSequence,
		At:                     e.now(),
	}
}

// advance moves past step using the working requisition's amount, so a
// quotation selection on this step already shapes which later steps apply.
func (e *Engine) advance(out *Outcome, def *CategoryWorkflowDefinition, working *Requisition, step ApprovalStepDefinition) {
	next, ok := NextApplicable(def, working, step.SequenceNumber)
	if !ok {
		out.NewStatus = StatusApproved
		out.NewCurrentStepSequence = step.SequenceNumber
		out.NewCurrentStepRole = ""
		out.Skipped = SkippedBetween(def, working, step.SequenceNumber, 0)
		return
	}
	out.NewStatus = StatusInApproval
	out.NewCurrentStepSequence = next.SequenceNumber
	out.NewCurrentStepRole = next.RoleCode
	out.Skipped = SkippedBetween(def, working, step.SequenceNumber, next.SequenceNumber)
}

func (e *Engine) entry(req *Requisition, step ApprovalStepDefinition, action Action, logAction LogAction) *ApprovalLogEntry {
	return &ApprovalLogEntry{
		ID:                 e.newID(),
		RequisitionID:      req.ID,
		StepSequenceNumber: step.SequenceNumber,
		ActorRoleCode:      action.ActorRoleCode,
		ActingEmployeeID:   action.ActingEmployeeID,
		Action:             logAction,
		Comments:           action.Comments,
		Timestamp:          e.now(),
	}
}

func checkBinding(req *Requisition, def *CategoryWorkflowDefinition) error {
	if req.WorkflowVersion != 0 && def.Version != 0 && req.WorkflowVersion != def.Version {
		return errors.Newf(errors.ErrCodeInternal,
			"requisition is bound to workflow version %d, got version %d", req.WorkflowVersion, def.Version)
	}
	return nil
}

func actedUpon(history []ApprovalLogEntry, sequence int) bool {
	for _, entry := range history {
		if entry.StepSequenceNumber == sequence && entry.Action != LogActionSkippedConditional {
			return true
		}
	}
	return false
}
