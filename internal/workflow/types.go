// Package workflow implements the requisition approval workflow: category step
// definitions, step applicability, the quotation gate and the transition engine.
//
// Everything in this package is pure. Callers load a consistent snapshot,
// invoke the engine and persist the returned outcome atomically.
package workflow

import "time"

// ── Enumerations ─────────────────────────────────────────────────────────────

// ApprovalType is the semantic of a step.
type ApprovalType string

const (
	ApprovalTypeInfo        ApprovalType = "INFO"
	ApprovalTypeApproval    ApprovalType = "APPROVAL"
	ApprovalTypeConditional ApprovalType = "CONDITIONAL"
)

// IsValid reports whether t is a known approval type.
func (t ApprovalType) IsValid() bool {
	switch t {
	case ApprovalTypeInfo, ApprovalTypeApproval, ApprovalTypeConditional:
		return true
	}
	return false
}

// ExecutionDepartment carries out a requisition once it is approved.
type ExecutionDepartment string

const (
	DepartmentAdmin       ExecutionDepartment = "ADMIN"
	DepartmentFinance     ExecutionDepartment = "FINANCE"
	DepartmentProcurement ExecutionDepartment = "PROCUREMENT"
)

// IsValid reports whether d is a known execution department.
func (d ExecutionDepartment) IsValid() bool {
	switch d {
	case DepartmentAdmin, DepartmentFinance, DepartmentProcurement:
		return true
	}
	return false
}

// Status is the lifecycle state of a requisition.
type Status string

const (
	StatusDraft      Status = "DRAFT"
	StatusInApproval Status = "IN_APPROVAL"
	StatusApproved   Status = "APPROVED"
	StatusRejected   Status = "REJECTED"
	StatusExecuting  Status = "EXECUTING"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
)

// IsTerminal reports whether no further transition can leave s.
func (s Status) IsTerminal() bool {
	return s == StatusRejected || s == StatusCompleted || s == StatusCancelled
}

// Decision is what an actor submits for the current step.
type Decision string

const (
	DecisionApprove  Decision = "APPROVE"
	DecisionReject   Decision = "REJECT"
	DecisionSendInfo Decision = "SEND_INFO"
)

// LogAction is the recorded outcome of an acted step.
type LogAction string

const (
	LogActionApprove            LogAction = "APPROVE"
	LogActionReject             LogAction = "REJECT"
	LogActionSendInfo           LogAction = "SEND_INFO"
	LogActionSkippedConditional LogAction = "SKIPPED_CONDITIONAL"
)

// Well-known role codes from the reference categories.
const (
	RoleHOD                  = "HOD"
	RoleDepartmentAdmin      = "DEPARTMENT_ADMIN"
	RoleProcurementCommittee = "PROCUREMENT_COMMITTEE"
	RoleProcurementTeam      = "PROCUREMENT_TEAM"
	RoleCEO                  = "CEO"
	RoleFinance              = "FINANCE"
	RoleHR                   = "HR"
	RoleExecutionTeam        = "EXECUTION_TEAM"
)

// DefaultMinQuotations is the number of quotations the collection step needs
// when a category does not configure its own minimum.
const DefaultMinQuotations = 3

// ── Definitions ──────────────────────────────────────────────────────────────

// ApprovalStepDefinition is one position in a category's approval chain.
// Amounts are minor currency units; nil bounds are open.
type ApprovalStepDefinition struct {
	SequenceNumber  int          `json:"sequence_number" yaml:"sequence_number"`
	Name            string       `json:"name,omitempty" yaml:"name,omitempty"`
	RoleCode        string       `json:"role_code" yaml:"role_code"`
	ApprovalType    ApprovalType `json:"approval_type" yaml:"approval_type"`
	ConditionalType ApprovalType `json:"conditional_type,omitempty" yaml:"conditional_type,omitempty"`
	MinAmount       *int64       `json:"min_amount,omitempty" yaml:"min_amount,omitempty"`
	MaxAmount       *int64       `json:"max_amount,omitempty" yaml:"max_amount,omitempty"`
	IsMandatory     bool         `json:"is_mandatory" yaml:"is_mandatory"`
	IsActive        bool         `json:"is_active" yaml:"is_active"`
}

// Semantic returns the blocking behaviour of the step once it applies.
// CONDITIONAL steps carry their own secondary type, APPROVAL when unset.
func (s ApprovalStepDefinition) Semantic() ApprovalType {
	if s.ApprovalType != ApprovalTypeConditional {
		return s.ApprovalType
	}
	if s.ConditionalType == ApprovalTypeInfo {
		return ApprovalTypeInfo
	}
	return ApprovalTypeApproval
}

// CategoryWorkflowDefinition is an immutable version of a category's workflow.
type CategoryWorkflowDefinition struct {
	CategoryID                string                   `json:"category_id"`
	CategoryCode              string                   `json:"category_code"`
	Name                      string                   `json:"name"`
	ExecutionDepartment       ExecutionDepartment      `json:"execution_department"`
	RequiresQuotation         bool                     `json:"requires_quotation"`
	MinQuotations             int                      `json:"min_quotations"`
	QuotedAmountAuthoritative bool                     `json:"quoted_amount_authoritative"`
	Version                   int                      `json:"version"`
	Steps                     []ApprovalStepDefinition `json:"steps"`
}

// ── Runtime state ────────────────────────────────────────────────────────────

// Requisition is the engine's view of a requisition row.
type Requisition struct {
	ID                  string     `json:"id"`
	CategoryID          string     `json:"category_id"`
	BranchID            string     `json:"branch_id"`
	DepartmentID        string     `json:"department_id"`
	RequesterID         string     `json:"requester_id"`
	Amount              int64      `json:"amount"`
	Currency            string     `json:"currency"`
	AmountConfirmed     bool       `json:"amount_confirmed"`
	Status              Status     `json:"status"`
	WorkflowVersion     int        `json:"workflow_version"`
	CurrentStepSequence int        `json:"current_step_sequence"`
	CurrentStepRole     string     `json:"current_step_role,omitempty"`
	Description         string     `json:"description"`
	Attachments         []string   `json:"attachments,omitempty"`
	Version             int        `json:"version"`
	SubmittedAt         *time.Time `json:"submitted_at,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// ApprovalLogEntry is one immutable record of an acted step.
type ApprovalLogEntry struct {
	ID                 string    `json:"id"`
	RequisitionID      string    `json:"requisition_id"`
	StepSequenceNumber int       `json:"step_sequence_number"`
	ActorRoleCode      string    `json:"actor_role_code"`
	ActingEmployeeID   string    `json:"acting_employee_id"`
	Action             LogAction `json:"action"`
	Comments           string    `json:"comments,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
}

// Quotation is a vendor offer collected for a requisition.
type Quotation struct {
	ID            string    `json:"id"`
	RequisitionID string    `json:"requisition_id"`
	Position      int       `json:"position"`
	VendorName    string    `json:"vendor_name"`
	Amount        int64     `json:"amount"`
	QuotationDate time.Time `json:"quotation_date"`
	IsSelected    bool      `json:"is_selected"`
	CreatedBy     string    `json:"created_by,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Action is an actor's input for the current step.
type Action struct {
	ActorRoleCode    string
	ActingEmployeeID string
	Decision         Decision
	Comments         string
	// QuotationIndex selects a quotation on the selection step; 0 means the
	// previously selected quotation is used.
	QuotationIndex int
}
