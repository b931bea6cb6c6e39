package workflow

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func amt(v int64) *int64 { return &v }

func step(seq int, role string, typ ApprovalType) ApprovalStepDefinition {
	return ApprovalStepDefinition{
		SequenceNumber: seq,
		RoleCode:       role,
		ApprovalType:   typ,
		IsMandatory:    true,
		IsActive:       true,
	}
}

func conditional(seq int, role string, min, max *int64) ApprovalStepDefinition {
	s := step(seq, role, ApprovalTypeConditional)
	s.MinAmount = min
	s.MaxAmount = max
	return s
}

func stationaryDefinition() *CategoryWorkflowDefinition {
	return &CategoryWorkflowDefinition{
		CategoryID:          "cat-stationary",
		CategoryCode:        "STATIONARY",
		ExecutionDepartment: DepartmentAdmin,
		Version:             1,
		Steps: []ApprovalStepDefinition{
			step(1, RoleHOD, ApprovalTypeInfo),
			step(2, RoleDepartmentAdmin, ApprovalTypeApproval),
			step(3, RoleExecutionTeam, ApprovalTypeApproval),
		},
	}
}

func vehicleRepairDefinition() *CategoryWorkflowDefinition {
	return &CategoryWorkflowDefinition{
		CategoryID:                "cat-vehicle",
		CategoryCode:              "VEHICLE_REPAIR",
		ExecutionDepartment:       DepartmentProcurement,
		RequiresQuotation:         true,
		MinQuotations:             3,
		QuotedAmountAuthoritative: true,
		Version:                   1,
		Steps: []ApprovalStepDefinition{
			step(1, RoleHOD, ApprovalTypeInfo),
			step(2, RoleProcurementCommittee, ApprovalTypeApproval),
			step(3, RoleDepartmentAdmin, ApprovalTypeApproval),
			step(4, RoleProcurementTeam, ApprovalTypeInfo),
			step(5, RoleProcurementCommittee, ApprovalTypeApproval),
			step(6, RoleCEO, ApprovalTypeApproval),
			step(7, RoleExecutionTeam, ApprovalTypeApproval),
		},
	}
}

// loanDefinition uses minor units: 5000000 is 50000.00 and 5000001 is the
// next representable amount.
func loanDefinition() *CategoryWorkflowDefinition {
	return &CategoryWorkflowDefinition{
		CategoryID:          "cat-loan",
		CategoryCode:        "LOAN_ADVANCE_SALARY",
		ExecutionDepartment: DepartmentFinance,
		Version:             1,
		Steps: []ApprovalStepDefinition{
			step(1, RoleHOD, ApprovalTypeApproval),
			conditional(2, RoleHR, nil, amt(5000000)),
			conditional(3, RoleFinance, nil, amt(5000000)),
			conditional(4, RoleCEO, amt(5000001), nil),
			step(5, RoleFinance, ApprovalTypeApproval),
		},
	}
}

func draft(def *CategoryWorkflowDefinition, amount int64) *Requisition {
	return &Requisition{
		ID:          "req-1",
		CategoryID:  def.CategoryID,
		RequesterID: "emp-requester",
		Amount:      amount,
		Currency:    "USD",
		Status:      StatusDraft,
		Version:     1,
	}
}

func fixedEngine() *Engine {
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	n := 0
	return NewEngine(
		WithClock(func() time.Time { return clock }),
		WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("id-%d", n)
		}),
	)
}

// harness plays the caller's role: it applies outcomes, appends log entries
// and tracks quotations the way the service commits them.
type harness struct {
	t          *testing.T
	engine     *Engine
	def        *CategoryWorkflowDefinition
	req        *Requisition
	log        []ApprovalLogEntry
	quotations []Quotation
}

func newHarness(t *testing.T, def *CategoryWorkflowDefinition, amount int64) *harness {
	return &harness{t: t, engine: fixedEngine(), def: def, req: draft(def, amount)}
}

func (h *harness) commit(out *Outcome) {
	h.req = out.ApplyTo(h.req)
	if out.LogEntry != nil {
		h.log = append(h.log, *out.LogEntry)
	}
	if out.AddQuotation != nil {
		h.quotations = append(h.quotations, *out.AddQuotation)
	}
	if out.SelectQuotation != nil {
		for i := range h.quotations {
			h.quotations[i].IsSelected = h.quotations[i].ID == out.SelectQuotation.ID
		}
	}
}

func (h *harness) submit() {
	out, err := h.engine.Submit(h.req, h.def, h.req.RequesterID)
	require.NoError(h.t, err)
	h.commit(out)
}

func (h *harness) act(role string, decision Decision) (*Outcome, error) {
	return h.actWith(Action{ActorRoleCode: role, ActingEmployeeID: "emp-" + role, Decision: decision})
}

func (h *harness) actWith(action Action) (*Outcome, error) {
	out, err := h.engine.Apply(h.req, h.def, h.log, h.quotations, action)
	if err == nil {
		h.commit(out)
	}
	return out, err
}

func (h *harness) mustAct(role string, decision Decision) *Outcome {
	out, err := h.act(role, decision)
	require.NoError(h.t, err, "acting as %s", role)
	return out
}

func (h *harness) addQuotation(vendor string, amount int64) {
	out, err := h.engine.AddQuotation(h.req, h.def, h.quotations, RoleProcurementTeam, Quotation{
		VendorName: vendor,
		Amount:     amount,
	})
	require.NoError(h.t, err)
	h.commit(out)
}
