package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-scm-requisitions/internal/errors"
	"github.com/pesio-ai/be-scm-requisitions/internal/workflow"
)

func testDefinition(code string) *workflow.CategoryWorkflowDefinition {
	return &workflow.CategoryWorkflowDefinition{
		CategoryCode:        code,
		Name:                code,
		ExecutionDepartment: workflow.DepartmentAdmin,
		Steps: []workflow.ApprovalStepDefinition{
			{SequenceNumber: 1, RoleCode: workflow.RoleHOD, ApprovalType: workflow.ApprovalTypeInfo, IsActive: true},
			{SequenceNumber: 2, RoleCode: workflow.RoleDepartmentAdmin, ApprovalType: workflow.ApprovalTypeApproval, IsActive: true},
		},
	}
}

func seedRequisition(t *testing.T, s *MemoryStore, id string) (*workflow.Requisition, *workflow.CategoryWorkflowDefinition) {
	t.Helper()
	ctx := context.Background()

	def, err := s.GetCurrentDefinition(ctx, "STATIONARY")
	if err != nil {
		def = testDefinition("STATIONARY")
		require.NoError(t, s.PublishCategory(ctx, def))
	}
	req := &workflow.Requisition{
		ID:          id,
		CategoryID:  def.CategoryID,
		RequesterID: "emp-1",
		Amount:      1000,
		Status:      workflow.StatusDraft,
		Version:     1,
	}
	require.NoError(t, s.CreateRequisition(ctx, req))
	return req, def
}

func TestMemoryStore_PublishVersionsAreImmutable(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	def := testDefinition("STATIONARY")
	require.NoError(t, s.PublishCategory(ctx, def))
	assert.Equal(t, 1, def.Version)
	require.NotEmpty(t, def.CategoryID)

	// Mutating the caller's copy must not leak into the stored version.
	def.Steps[0].RoleCode = "SOMEONE"

	v2 := testDefinition("STATIONARY")
	v2.Steps = v2.Steps[:1]
	require.NoError(t, s.PublishCategory(ctx, v2))
	assert.Equal(t, 2, v2.Version)
	assert.Equal(t, def.CategoryID, v2.CategoryID)

	current, err := s.GetCurrentDefinition(ctx, "STATIONARY")
	require.NoError(t, err)
	assert.Equal(t, 2, current.Version)
	assert.Len(t, current.Steps, 1)

	first, err := s.GetDefinition(ctx, def.CategoryID, 1)
	require.NoError(t, err)
	assert.Len(t, first.Steps, 2)
	assert.Equal(t, workflow.RoleHOD, first.Steps[0].RoleCode)

	_, err = s.GetDefinition(ctx, def.CategoryID, 3)
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotFound))
	_, err = s.GetCurrentDefinition(ctx, "UNKNOWN")
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotFound))
}

func TestMemoryStore_ListCurrentDefinitionsSortedByCode(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for _, code := range []string{"VEHICLE_REPAIR", "FURNITURE", "STATIONARY"} {
		require.NoError(t, s.PublishCategory(ctx, testDefinition(code)))
	}

	defs, err := s.ListCurrentDefinitions(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 3)
	assert.Equal(t, "FURNITURE", defs[0].CategoryCode)
	assert.Equal(t, "VEHICLE_REPAIR", defs[2].CategoryCode)
}

func TestMemoryStore_CreateRequisition(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	req, _ := seedRequisition(t, s, "req-1")
	assert.False(t, req.CreatedAt.IsZero())

	err := s.CreateRequisition(ctx, req)
	assert.True(t, errors.HasCode(err, errors.ErrCodeConflict))

	err = s.CreateRequisition(ctx, &workflow.Requisition{ID: "req-2", CategoryID: "missing"})
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotFound))
}

func TestMemoryStore_CommitOptimisticCheck(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	req, def := seedRequisition(t, s, "req-1")

	engine := workflow.NewEngine()
	out, err := engine.Submit(req, def, req.RequesterID)
	require.NoError(t, err)
	require.NoError(t, s.Commit(ctx, out.ApplyTo(req), out))

	// A second commit computed from the same snapshot loses the race.
	err = s.Commit(ctx, out.ApplyTo(req), out)
	assert.True(t, errors.HasCode(err, errors.ErrCodeStaleState))

	stored, err := s.GetRequisition(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusInApproval, stored.Status)
	assert.Equal(t, 2, stored.Version)
}

func TestMemoryStore_CommitRejectsDuplicateStepEntry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	req, def := seedRequisition(t, s, "req-1")
	engine := workflow.NewEngine()

	out, err := engine.Submit(req, def, req.RequesterID)
	require.NoError(t, err)
	req = out.ApplyTo(req)
	require.NoError(t, s.Commit(ctx, req, out))

	act, err := engine.Apply(req, def, nil, nil, workflow.Action{ActorRoleCode: workflow.RoleHOD})
	require.NoError(t, err)
	require.NoError(t, s.Commit(ctx, act.ApplyTo(req), act))

	log, err := s.ListApprovalLog(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, log, 1)

	// Forge an outcome that passes the version check but repeats the step.
	current, err := s.GetRequisition(ctx, req.ID)
	require.NoError(t, err)
	forged := *act
	forged.ExpectedVersion = current.Version
	forged.ExpectedStepSequence = current.CurrentStepSequence
	err = s.Commit(ctx, forged.ApplyTo(current), &forged)
	assert.True(t, errors.HasCode(err, errors.ErrCodeStaleState))
}

func TestMemoryStore_QuotationSelectionIsExclusive(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	req, _ := seedRequisition(t, s, "req-1")

	commit := func(out *workflow.Outcome) {
		t.Helper()
		current, err := s.GetRequisition(ctx, req.ID)
		require.NoError(t, err)
		out.ExpectedVersion = current.Version
		out.ExpectedStepSequence = current.CurrentStepSequence
		out.NewStatus = current.Status
		out.PreviousStatus = current.Status
		out.NewAmount = current.Amount
		require.NoError(t, s.Commit(ctx, out.ApplyTo(current), out))
	}

	for i := 1; i <= 3; i++ {
		commit(&workflow.Outcome{AddQuotation: &workflow.Quotation{
			ID: fmt.Sprintf("q-%d", i), RequisitionID: req.ID, Position: i, Amount: int64(i * 100),
		}})
	}
	commit(&workflow.Outcome{SelectQuotation: &workflow.Quotation{ID: "q-1"}})
	commit(&workflow.Outcome{SelectQuotation: &workflow.Quotation{ID: "q-3"}})

	qs, err := s.ListQuotations(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, qs, 3)
	selected := 0
	for _, q := range qs {
		if q.IsSelected {
			selected++
			assert.Equal(t, "q-3", q.ID)
		}
	}
	assert.Equal(t, 1, selected)
}

func TestMemoryStore_ListRequisitionsFiltersAndPages(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}

	for i := 1; i <= 5; i++ {
		seedRequisition(t, s, fmt.Sprintf("req-%d", i))
	}
	pending, err := s.GetRequisition(ctx, "req-2")
	require.NoError(t, err)
	next := *pending
	next.Status = workflow.StatusInApproval
	next.CurrentStepRole = workflow.RoleHOD
	next.CurrentStepSequence = 1
	next.Version = 2
	require.NoError(t, s.Commit(ctx, &next, &workflow.Outcome{ExpectedVersion: 1}))

	page, total, err := s.ListRequisitions(ctx, RequisitionFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, "req-4", page[0].ID, "newest first")

	page, total, err = s.ListRequisitions(ctx, RequisitionFilter{PendingRole: workflow.RoleHOD})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, "req-2", page[0].ID)

	page, _, err = s.ListRequisitions(ctx, RequisitionFilter{Offset: 100})
	require.NoError(t, err)
	assert.Empty(t, page)
}
