package seed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-scm-requisitions/internal/errors"
	"github.com/pesio-ai/be-scm-requisitions/internal/logger"
	"github.com/pesio-ai/be-scm-requisitions/internal/repository"
	"github.com/pesio-ai/be-scm-requisitions/internal/workflow"
)

func byCode(t *testing.T, defs []*workflow.CategoryWorkflowDefinition, code string) *workflow.CategoryWorkflowDefinition {
	t.Helper()
	for _, def := range defs {
		if def.CategoryCode == code {
			return def
		}
	}
	t.Fatalf("category %s not found", code)
	return nil
}

func TestReference_ElevenValidCategories(t *testing.T) {
	defs, err := Reference()
	require.NoError(t, err)
	require.Len(t, defs, 11)

	for _, def := range defs {
		assert.GreaterOrEqual(t, len(def.Steps), 3, def.CategoryCode)
		assert.LessOrEqual(t, len(def.Steps), 7, def.CategoryCode)
		for _, s := range def.Steps {
			assert.True(t, s.IsActive, "%s step %d", def.CategoryCode, s.SequenceNumber)
			assert.True(t, s.IsMandatory, "%s step %d", def.CategoryCode, s.SequenceNumber)
		}
	}
}

func TestReference_ScenarioCategories(t *testing.T) {
	defs, err := Reference()
	require.NoError(t, err)

	stationary := byCode(t, defs, "STATIONARY")
	assert.Equal(t, workflow.DepartmentAdmin, stationary.ExecutionDepartment)
	require.Len(t, stationary.Steps, 3)
	assert.Equal(t, workflow.ApprovalTypeInfo, stationary.Steps[0].ApprovalType)

	vehicle := byCode(t, defs, "VEHICLE_REPAIR")
	assert.True(t, vehicle.RequiresQuotation)
	assert.True(t, vehicle.QuotedAmountAuthoritative)
	require.Len(t, vehicle.Steps, 7)
	collect, ok := vehicle.CollectionStep()
	require.True(t, ok)
	assert.Equal(t, 4, collect.SequenceNumber)
	sel, ok := vehicle.SelectionStep()
	require.True(t, ok)
	assert.Equal(t, 5, sel.SequenceNumber)

	loan := byCode(t, defs, "LOAN_ADVANCE_SALARY")
	require.Len(t, loan.Steps, 5)
	require.NotNil(t, loan.Steps[1].MaxAmount)
	assert.EqualValues(t, 5000000, *loan.Steps[1].MaxAmount)
	require.NotNil(t, loan.Steps[3].MinAmount)
	assert.EqualValues(t, 5000001, *loan.Steps[3].MinAmount)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown field", "categories:\n  - code: X\n    colour: red\n"},
		{"invalid definition", "categories:\n  - code: X\n    execution_department: ADMIN\n    steps: []\n"},
		{"duplicate code", `categories:
  - code: X
    execution_department: ADMIN
    steps: [{sequence_number: 1, role_code: HOD, approval_type: APPROVAL}]
  - code: X
    execution_department: ADMIN
    steps: [{sequence_number: 1, role_code: HOD, approval_type: APPROVAL}]
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestParse_ExplicitInactiveStep(t *testing.T) {
	defs, err := Parse([]byte(`categories:
  - code: X
    execution_department: FINANCE
    steps:
      - {sequence_number: 1, role_code: HOD, approval_type: APPROVAL}
      - {sequence_number: 2, role_code: CEO, approval_type: APPROVAL, is_active: false}
`))
	require.NoError(t, err)
	require.Len(t, defs[0].Steps, 2)
	assert.True(t, defs[0].Steps[0].IsActive)
	assert.False(t, defs[0].Steps[1].IsActive)
}

func TestApply_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()

	defs, err := Reference()
	require.NoError(t, err)
	res, err := Apply(ctx, store, defs, logger.Nop())
	require.NoError(t, err)
	assert.Len(t, res.Published, 11)
	assert.Empty(t, res.Unchanged)

	defs, err = Reference()
	require.NoError(t, err)
	res, err = Apply(ctx, store, defs, logger.Nop())
	require.NoError(t, err)
	assert.Empty(t, res.Published)
	assert.Len(t, res.Unchanged, 11)

	current, err := store.GetCurrentDefinition(ctx, "VEHICLE_REPAIR")
	require.NoError(t, err)
	assert.Equal(t, 1, current.Version)
}

func TestApply_ChangedCategoryGetsNewVersion(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()

	defs, err := Reference()
	require.NoError(t, err)
	_, err = Apply(ctx, store, defs, logger.Nop())
	require.NoError(t, err)

	defs, err = Reference()
	require.NoError(t, err)
	petty := byCode(t, defs, "PETTY_CASH")
	petty.Steps[1].ApprovalType = workflow.ApprovalTypeApproval

	res, err := Apply(ctx, store, defs, logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, []string{"PETTY_CASH"}, res.Published)

	current, err := store.GetCurrentDefinition(ctx, "PETTY_CASH")
	require.NoError(t, err)
	assert.Equal(t, 2, current.Version)

	first, err := store.GetDefinition(ctx, current.CategoryID, 1)
	require.NoError(t, err)
	assert.Equal(t, workflow.ApprovalTypeInfo, first.Steps[1].ApprovalType)

	_, err = store.GetDefinition(ctx, current.CategoryID, 3)
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotFound))
}
