package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-scm-requisitions/internal/errors"
)

func TestValidate_SeedShapesAreValid(t *testing.T) {
	for _, def := range []*CategoryWorkflowDefinition{
		stationaryDefinition(),
		vehicleRepairDefinition(),
		loanDefinition(),
	} {
		assert.NoError(t, def.Validate(), def.CategoryCode)
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *CategoryWorkflowDefinition)
		field  string
	}{
		{"missing code", func(d *CategoryWorkflowDefinition) { d.CategoryCode = " " }, "category_code"},
		{"unknown department", func(d *CategoryWorkflowDefinition) { d.ExecutionDepartment = "LEGAL" }, "execution_department"},
		{"negative quotations", func(d *CategoryWorkflowDefinition) { d.MinQuotations = -1 }, "min_quotations"},
		{"no steps", func(d *CategoryWorkflowDefinition) { d.Steps = nil }, "steps"},
		{"zero sequence", func(d *CategoryWorkflowDefinition) { d.Steps[0].SequenceNumber = 0 }, "steps[0]"},
		{"duplicate sequence", func(d *CategoryWorkflowDefinition) { d.Steps[1].SequenceNumber = 1 }, "steps[1]"},
		{"decreasing sequence", func(d *CategoryWorkflowDefinition) { d.Steps[2].SequenceNumber = 2 }, "steps[2]"},
		{"missing role", func(d *CategoryWorkflowDefinition) { d.Steps[1].RoleCode = "" }, "steps[1]"},
		{"unknown type", func(d *CategoryWorkflowDefinition) { d.Steps[1].ApprovalType = "VOTE" }, "steps[1]"},
		{"bounds on approval step", func(d *CategoryWorkflowDefinition) { d.Steps[0].MaxAmount = amt(10) }, "steps[0]"},
		{"inverted bounds", func(d *CategoryWorkflowDefinition) {
			d.Steps[1] = conditional(2, RoleHR, amt(10), amt(5))
		}, "steps[1]"},
		{"nested conditional", func(d *CategoryWorkflowDefinition) {
			d.Steps[1] = conditional(2, RoleHR, nil, nil)
			d.Steps[1].ConditionalType = ApprovalTypeConditional
		}, "steps[1]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := stationaryDefinition()
			tt.mutate(def)

			err := def.Validate()
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInput))
			appErr, ok := errors.As(err)
			require.True(t, ok)
			assert.Equal(t, tt.field, appErr.Field)
		})
	}
}

func TestValidate_QuotationCategoryNeedsCollectionAndSelection(t *testing.T) {
	def := vehicleRepairDefinition()
	def.Steps[3].IsActive = false
	assert.Error(t, def.Validate(), "without an active collection step")

	def = vehicleRepairDefinition()
	def.Steps = def.Steps[:4]
	assert.Error(t, def.Validate(), "without a selection step")
}

func TestValidate_QuotationStepsCannotBeConditional(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *CategoryWorkflowDefinition)
		field  string
	}{
		{"conditional collection", func(d *CategoryWorkflowDefinition) {
			d.Steps[3] = conditional(4, RoleProcurementTeam, amt(1000000), nil)
			d.Steps[3].ConditionalType = ApprovalTypeInfo
		}, "steps[3]"},
		{"conditional selection", func(d *CategoryWorkflowDefinition) {
			d.Steps[4] = conditional(5, RoleProcurementCommittee, amt(10000000), nil)
		}, "steps[4]"},
		{"conditional selection without bounds", func(d *CategoryWorkflowDefinition) {
			d.Steps[4] = conditional(5, RoleProcurementCommittee, nil, nil)
			d.Steps[4].ConditionalType = ApprovalTypeApproval
		}, "steps[4]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := vehicleRepairDefinition()
			tt.mutate(def)

			err := def.Validate()
			require.Error(t, err)
			appErr, ok := errors.As(err)
			require.True(t, ok)
			assert.Equal(t, errors.ErrCodeInvalidInput, appErr.Code)
			assert.Equal(t, tt.field, appErr.Field)
		})
	}
}

func TestValidate_ConditionalStepsAroundQuotationsAreAllowed(t *testing.T) {
	def := vehicleRepairDefinition()
	def.Steps[2] = conditional(3, RoleDepartmentAdmin, nil, amt(5000000))
	def.Steps[5] = conditional(6, RoleCEO, amt(5000001), nil)
	assert.NoError(t, def.Validate())

	def.RequiresQuotation = false
	def.Steps[3] = conditional(4, RoleProcurementTeam, amt(1000000), nil)
	assert.NoError(t, def.Validate(), "non-quotation categories have no collection step")
}

func TestCollectionAndSelectionSteps(t *testing.T) {
	def := vehicleRepairDefinition()

	collect, ok := def.CollectionStep()
	require.True(t, ok)
	assert.Equal(t, 4, collect.SequenceNumber)

	sel, ok := def.SelectionStep()
	require.True(t, ok)
	assert.Equal(t, 5, sel.SequenceNumber)

	assert.False(t, def.IsSelectionStep(def.Steps[1]), "the committee's earlier step is not the selection step")

	def.RequiresQuotation = false
	_, ok = def.CollectionStep()
	assert.False(t, ok)
}

func TestStepLookup(t *testing.T) {
	def := loanDefinition()
	def.Steps[3].IsActive = false

	s, ok := def.Step(4)
	require.True(t, ok, "inactive steps are still addressable")
	assert.Equal(t, RoleCEO, s.RoleCode)

	_, ok = def.Step(42)
	assert.False(t, ok)
}
