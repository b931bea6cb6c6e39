package workflow

import (
	"fmt"
	"strings"

	"github.com/pesio-ai/be-scm-requisitions/internal/errors"
)

// Validate checks the structural rules of a definition before it is published.
func (d *CategoryWorkflowDefinition) Validate() error {
	if strings.TrimSpace(d.CategoryCode) == "" {
		return errors.InvalidInput("category_code", "category code is required")
	}
	if !d.ExecutionDepartment.IsValid() {
		return errors.InvalidInput("execution_department",
			fmt.Sprintf("unknown execution department %q", d.ExecutionDepartment))
	}
	if d.MinQuotations < 0 {
		return errors.InvalidInput("min_quotations", "minimum quotations cannot be negative")
	}
	if len(d.Steps) == 0 {
		return errors.InvalidInput("steps", "a workflow needs at least one step")
	}

	prev := 0
	for i, step := range d.Steps {
		field := fmt.Sprintf("steps[%d]", i)
		if step.SequenceNumber < 1 {
			return errors.InvalidInput(field, "sequence numbers start at 1")
		}
		if step.SequenceNumber <= prev {
			return errors.InvalidInput(field, "sequence numbers must be strictly increasing")
		}
		prev = step.SequenceNumber

		if strings.TrimSpace(step.RoleCode) == "" {
			return errors.InvalidInput(field, "role code is required")
		}
		if !step.ApprovalType.IsValid() {
			return errors.InvalidInput(field, fmt.Sprintf("unknown approval type %q", step.ApprovalType))
		}
		if step.ApprovalType != ApprovalTypeConditional {
			if step.MinAmount != nil || step.MaxAmount != nil {
				return errors.InvalidInput(field, "amount bounds are only allowed on CONDITIONAL steps")
			}
			continue
		}
		if step.ConditionalType != "" && step.ConditionalType != ApprovalTypeInfo && step.ConditionalType != ApprovalTypeApproval {
			return errors.InvalidInput(field, "conditional type must be INFO or APPROVAL")
		}
		if step.MinAmount != nil && step.MaxAmount != nil && *step.MinAmount > *step.MaxAmount {
			return errors.InvalidInput(field, "min amount exceeds max amount")
		}
	}

	if d.RequiresQuotation {
		collect, ok := d.CollectionStep()
		if !ok {
			return errors.InvalidInput("steps", "quotation categories need an active PROCUREMENT_TEAM INFO step")
		}
		sel, ok := d.SelectionStep()
		if !ok {
			return errors.InvalidInput("steps", "quotation categories need an APPROVAL step after quotation collection")
		}
		// Both steps must apply at every amount, or a requisition could
		// skip the gate or reach selection with nothing collected.
		if collect.ApprovalType == ApprovalTypeConditional {
			return errors.InvalidInput(d.stepField(collect.SequenceNumber),
				"the quotation collection step cannot be CONDITIONAL")
		}
		if sel.ApprovalType == ApprovalTypeConditional {
			return errors.InvalidInput(d.stepField(sel.SequenceNumber),
				"the quotation selection step cannot be CONDITIONAL")
		}
	}
	return nil
}

func (d *CategoryWorkflowDefinition) stepField(sequence int) string {
	for i, step := range d.Steps {
		if step.SequenceNumber == sequence {
			return fmt.Sprintf("steps[%d]", i)
		}
	}
	return "steps"
}

// RequiredQuotations is the minimum count the collection step waits for.
func (d *CategoryWorkflowDefinition) RequiredQuotations() int {
	if d.MinQuotations > 0 {
		return d.MinQuotations
	}
	return DefaultMinQuotations
}

// Step returns the step with the given sequence number, active or not.
func (d *CategoryWorkflowDefinition) Step(sequence int) (ApprovalStepDefinition, bool) {
	for _, step := range d.Steps {
		if step.SequenceNumber == sequence {
			return step, true
		}
	}
	return ApprovalStepDefinition{}, false
}

// CollectionStep is the "collect quotations" step of a quotation category.
func (d *CategoryWorkflowDefinition) CollectionStep() (ApprovalStepDefinition, bool) {
	if !d.RequiresQuotation {
		return ApprovalStepDefinition{}, false
	}
	for _, step := range sortedSteps(d) {
		if step.IsActive && step.RoleCode == RoleProcurementTeam && step.Semantic() == ApprovalTypeInfo {
			return step, true
		}
	}
	return ApprovalStepDefinition{}, false
}

// SelectionStep is the first APPROVAL step after the collection step; its
// approver picks the winning quotation.
func (d *CategoryWorkflowDefinition) SelectionStep() (ApprovalStepDefinition, bool) {
	collect, ok := d.CollectionStep()
	if !ok {
		return ApprovalStepDefinition{}, false
	}
	for _, step := range sortedSteps(d) {
		if step.SequenceNumber <= collect.SequenceNumber || !step.IsActive {
			continue
		}
		if step.Semantic() == ApprovalTypeApproval {
			return step, true
		}
	}
	return ApprovalStepDefinition{}, false
}

// IsCollectionStep reports whether step is the quotation collection step.
func (d *CategoryWorkflowDefinition) IsCollectionStep(step ApprovalStepDefinition) bool {
	collect, ok := d.CollectionStep()
	return ok && collect.SequenceNumber == step.SequenceNumber
}

// IsSelectionStep reports whether step is the quotation selection step.
func (d *CategoryWorkflowDefinition) IsSelectionStep(step ApprovalStepDefinition) bool {
	sel, ok := d.SelectionStep()
	return ok && sel.SequenceNumber == step.SequenceNumber
}
