package workflow

import "sort"

// InRange reports whether amount lies within the step's inclusive bounds.
// Bounds only restrict CONDITIONAL steps.
func (s ApprovalStepDefinition) InRange(amount int64) bool {
	if s.ApprovalType != ApprovalTypeConditional {
		return true
	}
	if s.MinAmount != nil && amount < *s.MinAmount {
		return false
	}
	if s.MaxAmount != nil && amount > *s.MaxAmount {
		return false
	}
	return true
}

// ApplicableSteps returns the active steps of def that apply to the
// requisition's current amount, ordered by sequence number.
func ApplicableSteps(def *CategoryWorkflowDefinition, req *Requisition) []ApprovalStepDefinition {
	if def == nil || req == nil {
		return nil
	}

	steps := make([]ApprovalStepDefinition, 0, len(def.Steps))
	for _, step := range def.Steps {
		if !step.IsActive {
			continue
		}
		if !step.InRange(req.Amount) {
			continue
		}
		steps = append(steps, step)
	}

	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].SequenceNumber < steps[j].SequenceNumber
	})
	return steps
}

// RemainingSteps returns the applicable steps at or after fromSequence.
func RemainingSteps(def *CategoryWorkflowDefinition, req *Requisition, fromSequence int) []ApprovalStepDefinition {
	all := ApplicableSteps(def, req)
	for i, step := range all {
		if step.SequenceNumber >= fromSequence {
			return all[i:]
		}
	}
	return nil
}

// NextApplicable returns the first applicable step strictly after the given
// sequence, evaluated against the requisition's amount as it is now.
func NextApplicable(def *CategoryWorkflowDefinition, req *Requisition, after int) (ApprovalStepDefinition, bool) {
	remaining := RemainingSteps(def, req, after+1)
	if len(remaining) == 0 {
		return ApprovalStepDefinition{}, false
	}
	return remaining[0], true
}

// SkippedBetween lists the active CONDITIONAL steps strictly between after and
// until (0 meaning the end of the chain) whose range excludes the amount.
func SkippedBetween(def *CategoryWorkflowDefinition, req *Requisition, after, until int) []int {
	var skipped []int
	for _, step := range sortedSteps(def) {
		if step.SequenceNumber <= after {
			continue
		}
		if until > 0 && step.SequenceNumber >= until {
			break
		}
		if step.IsActive && !step.InRange(req.Amount) {
			skipped = append(skipped, step.SequenceNumber)
		}
	}
	return skipped
}

func sortedSteps(def *CategoryWorkflowDefinition) []ApprovalStepDefinition {
	steps := append([]ApprovalStepDefinition(nil), def.Steps...)
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].SequenceNumber < steps[j].SequenceNumber
	})
	return steps
}
