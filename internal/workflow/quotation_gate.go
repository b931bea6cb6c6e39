package workflow

import (
	"fmt"

	"github.com/pesio-ai/be-scm-requisitions/internal/errors"
)

// GateResult is the verdict of the quotation collection check.
type GateResult struct {
	Allowed bool
	Reason  string
}

// CanAdvancePastQuotationStep reports whether enough quotations exist for the
// collection step to be marked complete.
func CanAdvancePastQuotationStep(def *CategoryWorkflowDefinition, quotations []Quotation) GateResult {
	if !def.RequiresQuotation {
		return GateResult{Allowed: true}
	}
	need := def.RequiredQuotations()
	if len(quotations) < need {
		return GateResult{
			Allowed: false,
			Reason:  fmt.Sprintf("%d of %d required quotations collected", len(quotations), need),
		}
	}
	return GateResult{Allowed: true}
}

// CheckSelection resolves the quotation the selection step approves.
//
// With index > 0 the quotation at that 1-based position is chosen; it must
// exist. The valid range is 1..len(quotations), which covers at least
// RequiredQuotations positions and any extra quotations collected, not a
// fixed 1..3. With index 0 exactly one quotation must already be selected.
func CheckSelection(quotations []Quotation, index int) (Quotation, error) {
	if index != 0 {
		if index < 1 || index > len(quotations) {
			return Quotation{}, errors.Newf(errors.ErrCodeInvalidQuotationIndex,
				"quotation index %d is out of range 1..%d", index, len(quotations))
		}
		for _, q := range quotations {
			if q.Position == index {
				return q, nil
			}
		}
		return Quotation{}, errors.Newf(errors.ErrCodeInvalidQuotationIndex,
			"no quotation at index %d", index)
	}

	var selected []Quotation
	for _, q := range quotations {
		if q.IsSelected {
			selected = append(selected, q)
		}
	}
	switch len(selected) {
	case 1:
		return selected[0], nil
	case 0:
		return Quotation{}, errors.New(errors.ErrCodeQuotationNotSelected,
			"a quotation must be selected before this step can be approved")
	default:
		return Quotation{}, errors.Newf(errors.ErrCodeQuotationNotSelected,
			"%d quotations are marked selected; exactly one is allowed", len(selected))
	}
}

// amountAfterSelection applies the category's amount policy to a selection.
// It returns the new working amount and whether it is now confirmed.
func amountAfterSelection(def *CategoryWorkflowDefinition, req *Requisition, q Quotation) (int64, bool) {
	if def.QuotedAmountAuthoritative && !req.AmountConfirmed {
		return q.Amount, true
	}
	return req.Amount, req.AmountConfirmed
}
