package repository

import (
	"context"

	"github.com/pesio-ai/be-scm-requisitions/internal/workflow"
)

// RequisitionFilter narrows a requisition listing. Zero values do not filter.
type RequisitionFilter struct {
	Status       workflow.Status
	CategoryID   string
	DepartmentID string
	RequesterID  string
	// PendingRole restricts to IN_APPROVAL requisitions awaiting this role.
	PendingRole string
	Limit       int
	Offset      int
}

// DefaultPageSize applies when a filter leaves Limit unset.
const DefaultPageSize = 50

func (f RequisitionFilter) limit() int {
	if f.Limit <= 0 {
		return DefaultPageSize
	}
	return f.Limit
}

// CategoryStore holds categories and their immutable definition versions.
type CategoryStore interface {
	// PublishCategory creates the category if needed and stores def's steps as
	// the next version. def.CategoryID and def.Version are set on return.
	PublishCategory(ctx context.Context, def *workflow.CategoryWorkflowDefinition) error
	// GetCurrentDefinition returns the latest version of a category by code.
	GetCurrentDefinition(ctx context.Context, code string) (*workflow.CategoryWorkflowDefinition, error)
	// GetDefinition returns a specific version of a category by id.
	GetDefinition(ctx context.Context, categoryID string, version int) (*workflow.CategoryWorkflowDefinition, error)
	// ListCurrentDefinitions returns the latest version of every category.
	ListCurrentDefinitions(ctx context.Context) ([]*workflow.CategoryWorkflowDefinition, error)
}

// RequisitionStore persists requisitions together with their log and quotations.
type RequisitionStore interface {
	CreateRequisition(ctx context.Context, req *workflow.Requisition) error
	GetRequisition(ctx context.Context, id string) (*workflow.Requisition, error)
	ListRequisitions(ctx context.Context, filter RequisitionFilter) ([]*workflow.Requisition, int64, error)
	ListApprovalLog(ctx context.Context, requisitionID string) ([]workflow.ApprovalLogEntry, error)
	ListQuotations(ctx context.Context, requisitionID string) ([]workflow.Quotation, error)
	// Commit persists next (the requisition with out applied) and out's log
	// entry and quotation change atomically. It fails with STALE_STATE when the
	// stored row no longer matches out.ExpectedVersion and
	// out.ExpectedStepSequence.
	Commit(ctx context.Context, next *workflow.Requisition, out *workflow.Outcome) error
}

// Store is the full persistence surface used by the service.
type Store interface {
	CategoryStore
	RequisitionStore
	Ping(ctx context.Context) error
}
