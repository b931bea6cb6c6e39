package repository

import (
	"context"

	"github.com/pesio-ai/be-scm-requisitions/internal/database"
	"github.com/pesio-ai/be-scm-requisitions/internal/workflow"
)

// PostgresStore implements Store over the pgx repositories.
type PostgresStore struct {
	db           *database.DB
	categories   *CategoryRepository
	requisitions *RequisitionRepository
	log          *ApprovalLogRepository
	quotations   *QuotationRepository
}

// NewPostgresStore wires the repositories over one pool.
func NewPostgresStore(db *database.DB) *PostgresStore {
	log := NewApprovalLogRepository(db)
	quotations := NewQuotationRepository(db)
	return &PostgresStore{
		db:           db,
		categories:   NewCategoryRepository(db),
		requisitions: NewRequisitionRepository(db, log, quotations),
		log:          log,
		quotations:   quotations,
	}
}

var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) Ping(ctx context.Context) error { return s.db.Ping(ctx) }

func (s *PostgresStore) PublishCategory(ctx context.Context, def *workflow.CategoryWorkflowDefinition) error {
	return s.categories.Publish(ctx, def)
}

func (s *PostgresStore) GetCurrentDefinition(ctx context.Context, code string) (*workflow.CategoryWorkflowDefinition, error) {
	return s.categories.GetCurrent(ctx, code)
}

func (s *PostgresStore) GetDefinition(ctx context.Context, categoryID string, version int) (*workflow.CategoryWorkflowDefinition, error) {
	return s.categories.GetVersion(ctx, categoryID, version)
}

func (s *PostgresStore) ListCurrentDefinitions(ctx context.Context) ([]*workflow.CategoryWorkflowDefinition, error) {
	return s.categories.ListCurrent(ctx)
}

func (s *PostgresStore) CreateRequisition(ctx context.Context, req *workflow.Requisition) error {
	return s.requisitions.Create(ctx, req)
}

func (s *PostgresStore) GetRequisition(ctx context.Context, id string) (*workflow.Requisition, error) {
	return s.requisitions.GetByID(ctx, id)
}

func (s *PostgresStore) ListRequisitions(ctx context.Context, filter RequisitionFilter) ([]*workflow.Requisition, int64, error) {
	return s.requisitions.List(ctx, filter)
}

func (s *PostgresStore) ListApprovalLog(ctx context.Context, requisitionID string) ([]workflow.ApprovalLogEntry, error) {
	return s.log.ListByRequisition(ctx, requisitionID)
}

func (s *PostgresStore) ListQuotations(ctx context.Context, requisitionID string) ([]workflow.Quotation, error) {
	return s.quotations.ListByRequisition(ctx, requisitionID)
}

func (s *PostgresStore) Commit(ctx context.Context, next *workflow.Requisition, out *workflow.Outcome) error {
	return s.requisitions.Commit(ctx, next, out)
}
