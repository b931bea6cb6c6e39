package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-scm-requisitions/internal/database"
	"github.com/pesio-ai/be-scm-requisitions/internal/errors"
	"github.com/pesio-ai/be-scm-requisitions/internal/workflow"
)

// RequisitionRepository handles requisition rows. State changes go through
// Commit, which writes the row, the log entry and any quotation change together.
type RequisitionRepository struct {
	db         *database.DB
	log        *ApprovalLogRepository
	quotations *QuotationRepository
}

// NewRequisitionRepository creates a new RequisitionRepository.
func NewRequisitionRepository(db *database.DB, log *ApprovalLogRepository, quotations *QuotationRepository) *RequisitionRepository {
	return &RequisitionRepository{db: db, log: log, quotations: quotations}
}

const requisitionColumns = `
	id, category_id, branch_id, department_id, requester_id,
	amount, currency, amount_confirmed, status,
	workflow_version, current_step_sequence, current_step_role,
	description, attachments, version,
	submitted_at, completed_at, created_at, updated_at
`

// Create inserts a new requisition.
func (r *RequisitionRepository) Create(ctx context.Context, req *workflow.Requisition) error {
	attachments, err := marshalAttachments(req.Attachments)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO requisitions
		    (id, category_id, branch_id, department_id, requester_id,
		     amount, currency, amount_confirmed, status,
		     workflow_version, current_step_sequence, current_step_role,
		     description, attachments, version)
		VALUES ($1, $2, $3, $4, $5,
		        $6, $7, $8, $9,
		        $10, $11, $12,
		        $13, $14, $15)
		RETURNING created_at, updated_at
	`

	err = r.db.QueryRow(ctx, query,
		req.ID,
		req.CategoryID,
		req.BranchID,
		req.DepartmentID,
		req.RequesterID,
		req.Amount,
		req.Currency,
		req.AmountConfirmed,
		req.Status,
		req.WorkflowVersion,
		req.CurrentStepSequence,
		req.CurrentStepRole,
		req.Description,
		attachments,
		req.Version,
	).Scan(&req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create requisition")
	}
	return nil
}

// GetByID retrieves a requisition by primary key.
func (r *RequisitionRepository) GetByID(ctx context.Context, id string) (*workflow.Requisition, error) {
	query := `SELECT ` + requisitionColumns + ` FROM requisitions WHERE id = $1`

	req, err := scanRequisition(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("requisition", id)
	}
	return req, err
}

// List retrieves requisitions with filtering and pagination, newest first.
func (r *RequisitionRepository) List(ctx context.Context, filter RequisitionFilter) ([]*workflow.Requisition, int64, error) {
	where := " WHERE 1 = 1"
	args := []any{}
	argCount := 1

	add := func(clause string, value any) {
		where += fmt.Sprintf(" AND "+clause, argCount)
		args = append(args, value)
		argCount++
	}
	if filter.PendingRole != "" {
		add("current_step_role = $%d", filter.PendingRole)
		where += fmt.Sprintf(" AND status = '%s'", workflow.StatusInApproval)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.CategoryID != "" {
		add("category_id = $%d", filter.CategoryID)
	}
	if filter.DepartmentID != "" {
		add("department_id = $%d", filter.DepartmentID)
	}
	if filter.RequesterID != "" {
		add("requester_id = $%d", filter.RequesterID)
	}

	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM requisitions`+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to count requisitions")
	}

	query := `SELECT ` + requisitionColumns + ` FROM requisitions` + where +
		fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", argCount, argCount+1)
	queryArgs := append(args, filter.limit(), filter.Offset)

	rows, err := r.db.Query(ctx, query, queryArgs...)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to list requisitions")
	}
	defer rows.Close()

	reqs := make([]*workflow.Requisition, 0)
	for rows.Next() {
		req, err := scanRequisition(rows)
		if err != nil {
			return nil, 0, err
		}
		reqs = append(reqs, req)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to iterate requisitions")
	}
	return reqs, total, nil
}

// Commit applies an engine outcome under the optimistic version check.
func (r *RequisitionRepository) Commit(ctx context.Context, next *workflow.Requisition, out *workflow.Outcome) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE requisitions SET
			    amount                = $4,
			    amount_confirmed      = $5,
			    status                = $6,
			    workflow_version      = $7,
			    current_step_sequence = $8,
			    current_step_role     = $9,
			    version               = $10,
			    submitted_at          = $11,
			    completed_at          = $12,
			    updated_at            = $13
			WHERE id = $1 AND version = $2 AND current_step_sequence = $3
		`

		tag, err := tx.Exec(ctx, query,
			next.ID,
			out.ExpectedVersion,
			out.ExpectedStepSequence,
			next.Amount,
			next.AmountConfirmed,
			next.Status,
			next.WorkflowVersion,
			next.CurrentStepSequence,
			next.CurrentStepRole,
			next.Version,
			next.SubmittedAt,
			next.CompletedAt,
			next.UpdatedAt,
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to update requisition")
		}
		if tag.RowsAffected() == 0 {
			return errors.StaleState(fmt.Sprintf(
				"requisition %s changed since version %d was read", next.ID, out.ExpectedVersion))
		}

		if out.LogEntry != nil {
			if err := r.log.appendTx(ctx, tx, out.LogEntry); err != nil {
				return err
			}
		}
		if out.AddQuotation != nil {
			if err := r.quotations.insertTx(ctx, tx, out.AddQuotation); err != nil {
				return err
			}
		}
		if out.SelectQuotation != nil {
			if err := r.quotations.selectTx(ctx, tx, out.SelectQuotation.RequisitionID, out.SelectQuotation.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func scanRequisition(row rowScanner) (*workflow.Requisition, error) {
	req := &workflow.Requisition{}
	var attachments []byte

	err := row.Scan(
		&req.ID,
		&req.CategoryID,
		&req.BranchID,
		&req.DepartmentID,
		&req.RequesterID,
		&req.Amount,
		&req.Currency,
		&req.AmountConfirmed,
		&req.Status,
		&req.WorkflowVersion,
		&req.CurrentStepSequence,
		&req.CurrentStepRole,
		&req.Description,
		&attachments,
		&req.Version,
		&req.SubmittedAt,
		&req.CompletedAt,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan requisition")
	}

	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &req.Attachments); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal attachments")
		}
	}
	return req, nil
}

func marshalAttachments(attachments []string) ([]byte, error) {
	if attachments == nil {
		attachments = []string{}
	}
	b, err := json.Marshal(attachments)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal attachments")
	}
	return b, nil
}
