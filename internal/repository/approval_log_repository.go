package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-scm-requisitions/internal/database"
	"github.com/pesio-ai/be-scm-requisitions/internal/errors"
	"github.com/pesio-ai/be-scm-requisitions/internal/workflow"
)

// ApprovalLogRepository appends and reads immutable approval log entries.
type ApprovalLogRepository struct {
	db *database.DB
}

// NewApprovalLogRepository creates a new ApprovalLogRepository.
func NewApprovalLogRepository(db *database.DB) *ApprovalLogRepository {
	return &ApprovalLogRepository{db: db}
}

// appendTx inserts one entry inside the caller's transaction. The table has an
// update/delete-prevention trigger so this is the only mutation exposed.
func (r *ApprovalLogRepository) appendTx(ctx context.Context, tx pgx.Tx, entry *workflow.ApprovalLogEntry) error {
	query := `
		INSERT INTO requisition_approval_log
		    (id, requisition_id, step_sequence_number,
		     actor_role_code, acting_employee_id,
		     action, comments, created_at)
		VALUES ($1, $2, $3,
		        $4, $5,
		        $6, $7, $8)
	`

	_, err := tx.Exec(ctx, query,
		entry.ID,
		entry.RequisitionID,
		entry.StepSequenceNumber,
		entry.ActorRoleCode,
		entry.ActingEmployeeID,
		entry.Action,
		entry.Comments,
		entry.Timestamp,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.StaleState("step has already been acted upon")
		}
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append approval log entry")
	}
	return nil
}

// ListByRequisition returns the full log for a requisition ordered oldest-first.
func (r *ApprovalLogRepository) ListByRequisition(ctx context.Context, requisitionID string) ([]workflow.ApprovalLogEntry, error) {
	query := `
		SELECT id, requisition_id, step_sequence_number,
		       actor_role_code, acting_employee_id,
		       action, comments, created_at
		FROM requisition_approval_log
		WHERE requisition_id = $1
		ORDER BY created_at ASC, step_sequence_number ASC
	`

	rows, err := r.db.Query(ctx, query, requisitionID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval log")
	}
	defer rows.Close()

	entries := make([]workflow.ApprovalLogEntry, 0)
	for rows.Next() {
		var e workflow.ApprovalLogEntry
		err := rows.Scan(
			&e.ID,
			&e.RequisitionID,
			&e.StepSequenceNumber,
			&e.ActorRoleCode,
			&e.ActingEmployeeID,
			&e.Action,
			&e.Comments,
			&e.Timestamp,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval log entry")
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to iterate approval log")
	}
	return entries, nil
}
