package repository

import (
	"context"
	stderrors "errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pesio-ai/be-scm-requisitions/internal/database"
	"github.com/pesio-ai/be-scm-requisitions/internal/errors"
	"github.com/pesio-ai/be-scm-requisitions/internal/workflow"
)

// QuotationRepository handles vendor quotations of a requisition.
type QuotationRepository struct {
	db *database.DB
}

// NewQuotationRepository creates a new QuotationRepository.
func NewQuotationRepository(db *database.DB) *QuotationRepository {
	return &QuotationRepository{db: db}
}

func (r *QuotationRepository) insertTx(ctx context.Context, tx pgx.Tx, q *workflow.Quotation) error {
	query := `
		INSERT INTO requisition_quotations
		    (id, requisition_id, position, vendor_name, amount,
		     quotation_date, is_selected, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5,
		        $6, FALSE, $7, $8)
	`

	_, err := tx.Exec(ctx, query,
		q.ID,
		q.RequisitionID,
		q.Position,
		q.VendorName,
		q.Amount,
		q.QuotationDate,
		q.CreatedBy,
		q.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.StaleState("a quotation was added concurrently")
		}
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to insert quotation")
	}
	return nil
}

// selectTx flags quotationID as the single selected quotation. The previous
// selection is cleared first so the partial unique index never sees two.
func (r *QuotationRepository) selectTx(ctx context.Context, tx pgx.Tx, requisitionID, quotationID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE requisition_quotations SET is_selected = FALSE
		WHERE requisition_id = $1 AND is_selected AND id <> $2
	`, requisitionID, quotationID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to clear quotation selection")
	}

	tag, err := tx.Exec(ctx, `
		UPDATE requisition_quotations SET is_selected = TRUE
		WHERE requisition_id = $1 AND id = $2
	`, requisitionID, quotationID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to select quotation")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("quotation", quotationID)
	}
	return nil
}

// ListByRequisition returns quotations in position order.
func (r *QuotationRepository) ListByRequisition(ctx context.Context, requisitionID string) ([]workflow.Quotation, error) {
	query := `
		SELECT id, requisition_id, position, vendor_name, amount,
		       quotation_date, is_selected, created_by, created_at
		FROM requisition_quotations
		WHERE requisition_id = $1
		ORDER BY position ASC
	`

	rows, err := r.db.Query(ctx, query, requisitionID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get quotations")
	}
	defer rows.Close()

	quotations := make([]workflow.Quotation, 0)
	for rows.Next() {
		var q workflow.Quotation
		err := rows.Scan(
			&q.ID,
			&q.RequisitionID,
			&q.Position,
			&q.VendorName,
			&q.Amount,
			&q.QuotationDate,
			&q.IsSelected,
			&q.CreatedBy,
			&q.CreatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan quotation")
		}
		quotations = append(quotations, q)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to iterate quotations")
	}
	return quotations, nil
}

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
