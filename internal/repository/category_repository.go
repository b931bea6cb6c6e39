package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-scm-requisitions/internal/database"
	"github.com/pesio-ai/be-scm-requisitions/internal/errors"
	"github.com/pesio-ai/be-scm-requisitions/internal/workflow"
)

// CategoryRepository handles requisition_categories and their published
// workflow versions.
type CategoryRepository struct {
	db *database.DB
}

// NewCategoryRepository creates a new CategoryRepository.
func NewCategoryRepository(db *database.DB) *CategoryRepository {
	return &CategoryRepository{db: db}
}

// Publish upserts the category row by code and appends def's steps as the next
// immutable version, in one transaction.
func (r *CategoryRepository) Publish(ctx context.Context, def *workflow.CategoryWorkflowDefinition) error {
	stepsJSON, err := json.Marshal(def.Steps)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal workflow steps")
	}

	id := def.CategoryID
	if id == "" {
		id = uuid.NewString()
	}

	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		categoryQuery := `
			INSERT INTO requisition_categories
			    (id, code, name, execution_department,
			     requires_quotation, min_quotations, quoted_amount_authoritative,
			     current_version)
			VALUES ($1, $2, $3, $4,
			        $5, $6, $7,
			        1)
			ON CONFLICT (code) DO UPDATE SET
			    name                        = EXCLUDED.name,
			    execution_department        = EXCLUDED.execution_department,
			    requires_quotation          = EXCLUDED.requires_quotation,
			    min_quotations              = EXCLUDED.min_quotations,
			    quoted_amount_authoritative = EXCLUDED.quoted_amount_authoritative,
			    current_version             = requisition_categories.current_version + 1,
			    updated_at                  = NOW()
			RETURNING id, current_version
		`

		err := tx.QueryRow(ctx, categoryQuery,
			id,
			def.CategoryCode,
			def.Name,
			def.ExecutionDepartment,
			def.RequiresQuotation,
			def.MinQuotations,
			def.QuotedAmountAuthoritative,
		).Scan(&def.CategoryID, &def.Version)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to upsert category")
		}

		versionQuery := `
			INSERT INTO category_workflow_versions
			    (category_id, version, execution_department,
			     requires_quotation, min_quotations, quoted_amount_authoritative,
			     steps)
			VALUES ($1, $2, $3,
			        $4, $5, $6,
			        $7)
		`

		_, err = tx.Exec(ctx, versionQuery,
			def.CategoryID,
			def.Version,
			def.ExecutionDepartment,
			def.RequiresQuotation,
			def.MinQuotations,
			def.QuotedAmountAuthoritative,
			stepsJSON,
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to publish workflow version")
		}
		return nil
	})
}

const definitionColumns = `
	c.id, c.code, c.name, v.version,
	v.execution_department, v.requires_quotation, v.min_quotations,
	v.quoted_amount_authoritative, v.steps
`

// GetCurrent returns the latest published version of a category.
func (r *CategoryRepository) GetCurrent(ctx context.Context, code string) (*workflow.CategoryWorkflowDefinition, error) {
	query := `
		SELECT ` + definitionColumns + `
		FROM requisition_categories c
		JOIN category_workflow_versions v
		  ON v.category_id = c.id AND v.version = c.current_version
		WHERE c.code = $1 AND c.is_active = TRUE
	`

	def, err := scanDefinition(r.db.QueryRow(ctx, query, code))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("category", code)
	}
	return def, err
}

// GetVersion returns a specific version of a category.
func (r *CategoryRepository) GetVersion(ctx context.Context, categoryID string, version int) (*workflow.CategoryWorkflowDefinition, error) {
	query := `
		SELECT ` + definitionColumns + `
		FROM requisition_categories c
		JOIN category_workflow_versions v ON v.category_id = c.id
		WHERE c.id = $1 AND v.version = $2
	`

	def, err := scanDefinition(r.db.QueryRow(ctx, query, categoryID, version))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("category_workflow_version", categoryID)
	}
	return def, err
}

// ListCurrent returns the latest version of every active category by code.
func (r *CategoryRepository) ListCurrent(ctx context.Context) ([]*workflow.CategoryWorkflowDefinition, error) {
	query := `
		SELECT ` + definitionColumns + `
		FROM requisition_categories c
		JOIN category_workflow_versions v
		  ON v.category_id = c.id AND v.version = c.current_version
		WHERE c.is_active = TRUE
		ORDER BY c.code ASC
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list categories")
	}
	defer rows.Close()

	defs := make([]*workflow.CategoryWorkflowDefinition, 0)
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to iterate categories")
	}
	return defs, nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner) (*workflow.CategoryWorkflowDefinition, error) {
	def := &workflow.CategoryWorkflowDefinition{}
	var stepsJSON []byte

	err := row.Scan(
		&def.CategoryID,
		&def.CategoryCode,
		&def.Name,
		&def.Version,
		&def.ExecutionDepartment,
		&def.RequiresQuotation,
		&def.MinQuotations,
		&def.QuotedAmountAuthoritative,
		&stepsJSON,
	)
	if err == pgx.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan category definition")
	}

	if err := json.Unmarshal(stepsJSON, &def.Steps); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal workflow steps")
	}
	return def, nil
}
