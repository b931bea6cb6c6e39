// Package seed loads the reference requisition categories and publishes them
// to a category store.
package seed

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"reflect"

	"gopkg.in/yaml.v3"

	"github.com/pesio-ai/be-scm-requisitions/internal/errors"
	"github.com/pesio-ai/be-scm-requisitions/internal/logger"
	"github.com/pesio-ai/be-scm-requisitions/internal/repository"
	"github.com/pesio-ai/be-scm-requisitions/internal/workflow"
)

//go:embed categories.yaml
var categoriesYAML []byte

type file struct {
	Categories []category `yaml:"categories"`
}

type category struct {
	Code                      string `yaml:"code"`
	Name                      string `yaml:"name"`
	ExecutionDepartment       string `yaml:"execution_department"`
	RequiresQuotation         bool   `yaml:"requires_quotation"`
	MinQuotations             int    `yaml:"min_quotations"`
	QuotedAmountAuthoritative bool   `yaml:"quoted_amount_authoritative"`
	Steps                     []step `yaml:"steps"`
}

type step struct {
	SequenceNumber  int    `yaml:"sequence_number"`
	Name            string `yaml:"name"`
	RoleCode        string `yaml:"role_code"`
	ApprovalType    string `yaml:"approval_type"`
	ConditionalType string `yaml:"conditional_type"`
	MinAmount       *int64 `yaml:"min_amount"`
	MaxAmount       *int64 `yaml:"max_amount"`
	IsMandatory     *bool  `yaml:"is_mandatory"`
	IsActive        *bool  `yaml:"is_active"`
}

// Reference returns the embedded reference categories.
func Reference() ([]*workflow.CategoryWorkflowDefinition, error) {
	return Parse(categoriesYAML)
}

// Parse decodes a category fixture. Unknown fields are rejected and every
// definition is validated.
func Parse(data []byte) ([]*workflow.CategoryWorkflowDefinition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f file
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to decode categories: %w", err)
	}

	seen := make(map[string]bool, len(f.Categories))
	defs := make([]*workflow.CategoryWorkflowDefinition, 0, len(f.Categories))
	for _, c := range f.Categories {
		if seen[c.Code] {
			return nil, errors.InvalidInput("code", fmt.Sprintf("duplicate category %s", c.Code))
		}
		seen[c.Code] = true

		def := c.definition()
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("category %s: %w", c.Code, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func (c category) definition() *workflow.CategoryWorkflowDefinition {
	def := &workflow.CategoryWorkflowDefinition{
		CategoryCode:              c.Code,
		Name:                      c.Name,
		ExecutionDepartment:       workflow.ExecutionDepartment(c.ExecutionDepartment),
		RequiresQuotation:         c.RequiresQuotation,
		MinQuotations:             c.MinQuotations,
		QuotedAmountAuthoritative: c.QuotedAmountAuthoritative,
		Steps:                     make([]workflow.ApprovalStepDefinition, 0, len(c.Steps)),
	}
	for _, s := range c.Steps {
		def.Steps = append(def.Steps, workflow.ApprovalStepDefinition{
			SequenceNumber:  s.SequenceNumber,
			Name:            s.Name,
			RoleCode:        s.RoleCode,
			ApprovalType:    workflow.ApprovalType(s.ApprovalType),
			ConditionalType: workflow.ApprovalType(s.ConditionalType),
			MinAmount:       s.MinAmount,
			MaxAmount:       s.MaxAmount,
			IsMandatory:     boolOr(s.IsMandatory, true),
			IsActive:        boolOr(s.IsActive, true),
		})
	}
	return def
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}

// Result summarizes an Apply run.
type Result struct {
	Published []string
	Unchanged []string
}

// Apply publishes every definition whose current stored version differs.
// Running it twice publishes nothing the second time.
func Apply(ctx context.Context, store repository.CategoryStore, defs []*workflow.CategoryWorkflowDefinition, log *logger.Logger) (*Result, error) {
	res := &Result{}
	for _, def := range defs {
		current, err := store.GetCurrentDefinition(ctx, def.CategoryCode)
		switch {
		case err == nil && sameDefinition(current, def):
			res.Unchanged = append(res.Unchanged, def.CategoryCode)
			continue
		case err != nil && !errors.HasCode(err, errors.ErrCodeNotFound):
			return res, err
		}

		if err := store.PublishCategory(ctx, def); err != nil {
			return res, fmt.Errorf("failed to publish category %s: %w", def.CategoryCode, err)
		}
		res.Published = append(res.Published, def.CategoryCode)
		log.Info().
			Str("category", def.CategoryCode).
			Int("version", def.Version).
			Int("steps", len(def.Steps)).
			Msg("Category published")
	}
	return res, nil
}

func sameDefinition(a, b *workflow.CategoryWorkflowDefinition) bool {
	return a.Name == b.Name &&
		a.ExecutionDepartment == b.ExecutionDepartment &&
		a.RequiresQuotation == b.RequiresQuotation &&
		a.MinQuotations == b.MinQuotations &&
		a.QuotedAmountAuthoritative == b.QuotedAmountAuthoritative &&
		reflect.DeepEqual(a.Steps, b.Steps)
}
