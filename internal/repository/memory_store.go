package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-scm-requisitions/internal/errors"
	"github.com/pesio-ai/be-scm-requisitions/internal/workflow"
)

type memoryCategory struct {
	id       string
	code     string
	current  int
	versions map[int]*workflow.CategoryWorkflowDefinition
}

// MemoryStore is an in-process Store with the same version and uniqueness
// checks as the PostgreSQL schema.
type MemoryStore struct {
	mu           sync.RWMutex
	categories   map[string]*memoryCategory // by id
	codes        map[string]string          // code -> id
	requisitions map[string]*workflow.Requisition
	log          map[string][]workflow.ApprovalLogEntry
	quotations   map[string][]workflow.Quotation
	now          func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		categories:   make(map[string]*memoryCategory),
		codes:        make(map[string]string),
		requisitions: make(map[string]*workflow.Requisition),
		log:          make(map[string][]workflow.ApprovalLogEntry),
		quotations:   make(map[string][]workflow.Quotation),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// ── Categories ───────────────────────────────────────────────────────────────

func (s *MemoryStore) PublishCategory(ctx context.Context, def *workflow.CategoryWorkflowDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.codes[def.CategoryCode]
	if !ok {
		id = def.CategoryID
		if id == "" {
			id = uuid.NewString()
		}
		if _, taken := s.categories[id]; taken {
			return errors.Newf(errors.ErrCodeConflict, "category id %s is already in use", id)
		}
		s.categories[id] = &memoryCategory{id: id, code: def.CategoryCode, versions: map[int]*workflow.CategoryWorkflowDefinition{}}
		s.codes[def.CategoryCode] = id
	}

	cat := s.categories[id]
	cat.current++
	def.CategoryID = id
	def.Version = cat.current
	cat.versions[cat.current] = copyDefinition(def)
	return nil
}

func (s *MemoryStore) GetCurrentDefinition(ctx context.Context, code string) (*workflow.CategoryWorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.codes[code]
	if !ok {
		return nil, errors.NotFound("category", code)
	}
	cat := s.categories[id]
	return copyDefinition(cat.versions[cat.current]), nil
}

func (s *MemoryStore) GetDefinition(ctx context.Context, categoryID string, version int) (*workflow.CategoryWorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cat, ok := s.categories[categoryID]
	if !ok {
		return nil, errors.NotFound("category_workflow_version", categoryID)
	}
	def, ok := cat.versions[version]
	if !ok {
		return nil, errors.NotFound("category_workflow_version", fmt.Sprintf("%s@%d", categoryID, version))
	}
	return copyDefinition(def), nil
}

func (s *MemoryStore) ListCurrentDefinitions(ctx context.Context) ([]*workflow.CategoryWorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	defs := make([]*workflow.CategoryWorkflowDefinition, 0, len(s.categories))
	for _, cat := range s.categories {
		defs = append(defs, copyDefinition(cat.versions[cat.current]))
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].CategoryCode < defs[j].CategoryCode })
	return defs, nil
}

// ── Requisitions ─────────────────────────────────────────────────────────────

func (s *MemoryStore) CreateRequisition(ctx context.Context, req *workflow.Requisition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.requisitions[req.ID]; ok {
		return errors.Newf(errors.ErrCodeConflict, "requisition %s already exists", req.ID)
	}
	if _, ok := s.categories[req.CategoryID]; !ok {
		return errors.NotFound("category", req.CategoryID)
	}
	now := s.now()
	req.CreatedAt = now
	req.UpdatedAt = now
	s.requisitions[req.ID] = copyRequisition(req)
	return nil
}

func (s *MemoryStore) GetRequisition(ctx context.Context, id string) (*workflow.Requisition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.requisitions[id]
	if !ok {
		return nil, errors.NotFound("requisition", id)
	}
	return copyRequisition(req), nil
}

func (s *MemoryStore) ListRequisitions(ctx context.Context, filter RequisitionFilter) ([]*workflow.Requisition, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*workflow.Requisition, 0)
	for _, req := range s.requisitions {
		if filter.PendingRole != "" && (req.Status != workflow.StatusInApproval || req.CurrentStepRole != filter.PendingRole) {
			continue
		}
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		if filter.CategoryID != "" && req.CategoryID != filter.CategoryID {
			continue
		}
		if filter.DepartmentID != "" && req.DepartmentID != filter.DepartmentID {
			continue
		}
		if filter.RequesterID != "" && req.RequesterID != filter.RequesterID {
			continue
		}
		matched = append(matched, req)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	total := int64(len(matched))
	start := min(max(filter.Offset, 0), len(matched))
	end := min(start+filter.limit(), len(matched))

	page := make([]*workflow.Requisition, 0, end-start)
	for _, req := range matched[start:end] {
		page = append(page, copyRequisition(req))
	}
	return page, total, nil
}

func (s *MemoryStore) ListApprovalLog(ctx context.Context, requisitionID string) ([]workflow.ApprovalLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]workflow.ApprovalLogEntry{}, s.log[requisitionID]...), nil
}

func (s *MemoryStore) ListQuotations(ctx context.Context, requisitionID string) ([]workflow.Quotation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]workflow.Quotation{}, s.quotations[requisitionID]...), nil
}

func (s *MemoryStore) Commit(ctx context.Context, next *workflow.Requisition, out *workflow.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.requisitions[next.ID]
	if !ok {
		return errors.NotFound("requisition", next.ID)
	}
	if current.Version != out.ExpectedVersion || current.CurrentStepSequence != out.ExpectedStepSequence {
		return errors.StaleState(fmt.Sprintf(
			"requisition %s changed since version %d was read", next.ID, out.ExpectedVersion))
	}

	if e := out.LogEntry; e != nil && e.Action != workflow.LogActionSkippedConditional {
		for _, existing := range s.log[next.ID] {
			if existing.StepSequenceNumber == e.StepSequenceNumber && existing.Action != workflow.LogActionSkippedConditional {
				return errors.StaleState("step has already been acted upon")
			}
		}
	}

	quotations := append([]workflow.Quotation{}, s.quotations[next.ID]...)
	if q := out.AddQuotation; q != nil {
		for _, existing := range quotations {
			if existing.Position == q.Position {
				return errors.StaleState("a quotation was added concurrently")
			}
		}
		added := *q
		added.IsSelected = false
		quotations = append(quotations, added)
	}
	if sel := out.SelectQuotation; sel != nil {
		found := false
		for i := range quotations {
			quotations[i].IsSelected = quotations[i].ID == sel.ID
			found = found || quotations[i].IsSelected
		}
		if !found {
			return errors.NotFound("quotation", sel.ID)
		}
	}

	s.requisitions[next.ID] = copyRequisition(next)
	s.quotations[next.ID] = quotations
	if out.LogEntry != nil {
		s.log[next.ID] = append(s.log[next.ID], *out.LogEntry)
	}
	return nil
}

func copyDefinition(def *workflow.CategoryWorkflowDefinition) *workflow.CategoryWorkflowDefinition {
	cp := *def
	cp.Steps = make([]workflow.ApprovalStepDefinition, len(def.Steps))
	for i, step := range def.Steps {
		if step.MinAmount != nil {
			v := *step.MinAmount
			step.MinAmount = &v
		}
		if step.MaxAmount != nil {
			v := *step.MaxAmount
			step.MaxAmount = &v
		}
		cp.Steps[i] = step
	}
	return &cp
}

func copyRequisition(req *workflow.Requisition) *workflow.Requisition {
	cp := *req
	cp.Attachments = append([]string(nil), req.Attachments...)
	if req.SubmittedAt != nil {
		t := *req.SubmittedAt
		cp.SubmittedAt = &t
	}
	if req.CompletedAt != nil {
		t := *req.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
