package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"server/internal/domain"
	"server/internal/domain/jsoncfg"
	"server/internal/infra"
)

// WorkflowSpec carries the user-supplied workflow configuration.
type WorkflowSpec struct {
	Name               string
	ProjectID          string
	PromptMode         domain.PromptMode
	ImagesPerReference int
	GlobalParams       string
	SpecificPrompts    []string
	ImageSize          string
	ImageFormat        string
	Engine             string
}

// ItemSpec carries one catalog reference to enroll in a workflow.
type ItemSpec struct {
	Reference   string
	ASIN        string
	ProductName string
	ImageURLs   []string
}

// StatusReport is the full visibility surface for one workflow.
type StatusReport struct {
	Workflow *domain.Workflow
	Items    []domain.WorkflowItem
	Counts   map[domain.ItemStatus]int
	Progress int
}

// RetryResult lists the references flipped back to pending.
type RetryResult struct {
	Retried []string
}

// Service is the workflow lifecycle controller: it creates, patches, resets
// and reports workflows. Counter and status transitions during a batch run
// belong to the Driver, not here.
type Service struct {
	repo   domain.WorkflowRepository
	logger infra.Logger
}

// NewService wires the lifecycle controller.
func NewService(repo domain.WorkflowRepository, logger infra.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Create validates the specification and persists the workflow with its item
// set as one logical unit. Nothing is written when validation fails.
func (s *Service) Create(ctx context.Context, spec WorkflowSpec, itemSpecs []ItemSpec) (*domain.Workflow, error) {
	render, err := normalizeRender(spec)
	if err != nil {
		return nil, err
	}
	wf := &domain.Workflow{
		ID:                 uuid.NewString(),
		Name:               spec.Name,
		ProjectID:          spec.ProjectID,
		PromptMode:         spec.PromptMode,
		ImagesPerReference: spec.ImagesPerReference,
		GlobalParams:       spec.GlobalParams,
		SpecificPrompts:    spec.SpecificPrompts,
		ImageSize:          render.ImageSize,
		ImageFormat:        render.ImageFormat,
		Engine:             render.Engine,
		Status:             domain.WorkflowStatusPending,
		TotalItems:         len(itemSpecs),
		CreatedAt:          time.Now(),
	}
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	items, err := buildItems(wf.ID, itemSpecs)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, wf, items); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("workflow_id", wf.ID).
		Str("name", wf.Name).
		Int("items", len(items)).
		Msg("workflow: created")
	return wf, nil
}

// Update patches the mutable workflow fields. When newItems is non-nil the
// entire item set is replaced and counters and status reset to pending.
func (s *Service) Update(ctx context.Context, workflowID string, spec WorkflowSpec, newItems []ItemSpec) (*domain.Workflow, error) {
	render, err := normalizeRender(spec)
	if err != nil {
		return nil, err
	}
	wf, err := s.repo.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	wf.Name = spec.Name
	wf.PromptMode = spec.PromptMode
	wf.ImagesPerReference = spec.ImagesPerReference
	wf.GlobalParams = spec.GlobalParams
	wf.SpecificPrompts = spec.SpecificPrompts
	wf.ImageSize = render.ImageSize
	wf.ImageFormat = render.ImageFormat
	wf.Engine = render.Engine
	if spec.ProjectID != "" {
		wf.ProjectID = spec.ProjectID
	}
	if err := wf.Validate(); err != nil {
		return nil, err
	}

	var items []domain.WorkflowItem
	if newItems != nil {
		items, err = buildItems(wf.ID, newItems)
		if err != nil {
			return nil, err
		}
	}

	if err := s.repo.Update(ctx, wf); err != nil {
		return nil, err
	}
	if newItems != nil {
		if err := s.repo.ReplaceItems(ctx, wf.ID, items); err != nil {
			return nil, err
		}
		wf.TotalItems = len(items)
		wf.ProcessedItems = 0
		wf.FailedItems = 0
		wf.Status = domain.WorkflowStatusPending
		wf.StartedAt = nil
		wf.CompletedAt = nil
	}
	s.logger.Info().
		Str("workflow_id", wf.ID).
		Bool("items_replaced", newItems != nil).
		Msg("workflow: updated")
	return wf, nil
}

// Reset returns the workflow and every item to the pristine pending state so
// the whole batch can re-run from scratch.
func (s *Service) Reset(ctx context.Context, workflowID string) error {
	if err := s.repo.Reset(ctx, workflowID); err != nil {
		return err
	}
	s.logger.Info().Str("workflow_id", workflowID).Msg("workflow: reset")
	return nil
}

// RetryFailed flips only failed items back to pending, leaving completed
// items untouched. A workflow with no failed items yields an empty, non-error
// result.
func (s *Service) RetryFailed(ctx context.Context, workflowID string) (*RetryResult, error) {
	if _, err := s.repo.GetByID(ctx, workflowID); err != nil {
		return nil, err
	}
	refs, err := s.repo.ResetFailedItems(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("workflow_id", workflowID).
		Int("retried", len(refs)).
		Msg("workflow: failed items reset")
	return &RetryResult{Retried: refs}, nil
}

// ListFailed returns the failed items without mutating anything.
func (s *Service) ListFailed(ctx context.Context, workflowID string) ([]domain.WorkflowItem, error) {
	if _, err := s.repo.GetByID(ctx, workflowID); err != nil {
		return nil, err
	}
	return s.repo.ListItemsByStatus(ctx, workflowID, domain.ItemStatusFailed)
}

// Status returns the workflow, its items, a per-status breakdown and the
// completion percentage.
func (s *Service) Status(ctx context.Context, workflowID string) (*StatusReport, error) {
	wf, err := s.repo.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.ListItems(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	counts := make(map[domain.ItemStatus]int, 4)
	for _, it := range items {
		counts[it.Status]++
	}
	return &StatusReport{
		Workflow: wf,
		Items:    items,
		Counts:   counts,
		Progress: wf.Progress(),
	}, nil
}

// List returns every workflow.
func (s *Service) List(ctx context.Context) ([]domain.Workflow, error) {
	return s.repo.List(ctx)
}

// Delete removes the workflow; owned items cascade.
func (s *Service) Delete(ctx context.Context, workflowID string) error {
	if err := s.repo.Delete(ctx, workflowID); err != nil {
		return err
	}
	s.logger.Info().Str("workflow_id", workflowID).Msg("workflow: deleted")
	return nil
}

func normalizeRender(spec WorkflowSpec) (jsoncfg.RenderConfig, error) {
	render := jsoncfg.RenderConfig{
		ImageSize:   spec.ImageSize,
		ImageFormat: spec.ImageFormat,
		Engine:      spec.Engine,
	}
	render.Normalize()
	if err := render.Validate(); err != nil {
		return render, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return render, nil
}

func buildItems(workflowID string, specs []ItemSpec) ([]domain.WorkflowItem, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", domain.ErrValidation)
	}
	items := make([]domain.WorkflowItem, 0, len(specs))
	for i, spec := range specs {
		item := domain.WorkflowItem{
			ID:          uuid.NewString(),
			WorkflowID:  workflowID,
			Position:    i,
			Reference:   spec.Reference,
			ASIN:        spec.ASIN,
			ProductName: spec.ProductName,
			ImageURLs:   spec.ImageURLs,
			Status:      domain.ItemStatusPending,
		}
		if err := item.Validate(); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}
