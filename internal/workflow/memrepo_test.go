package workflow

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/infra"
)

func testLogger() infra.Logger {
	return zerolog.New(io.Discard)
}

// memRepo is the in-memory repository shared by the package tests.
type memRepo struct {
	mu        sync.Mutex
	workflows map[string]*domain.Workflow
	items     map[string][]domain.WorkflowItem
}

func newMemRepo() *memRepo {
	return &memRepo{
		workflows: make(map[string]*domain.Workflow),
		items:     make(map[string][]domain.WorkflowItem),
	}
}

func (m *memRepo) Create(ctx context.Context, wf *domain.Workflow, items []domain.WorkflowItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *wf
	m.workflows[wf.ID] = &cp
	m.items[wf.ID] = append([]domain.WorkflowItem(nil), items...)
	return nil
}

func (m *memRepo) Update(ctx context.Context, wf *domain.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.workflows[wf.ID]
	if !ok {
		return domain.ErrNotFound
	}
	cur.Name = wf.Name
	cur.PromptMode = wf.PromptMode
	cur.ImagesPerReference = wf.ImagesPerReference
	cur.GlobalParams = wf.GlobalParams
	cur.SpecificPrompts = wf.SpecificPrompts
	cur.ImageSize = wf.ImageSize
	cur.ImageFormat = wf.ImageFormat
	cur.Engine = wf.Engine
	return nil
}

func (m *memRepo) ReplaceItems(ctx context.Context, workflowID string, items []domain.WorkflowItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[workflowID]
	if !ok {
		return domain.ErrNotFound
	}
	m.items[workflowID] = append([]domain.WorkflowItem(nil), items...)
	wf.TotalItems = len(items)
	wf.ProcessedItems = 0
	wf.FailedItems = 0
	wf.Status = domain.WorkflowStatusPending
	wf.StartedAt = nil
	wf.CompletedAt = nil
	return nil
}

func (m *memRepo) Delete(ctx context.Context, workflowID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workflows[workflowID]; !ok {
		return domain.ErrNotFound
	}
	delete(m.workflows, workflowID)
	delete(m.items, workflowID)
	return nil
}

func (m *memRepo) GetByID(ctx context.Context, workflowID string) (*domain.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[workflowID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *wf
	return &cp, nil
}

func (m *memRepo) List(ctx context.Context) ([]domain.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Workflow
	for _, wf := range m.workflows {
		out = append(out, *wf)
	}
	return out, nil
}

func (m *memRepo) ListItems(ctx context.Context, workflowID string) ([]domain.WorkflowItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.WorkflowItem(nil), m.items[workflowID]...), nil
}

func (m *memRepo) ListItemsByStatus(ctx context.Context, workflowID string, status domain.ItemStatus) ([]domain.WorkflowItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.WorkflowItem
	for _, it := range m.items[workflowID] {
		if it.Status == status {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *memRepo) MarkProcessing(ctx context.Context, workflowID string, startedAt time.Time) error {
	return m.setStatus(workflowID, domain.WorkflowStatusProcessing, &startedAt, nil)
}

func (m *memRepo) MarkCompleted(ctx context.Context, workflowID string, completedAt time.Time) error {
	return m.setStatus(workflowID, domain.WorkflowStatusCompleted, nil, &completedAt)
}

func (m *memRepo) MarkFailed(ctx context.Context, workflowID string) error {
	return m.setStatus(workflowID, domain.WorkflowStatusFailed, nil, nil)
}

func (m *memRepo) setStatus(workflowID string, status domain.WorkflowStatus, startedAt, completedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[workflowID]
	if !ok {
		return domain.ErrNotFound
	}
	wf.Status = status
	if startedAt != nil {
		wf.StartedAt = startedAt
	}
	if completedAt != nil {
		wf.CompletedAt = completedAt
	}
	return nil
}

func (m *memRepo) IncrementProcessed(ctx context.Context, workflowID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if wf, ok := m.workflows[workflowID]; ok {
		wf.ProcessedItems++
	}
	return nil
}

func (m *memRepo) IncrementFailed(ctx context.Context, workflowID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if wf, ok := m.workflows[workflowID]; ok {
		wf.FailedItems++
	}
	return nil
}

func (m *memRepo) Reset(ctx context.Context, workflowID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[workflowID]
	if !ok {
		return domain.ErrNotFound
	}
	wf.Status = domain.WorkflowStatusPending
	wf.ProcessedItems = 0
	wf.FailedItems = 0
	wf.StartedAt = nil
	wf.CompletedAt = nil
	items := m.items[workflowID]
	for i := range items {
		clearItem(&items[i])
	}
	return nil
}

func clearItem(it *domain.WorkflowItem) {
	it.Status = domain.ItemStatusPending
	it.DetectedProductType = ""
	it.DetectionDescription = ""
	it.DetectionConfidence = 0
	it.GeneratedPrompts = nil
	it.GeneratedImages = nil
	it.ErrorMessage = ""
	it.ProcessedAt = nil
}

func (m *memRepo) ResetFailedItems(ctx context.Context, workflowID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[workflowID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	items := m.items[workflowID]
	var refs []string
	completed := 0
	for i := range items {
		switch items[i].Status {
		case domain.ItemStatusFailed:
			refs = append(refs, items[i].Reference)
			clearItem(&items[i])
		case domain.ItemStatusCompleted:
			completed++
		}
	}
	if len(refs) == 0 {
		return nil, nil
	}
	wf.ProcessedItems = completed
	wf.FailedItems = 0
	wf.CompletedAt = nil
	return refs, nil
}

func (m *memRepo) MarkItemProcessing(ctx context.Context, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if it := m.findItem(itemID); it != nil {
		it.Status = domain.ItemStatusProcessing
	}
	return nil
}

func (m *memRepo) SaveItemAnalysis(ctx context.Context, itemID, productType, description string, confidence float64, prompts []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if it := m.findItem(itemID); it != nil {
		it.DetectedProductType = productType
		it.DetectionDescription = description
		it.DetectionConfidence = confidence
		it.GeneratedPrompts = prompts
	}
	return nil
}

func (m *memRepo) CompleteItem(ctx context.Context, itemID string, images []domain.GeneratedImage, processedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if it := m.findItem(itemID); it != nil {
		it.Status = domain.ItemStatusCompleted
		it.GeneratedImages = images
		it.ErrorMessage = ""
		it.ProcessedAt = &processedAt
	}
	return nil
}

func (m *memRepo) FailItem(ctx context.Context, itemID, errorMessage string, processedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if it := m.findItem(itemID); it != nil {
		it.Status = domain.ItemStatusFailed
		it.ErrorMessage = errorMessage
		it.ProcessedAt = &processedAt
	}
	return nil
}

func (m *memRepo) ListStaleProcessing(ctx context.Context, cutoff time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, wf := range m.workflows {
		if wf.Status == domain.WorkflowStatusProcessing && wf.StartedAt != nil && wf.StartedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *memRepo) RequeueProcessingItems(ctx context.Context, workflowID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.items[workflowID]
	for i := range items {
		if items[i].Status == domain.ItemStatusProcessing {
			clearItem(&items[i])
		}
	}
	return nil
}

func (m *memRepo) item(workflowID string, pos int) domain.WorkflowItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[workflowID][pos]
}

func (m *memRepo) findItem(itemID string) *domain.WorkflowItem {
	for id := range m.items {
		items := m.items[id]
		for i := range items {
			if items[i].ID == itemID {
				return &items[i]
			}
		}
	}
	return nil
}

var _ domain.WorkflowRepository = (*memRepo)(nil)
