package domain

import (
	"context"
	"time"
)

// WorkflowRepository defines persistence for workflows and their items.
type WorkflowRepository interface {
	// Create persists the workflow and its items as one logical unit. When
	// item insertion fails after the workflow row was written, the workflow
	// row is removed again so no orphaned workflow exists.
	Create(ctx context.Context, wf *Workflow, items []WorkflowItem) error
	// Update patches the mutable workflow specification fields.
	Update(ctx context.Context, wf *Workflow) error
	// ReplaceItems deletes all existing items, inserts the replacement set and
	// resets counters to {len(items), 0, 0} and status to pending.
	ReplaceItems(ctx context.Context, workflowID string, items []WorkflowItem) error
	Delete(ctx context.Context, workflowID string) error

	GetByID(ctx context.Context, workflowID string) (*Workflow, error)
	List(ctx context.Context) ([]Workflow, error)
	ListItems(ctx context.Context, workflowID string) ([]WorkflowItem, error)
	ListItemsByStatus(ctx context.Context, workflowID string, status ItemStatus) ([]WorkflowItem, error)

	// MarkProcessing transitions the workflow to processing and stamps started_at.
	MarkProcessing(ctx context.Context, workflowID string, startedAt time.Time) error
	// MarkCompleted transitions the workflow to completed and stamps completed_at.
	MarkCompleted(ctx context.Context, workflowID string, completedAt time.Time) error
	// MarkFailed records a catastrophic workflow-level failure.
	MarkFailed(ctx context.Context, workflowID string) error
	// IncrementProcessed and IncrementFailed bump the aggregate counters with
	// an atomic database-side increment so concurrent status polls never
	// observe lost updates.
	IncrementProcessed(ctx context.Context, workflowID string) error
	IncrementFailed(ctx context.Context, workflowID string) error

	// Reset returns the workflow and every item to the pristine pending state.
	Reset(ctx context.Context, workflowID string) error
	// ResetFailedItems flips failed items back to pending, clears their
	// analysis/generation state, recomputes processed_items from completed
	// items and zeroes failed_items. It returns the retried references.
	ResetFailedItems(ctx context.Context, workflowID string) ([]string, error)

	MarkItemProcessing(ctx context.Context, itemID string) error
	SaveItemAnalysis(ctx context.Context, itemID, productType, description string, confidence float64, prompts []string) error
	CompleteItem(ctx context.Context, itemID string, images []GeneratedImage, processedAt time.Time) error
	FailItem(ctx context.Context, itemID, errorMessage string, processedAt time.Time) error

	// ListStaleProcessing returns ids of workflows left in processing whose
	// run started before the cutoff, oldest first. Used by the resumer.
	ListStaleProcessing(ctx context.Context, cutoff time.Time) ([]string, error)
	// RequeueProcessingItems flips items stuck in processing back to pending
	// and clears their state, so an interrupted batch can be re-driven.
	RequeueProcessingItems(ctx context.Context, workflowID string) error
}

// GalleryRepository persists generated image records for a project.
type GalleryRepository interface {
	Insert(ctx context.Context, rec *ProjectImage) error
	ListByWorkflowProject(ctx context.Context, projectID string) ([]ProjectImage, error)
}

// ProjectImage is one persisted gallery record.
type ProjectImage struct {
	ID         string
	ProjectID  string
	Reference  string
	ASIN       string
	ImageIndex int
	Prompt     string
	StorageKey string
	SourceURL  string
	CreatedAt  time.Time
}
