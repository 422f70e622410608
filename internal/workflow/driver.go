package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"server/internal/domain"
	"server/internal/infra"
)

// ItemProcessor is implemented by the Processor; the driver depends on the
// interface so batch behavior is testable in isolation.
type ItemProcessor interface {
	Process(ctx context.Context, wf *domain.Workflow, item *domain.WorkflowItem) ItemResult
}

// Summary is the outcome of one batch run.
type Summary struct {
	WorkflowID   string       `json:"workflowId"`
	Total        int          `json:"total"`
	SuccessCount int          `json:"successCount"`
	FailedCount  int          `json:"failedCount"`
	Results      []ItemResult `json:"results"`
}

// Driver iterates a workflow's pending items in creation order, invoking the
// item processor for each, strictly one at a time. A per-workflow guard
// rejects a second concurrent run of the same workflow.
type Driver struct {
	repo      domain.WorkflowRepository
	processor ItemProcessor
	logger    infra.Logger
	now       func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewDriver wires the batch driver.
func NewDriver(repo domain.WorkflowRepository, processor ItemProcessor, logger infra.Logger) *Driver {
	return &Driver{
		repo:      repo,
		processor: processor,
		logger:    logger,
		now:       time.Now,
		inflight:  make(map[string]struct{}),
	}
}

// Process runs the batch for one workflow until no pending item remains.
// Per-item failures are absorbed into the summary; only workflow-record level
// faults surface as errors.
func (d *Driver) Process(ctx context.Context, workflowID string) (*Summary, error) {
	wf, err := d.repo.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if !d.acquire(workflowID) {
		return nil, fmt.Errorf("%w: workflow %s", domain.ErrConflict, workflowID)
	}
	defer d.release(workflowID)

	if err := d.repo.MarkProcessing(ctx, workflowID, d.now()); err != nil {
		return nil, fmt.Errorf("mark processing: %w", err)
	}

	items, err := d.repo.ListItemsByStatus(ctx, workflowID, domain.ItemStatusPending)
	if err != nil {
		d.markFailed(ctx, workflowID)
		return nil, fmt.Errorf("list pending items: %w", err)
	}

	summary := &Summary{WorkflowID: workflowID, Total: len(items)}
	d.logger.Info().
		Str("workflow_id", workflowID).
		Int("pending", len(items)).
		Msg("driver: batch started")

	for i := range items {
		item := &items[i]
		res := d.safeProcess(ctx, wf, item)
		summary.Results = append(summary.Results, res)
		// Counters are persisted immediately after every item so a crash
		// mid-batch leaves accurate progress behind.
		if res.Status == string(domain.ItemStatusCompleted) {
			summary.SuccessCount++
			if err := d.repo.IncrementProcessed(ctx, workflowID); err != nil {
				d.logger.Error().Err(err).Str("workflow_id", workflowID).Msg("driver: increment processed failed")
			}
		} else {
			summary.FailedCount++
			if err := d.repo.IncrementFailed(ctx, workflowID); err != nil {
				d.logger.Error().Err(err).Str("workflow_id", workflowID).Msg("driver: increment failed failed")
			}
		}
	}

	if err := d.repo.MarkCompleted(ctx, workflowID, d.now()); err != nil {
		d.markFailed(ctx, workflowID)
		return nil, fmt.Errorf("mark completed: %w", err)
	}

	d.logger.Info().
		Str("workflow_id", workflowID).
		Int("success", summary.SuccessCount).
		Int("failed", summary.FailedCount).
		Msg("driver: batch finished")

	return summary, nil
}

// safeProcess shields the loop from a misbehaving processor. The processor
// already recovers internally; this is the driver's own boundary.
func (d *Driver) safeProcess(ctx context.Context, wf *domain.Workflow, item *domain.WorkflowItem) (res ItemResult) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("item processor panicked: %v", r)
			d.logger.Error().Str("workflow_id", wf.ID).Str("reference", item.Reference).Msg("driver: " + msg)
			res = ItemResult{Reference: item.Reference, Status: string(domain.ItemStatusFailed), Error: msg}
		}
	}()
	return d.processor.Process(ctx, wf, item)
}

func (d *Driver) markFailed(ctx context.Context, workflowID string) {
	if err := d.repo.MarkFailed(ctx, workflowID); err != nil {
		d.logger.Error().Err(err).Str("workflow_id", workflowID).Msg("driver: mark failed failed")
	}
}

func (d *Driver) acquire(workflowID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inflight[workflowID]; busy {
		return false
	}
	d.inflight[workflowID] = struct{}{}
	return true
}

func (d *Driver) release(workflowID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inflight, workflowID)
}
