package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"server/internal/domain"
	"server/internal/infra"
)

// WorkflowRepositoryPG implements domain.WorkflowRepository on PostgreSQL.
type WorkflowRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewWorkflowRepository creates a workflow repository backed by PostgreSQL.
func NewWorkflowRepository(sql infra.SQLExecutor) *WorkflowRepositoryPG {
	return &WorkflowRepositoryPG{sql: sql}
}

const workflowColumns = `id, name, project_id, prompt_mode, images_per_reference, global_params,
specific_prompts, image_size, image_format, engine, status,
total_items, processed_items, failed_items, created_at, started_at, completed_at`

const itemColumns = `id, workflow_id, position, reference, asin, product_name, image_urls, status,
detected_product_type, detection_description, detection_confidence,
generated_prompts, generated_images, error_message, processed_at`

// Create inserts the workflow and its items as one logical unit. When any
// item insert fails the workflow row is deleted again, so a workflow never
// exists without its item set.
func (r *WorkflowRepositoryPG) Create(ctx context.Context, wf *domain.Workflow, items []domain.WorkflowItem) error {
	query := `
INSERT INTO workflows (id, name, project_id, prompt_mode, images_per_reference, global_params,
                       specific_prompts, image_size, image_format, engine, status,
                       total_items, processed_items, failed_items)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 0, 0);
`
	_, err := r.sql.Exec(ctx, query,
		wf.ID,
		wf.Name,
		wf.ProjectID,
		wf.PromptMode,
		wf.ImagesPerReference,
		wf.GlobalParams,
		wf.SpecificPrompts,
		wf.ImageSize,
		wf.ImageFormat,
		wf.Engine,
		wf.Status,
		wf.TotalItems,
	)
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}
	if err := r.insertItems(ctx, wf.ID, items); err != nil {
		if _, delErr := r.sql.Exec(ctx, `DELETE FROM workflows WHERE id = $1;`, wf.ID); delErr != nil {
			return fmt.Errorf("insert items: %w (compensating delete failed: %v)", err, delErr)
		}
		return fmt.Errorf("insert items: %w", err)
	}
	return nil
}

func (r *WorkflowRepositoryPG) insertItems(ctx context.Context, workflowID string, items []domain.WorkflowItem) error {
	query := `
INSERT INTO workflow_items (id, workflow_id, position, reference, asin, product_name, image_urls, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
`
	for i := range items {
		it := &items[i]
		if _, err := r.sql.Exec(ctx, query,
			it.ID,
			workflowID,
			it.Position,
			it.Reference,
			it.ASIN,
			it.ProductName,
			it.ImageURLs,
			it.Status,
		); err != nil {
			return fmt.Errorf("item %q: %w", it.Reference, err)
		}
	}
	return nil
}

// Update patches the mutable workflow specification fields.
func (r *WorkflowRepositoryPG) Update(ctx context.Context, wf *domain.Workflow) error {
	query := `
UPDATE workflows
SET name = $2,
    prompt_mode = $3,
    images_per_reference = $4,
    global_params = $5,
    specific_prompts = $6,
    image_size = $7,
    image_format = $8,
    engine = $9
WHERE id = $1;
`
	tag, err := r.sql.Exec(ctx, query,
		wf.ID,
		wf.Name,
		wf.PromptMode,
		wf.ImagesPerReference,
		wf.GlobalParams,
		wf.SpecificPrompts,
		wf.ImageSize,
		wf.ImageFormat,
		wf.Engine,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ReplaceItems swaps the entire item set, resetting counters and status.
func (r *WorkflowRepositoryPG) ReplaceItems(ctx context.Context, workflowID string, items []domain.WorkflowItem) error {
	if _, err := r.sql.Exec(ctx, `DELETE FROM workflow_items WHERE workflow_id = $1;`, workflowID); err != nil {
		return fmt.Errorf("delete items: %w", err)
	}
	if err := r.insertItems(ctx, workflowID, items); err != nil {
		return err
	}
	query := `
UPDATE workflows
SET total_items = $2,
    processed_items = 0,
    failed_items = 0,
    status = $3,
    started_at = NULL,
    completed_at = NULL
WHERE id = $1;
`
	_, err := r.sql.Exec(ctx, query, workflowID, len(items), domain.WorkflowStatusPending)
	return err
}

// Delete removes the workflow; items go with it via the cascade constraint.
func (r *WorkflowRepositoryPG) Delete(ctx context.Context, workflowID string) error {
	tag, err := r.sql.Exec(ctx, `DELETE FROM workflows WHERE id = $1;`, workflowID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID fetches a workflow by its identifier.
func (r *WorkflowRepositoryPG) GetByID(ctx context.Context, workflowID string) (*domain.Workflow, error) {
	row := r.sql.QueryRow(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = $1;`, workflowID)
	wf, err := scanWorkflow(row)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return wf, nil
}

// List returns all workflows, newest first.
func (r *WorkflowRepositoryPG) List(ctx context.Context) ([]domain.Workflow, error) {
	rows, err := r.sql.Query(ctx, `SELECT `+workflowColumns+` FROM workflows ORDER BY created_at DESC;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *wf)
	}
	return out, rows.Err()
}

// ListItems returns a workflow's items in insertion order.
func (r *WorkflowRepositoryPG) ListItems(ctx context.Context, workflowID string) ([]domain.WorkflowItem, error) {
	query := `SELECT ` + itemColumns + ` FROM workflow_items WHERE workflow_id = $1 ORDER BY position;`
	return r.queryItems(ctx, query, workflowID)
}

// ListItemsByStatus returns a workflow's items with the given status in insertion order.
func (r *WorkflowRepositoryPG) ListItemsByStatus(ctx context.Context, workflowID string, status domain.ItemStatus) ([]domain.WorkflowItem, error) {
	query := `SELECT ` + itemColumns + ` FROM workflow_items WHERE workflow_id = $1 AND status = $2 ORDER BY position;`
	return r.queryItems(ctx, query, workflowID, status)
}

func (r *WorkflowRepositoryPG) queryItems(ctx context.Context, query string, args ...any) ([]domain.WorkflowItem, error) {
	rows, err := r.sql.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.WorkflowItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *it)
	}
	return out, rows.Err()
}

// MarkProcessing transitions the workflow to processing and stamps started_at.
func (r *WorkflowRepositoryPG) MarkProcessing(ctx context.Context, workflowID string, startedAt time.Time) error {
	return r.setStatus(ctx, workflowID, `UPDATE workflows SET status = $2, started_at = $3 WHERE id = $1;`,
		domain.WorkflowStatusProcessing, startedAt)
}

// MarkCompleted transitions the workflow to completed and stamps completed_at.
func (r *WorkflowRepositoryPG) MarkCompleted(ctx context.Context, workflowID string, completedAt time.Time) error {
	return r.setStatus(ctx, workflowID, `UPDATE workflows SET status = $2, completed_at = $3 WHERE id = $1;`,
		domain.WorkflowStatusCompleted, completedAt)
}

// MarkFailed records a catastrophic workflow-level failure.
func (r *WorkflowRepositoryPG) MarkFailed(ctx context.Context, workflowID string) error {
	tag, err := r.sql.Exec(ctx, `UPDATE workflows SET status = $2 WHERE id = $1;`, workflowID, domain.WorkflowStatusFailed)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *WorkflowRepositoryPG) setStatus(ctx context.Context, workflowID, query string, status domain.WorkflowStatus, ts time.Time) error {
	tag, err := r.sql.Exec(ctx, query, workflowID, status, ts)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// IncrementProcessed bumps processed_items with a database-side atomic update.
func (r *WorkflowRepositoryPG) IncrementProcessed(ctx context.Context, workflowID string) error {
	_, err := r.sql.Exec(ctx, `UPDATE workflows SET processed_items = processed_items + 1 WHERE id = $1;`, workflowID)
	return err
}

// IncrementFailed bumps failed_items with a database-side atomic update.
func (r *WorkflowRepositoryPG) IncrementFailed(ctx context.Context, workflowID string) error {
	_, err := r.sql.Exec(ctx, `UPDATE workflows SET failed_items = failed_items + 1 WHERE id = $1;`, workflowID)
	return err
}

// Reset returns the workflow and all of its items to the pristine pending state.
func (r *WorkflowRepositoryPG) Reset(ctx context.Context, workflowID string) error {
	query := `
UPDATE workflows
SET status = $2,
    processed_items = 0,
    failed_items = 0,
    started_at = NULL,
    completed_at = NULL
WHERE id = $1;
`
	tag, err := r.sql.Exec(ctx, query, workflowID, domain.WorkflowStatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	_, err = r.sql.Exec(ctx, clearItemsQuery+`WHERE workflow_id = $1;`, workflowID)
	return err
}

const clearItemsQuery = `
UPDATE workflow_items
SET status = 'pending',
    detected_product_type = '',
    detection_description = '',
    detection_confidence = 0,
    generated_prompts = '{}',
    generated_images = NULL,
    error_message = '',
    processed_at = NULL
`

// ResetFailedItems flips failed items back to pending, clears their state and
// reconciles the workflow counters. It returns the retried references.
func (r *WorkflowRepositoryPG) ResetFailedItems(ctx context.Context, workflowID string) ([]string, error) {
	rows, err := r.sql.Query(ctx,
		`SELECT reference FROM workflow_items WHERE workflow_id = $1 AND status = $2 ORDER BY position;`,
		workflowID, domain.ItemStatusFailed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var refs []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, nil
	}
	if _, err := r.sql.Exec(ctx, clearItemsQuery+`WHERE workflow_id = $1 AND status = 'failed';`, workflowID); err != nil {
		return nil, err
	}
	query := `
UPDATE workflows
SET processed_items = (SELECT COUNT(*) FROM workflow_items WHERE workflow_id = $1 AND status = 'completed'),
    failed_items = 0,
    completed_at = NULL
WHERE id = $1;
`
	if _, err := r.sql.Exec(ctx, query, workflowID); err != nil {
		return nil, err
	}
	return refs, nil
}

// MarkItemProcessing makes the in-flight item visible to status polling.
func (r *WorkflowRepositoryPG) MarkItemProcessing(ctx context.Context, itemID string) error {
	_, err := r.sql.Exec(ctx, `UPDATE workflow_items SET status = $2 WHERE id = $1;`, itemID, domain.ItemStatusProcessing)
	return err
}

// SaveItemAnalysis persists detection results and prompts right after a
// successful analysis, so the item keeps partial progress for diagnostics.
func (r *WorkflowRepositoryPG) SaveItemAnalysis(ctx context.Context, itemID, productType, description string, confidence float64, prompts []string) error {
	query := `
UPDATE workflow_items
SET detected_product_type = $2,
    detection_description = $3,
    detection_confidence = $4,
    generated_prompts = $5
WHERE id = $1;
`
	_, err := r.sql.Exec(ctx, query, itemID, productType, description, confidence, prompts)
	return err
}

// CompleteItem stores the generated images and finishes the item.
func (r *WorkflowRepositoryPG) CompleteItem(ctx context.Context, itemID string, images []domain.GeneratedImage, processedAt time.Time) error {
	payload, err := json.Marshal(images)
	if err != nil {
		return fmt.Errorf("encode generated images: %w", err)
	}
	query := `
UPDATE workflow_items
SET status = $2,
    generated_images = $3,
    error_message = '',
    processed_at = $4
WHERE id = $1;
`
	_, err = r.sql.Exec(ctx, query, itemID, domain.ItemStatusCompleted, payload, processedAt)
	return err
}

// FailItem records the failure reason and finishes the item.
func (r *WorkflowRepositoryPG) FailItem(ctx context.Context, itemID, errorMessage string, processedAt time.Time) error {
	query := `
UPDATE workflow_items
SET status = $2,
    error_message = $3,
    processed_at = $4
WHERE id = $1;
`
	_, err := r.sql.Exec(ctx, query, itemID, domain.ItemStatusFailed, errorMessage, processedAt)
	return err
}

// ListStaleProcessing returns workflows left in processing since before cutoff.
func (r *WorkflowRepositoryPG) ListStaleProcessing(ctx context.Context, cutoff time.Time) ([]string, error) {
	query := `
SELECT id FROM workflows
WHERE status = $1 AND started_at IS NOT NULL AND started_at < $2
ORDER BY started_at;
`
	rows, err := r.sql.Query(ctx, query, domain.WorkflowStatusProcessing, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RequeueProcessingItems returns items stuck mid-flight to pending so a
// resumed batch picks them up again.
func (r *WorkflowRepositoryPG) RequeueProcessingItems(ctx context.Context, workflowID string) error {
	_, err := r.sql.Exec(ctx, clearItemsQuery+`WHERE workflow_id = $1 AND status = 'processing';`, workflowID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*domain.Workflow, error) {
	var wf domain.Workflow
	if err := row.Scan(
		&wf.ID,
		&wf.Name,
		&wf.ProjectID,
		&wf.PromptMode,
		&wf.ImagesPerReference,
		&wf.GlobalParams,
		&wf.SpecificPrompts,
		&wf.ImageSize,
		&wf.ImageFormat,
		&wf.Engine,
		&wf.Status,
		&wf.TotalItems,
		&wf.ProcessedItems,
		&wf.FailedItems,
		&wf.CreatedAt,
		&wf.StartedAt,
		&wf.CompletedAt,
	); err != nil {
		return nil, err
	}
	return &wf, nil
}

func scanItem(row rowScanner) (*domain.WorkflowItem, error) {
	var it domain.WorkflowItem
	var images []byte
	if err := row.Scan(
		&it.ID,
		&it.WorkflowID,
		&it.Position,
		&it.Reference,
		&it.ASIN,
		&it.ProductName,
		&it.ImageURLs,
		&it.Status,
		&it.DetectedProductType,
		&it.DetectionDescription,
		&it.DetectionConfidence,
		&it.GeneratedPrompts,
		&images,
		&it.ErrorMessage,
		&it.ProcessedAt,
	); err != nil {
		return nil, err
	}
	if len(images) > 0 {
		if err := json.Unmarshal(images, &it.GeneratedImages); err != nil {
			return nil, fmt.Errorf("decode generated images: %w", err)
		}
	}
	return &it, nil
}

var _ domain.WorkflowRepository = (*WorkflowRepositoryPG)(nil)
