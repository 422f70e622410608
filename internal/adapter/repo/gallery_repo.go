package repo

import (
	"context"

	"server/internal/domain"
	"server/internal/infra"
)

// GalleryRepositoryPG implements domain.GalleryRepository on PostgreSQL.
type GalleryRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewGalleryRepository creates a gallery record repository backed by PostgreSQL.
func NewGalleryRepository(sql infra.SQLExecutor) *GalleryRepositoryPG {
	return &GalleryRepositoryPG{sql: sql}
}

// Insert persists one generated image record.
func (r *GalleryRepositoryPG) Insert(ctx context.Context, rec *domain.ProjectImage) error {
	query := `
INSERT INTO project_images (id, project_id, reference, asin, image_index, prompt, storage_key, source_url)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
`
	_, err := r.sql.Exec(ctx, query,
		rec.ID,
		rec.ProjectID,
		rec.Reference,
		rec.ASIN,
		rec.ImageIndex,
		rec.Prompt,
		rec.StorageKey,
		rec.SourceURL,
	)
	return err
}

// ListByWorkflowProject returns all gallery records for a project, ordered by
// reference then image index so exports are deterministic.
func (r *GalleryRepositoryPG) ListByWorkflowProject(ctx context.Context, projectID string) ([]domain.ProjectImage, error) {
	query := `
SELECT id, project_id, reference, asin, image_index, prompt, storage_key, source_url, created_at
FROM project_images
WHERE project_id = $1
ORDER BY reference, image_index;
`
	rows, err := r.sql.Query(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ProjectImage
	for rows.Next() {
		var rec domain.ProjectImage
		if err := rows.Scan(
			&rec.ID,
			&rec.ProjectID,
			&rec.Reference,
			&rec.ASIN,
			&rec.ImageIndex,
			&rec.Prompt,
			&rec.StorageKey,
			&rec.SourceURL,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

var _ domain.GalleryRepository = (*GalleryRepositoryPG)(nil)
