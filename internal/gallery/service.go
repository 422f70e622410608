package gallery

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/storage"
)

// Image is one generated image handed to the gallery for persistence.
type Image struct {
	Reference string
	ASIN      string
	Index     int
	Prompt    string
	SourceURL string
	Format    string
	Data      []byte
}

// Store is the gallery contract consumed by the item processor.
type Store interface {
	AddImages(ctx context.Context, projectID string, images []Image) ([]domain.ProjectImage, error)
}

// Service persists generated images: raw bytes onto the file store, one
// record per image into the gallery repository.
type Service struct {
	repo   domain.GalleryRepository
	files  *storage.FileStore
	logger infra.Logger
}

// NewService wires the gallery collaborator.
func NewService(repo domain.GalleryRepository, files *storage.FileStore, logger infra.Logger) *Service {
	return &Service{repo: repo, files: files, logger: logger}
}

// AddImages persists every image and returns the stored records in input
// order. The whole call fails on the first storage or repository error so the
// caller can fail the owning item rather than report a half-written gallery.
func (s *Service) AddImages(ctx context.Context, projectID string, images []Image) ([]domain.ProjectImage, error) {
	records := make([]domain.ProjectImage, 0, len(images))
	for _, img := range images {
		rec := domain.ProjectImage{
			ID:         uuid.NewString(),
			ProjectID:  projectID,
			Reference:  img.Reference,
			ASIN:       img.ASIN,
			ImageIndex: img.Index,
			Prompt:     img.Prompt,
			SourceURL:  img.SourceURL,
		}
		if len(img.Data) > 0 && s.files != nil {
			key := imageKey(projectID, img)
			saved, err := s.files.Write(ctx, key, img.Data)
			if err != nil {
				return nil, fmt.Errorf("gallery: persist image %s[%d]: %w", img.Reference, img.Index, err)
			}
			rec.StorageKey = saved
		}
		if err := s.repo.Insert(ctx, &rec); err != nil {
			return nil, fmt.Errorf("gallery: insert record %s[%d]: %w", img.Reference, img.Index, err)
		}
		s.logger.Debug().
			Str("project_id", projectID).
			Str("reference", img.Reference).
			Int("index", img.Index).
			Msg("gallery: image persisted")
		records = append(records, rec)
	}
	return records, nil
}

func imageKey(projectID string, img Image) string {
	base := img.Reference
	if asin := strings.TrimSpace(img.ASIN); asin != "" {
		base = base + "-" + asin
	}
	return fmt.Sprintf("projects/%s/%s/%s-%02d%s", projectID, img.Reference, base, img.Index, extensionForMIME(img.Format))
}

func extensionForMIME(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}

var _ Store = (*Service)(nil)
