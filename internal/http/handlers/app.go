package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/storage"
	"server/internal/workflow"
)

// WorkflowService is the lifecycle surface the handlers consume. The concrete
// implementation is workflow.Service; tests substitute fakes.
type WorkflowService interface {
	Create(ctx context.Context, spec workflow.WorkflowSpec, items []workflow.ItemSpec) (*domain.Workflow, error)
	Update(ctx context.Context, workflowID string, spec workflow.WorkflowSpec, newItems []workflow.ItemSpec) (*domain.Workflow, error)
	Reset(ctx context.Context, workflowID string) error
	RetryFailed(ctx context.Context, workflowID string) (*workflow.RetryResult, error)
	ListFailed(ctx context.Context, workflowID string) ([]domain.WorkflowItem, error)
	Status(ctx context.Context, workflowID string) (*workflow.StatusReport, error)
	List(ctx context.Context) ([]domain.Workflow, error)
	Delete(ctx context.Context, workflowID string) error
}

// BatchProcessor runs one workflow batch to completion.
type BatchProcessor interface {
	Process(ctx context.Context, workflowID string) (*workflow.Summary, error)
}

// App bundles the dependencies shared by all HTTP handlers.
type App struct {
	Service  WorkflowService
	Driver   BatchProcessor
	Gallery  domain.GalleryRepository
	Files    *storage.FileStore
	Logger   infra.Logger
	validate *validator.Validate
}

// NewApp constructs the handler container.
func NewApp(service WorkflowService, driver BatchProcessor, gallery domain.GalleryRepository, files *storage.FileStore, logger infra.Logger) *App {
	return &App{
		Service:  service,
		Driver:   driver,
		Gallery:  gallery,
		Files:    files,
		Logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]any{
		"success": false,
		"error":   errCode,
		"message": message,
	})
}

// fail maps domain errors onto the HTTP taxonomy: validation 400, unknown id
// 404, concurrent run 409, everything else 500.
func (a *App) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		a.error(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "workflow not found")
	case errors.Is(err, domain.ErrConflict):
		a.error(w, http.StatusConflict, "conflict", err.Error())
	default:
		a.Logger.Error().Err(err).Msg("handlers: internal error")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

// decode unmarshals and tag-validates a request body.
func (a *App) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.New("invalid payload")
	}
	if err := a.validate.Struct(dst); err != nil {
		return err
	}
	return nil
}
