package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"server/internal/adapter/repo"
	"server/internal/domain"
	"server/internal/gallery"
	"server/internal/infra"
	"server/internal/providers/analysis"
	"server/internal/providers/genai"
	"server/internal/providers/image"
	"server/internal/storage"
	"server/internal/workflow"
)

// The resumer re-drives workflows that were interrupted mid-batch: any
// workflow still marked processing past the resume age had its run cut short
// by a crash or restart, so its stuck items are requeued and the batch driver
// runs again.
type resumer struct {
	repo   domain.WorkflowRepository
	driver *workflow.Driver
	logger infra.Logger
	poll   time.Duration
	maxAge time.Duration
	now    func() time.Time
}

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	fileStore, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure storage")
	}

	geminiClient, err := genai.NewClient(genai.Options{
		APIKey:     cfg.GeminiAPIKey,
		BaseURL:    cfg.GeminiBaseURL,
		Model:      cfg.GeminiModel,
		ImageModel: cfg.GeminiImageModel,
		HTTPClient: &http.Client{Timeout: 120 * time.Second},
		Logger:     &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure gemini client")
	}

	workflowRepo := repo.NewWorkflowRepository(pool)
	galleryService := gallery.NewService(repo.NewGalleryRepository(pool), fileStore, logger)
	processor := workflow.NewProcessor(
		workflowRepo,
		analysis.NewGeminiAnalyzer(geminiClient),
		image.NewGeminiGenerator(geminiClient),
		galleryService,
		logger,
	)

	r := &resumer{
		repo:   workflowRepo,
		driver: workflow.NewDriver(workflowRepo, processor, logger),
		logger: logger,
		poll:   cfg.WorkerPoll,
		maxAge: cfg.WorkerResumeAge,
		now:    time.Now,
	}

	if err := r.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}

func (r *resumer) run(ctx context.Context) error {
	r.logger.Info().
		Dur("poll", r.poll).
		Dur("resume_after", r.maxAge).
		Msg("worker: started")

	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()

	for {
		r.sweep(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// sweep finds every stale workflow and re-drives it sequentially. Failures on
// one workflow never block the rest of the sweep.
func (r *resumer) sweep(ctx context.Context) {
	cutoff := r.now().Add(-r.maxAge)
	ids, err := r.repo.ListStaleProcessing(ctx, cutoff)
	if err != nil {
		r.logger.Error().Err(err).Msg("worker: listing stale workflows failed")
		return
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		r.resume(ctx, id)
	}
}

func (r *resumer) resume(ctx context.Context, workflowID string) {
	r.logger.Info().Str("workflow_id", workflowID).Msg("worker: resuming stale workflow")

	if err := r.repo.RequeueProcessingItems(ctx, workflowID); err != nil {
		r.logger.Error().Err(err).Str("workflow_id", workflowID).Msg("worker: requeue stuck items failed")
		return
	}

	summary, err := r.driver.Process(ctx, workflowID)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// Another run picked it up in the meantime.
			return
		}
		r.logger.Error().Err(err).Str("workflow_id", workflowID).Msg("worker: resume failed")
		return
	}
	r.logger.Info().
		Str("workflow_id", workflowID).
		Int("total", summary.Total).
		Int("success", summary.SuccessCount).
		Int("failed", summary.FailedCount).
		Msg("worker: workflow resumed")
}
