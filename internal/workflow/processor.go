package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"server/internal/domain"
	"server/internal/gallery"
	"server/internal/infra"
	"server/internal/middleware"
	"server/internal/providers/analysis"
	"server/internal/providers/image"
)

// ItemResult is the per-reference outcome reported back to the batch driver.
type ItemResult struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// Processor drives the two-stage pipeline (analysis, then one generation call
// per prompt) for a single workflow item. Every failure is absorbed here and
// recorded on the item; nothing propagates to the batch driver.
type Processor struct {
	repo      domain.WorkflowRepository
	analyzer  analysis.Analyzer
	generator image.Generator
	gallery   gallery.Store
	logger    infra.Logger
	now       func() time.Time
}

// NewProcessor wires the item processor.
func NewProcessor(repo domain.WorkflowRepository, analyzer analysis.Analyzer, generator image.Generator, store gallery.Store, logger infra.Logger) *Processor {
	return &Processor{
		repo:      repo,
		analyzer:  analyzer,
		generator: generator,
		gallery:   store,
		logger:    logger,
		now:       time.Now,
	}
}

// Process runs the full pipeline for one item and returns its outcome.
func (p *Processor) Process(ctx context.Context, wf *domain.Workflow, item *domain.WorkflowItem) (res ItemResult) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("unexpected failure: %v", r)
			p.logger.Error().Str("workflow_id", wf.ID).Str("reference", item.Reference).Msg("processor: " + msg)
			p.failItem(ctx, item, msg)
			res = ItemResult{Reference: item.Reference, Status: string(domain.ItemStatusFailed), Error: msg}
		}
	}()

	p.logger.Info().
		Str("workflow_id", wf.ID).
		Str("reference", item.Reference).
		Int("images", wf.ImagesPerReference).
		Msg("processor: item started")

	if err := p.repo.MarkItemProcessing(ctx, item.ID); err != nil {
		return p.fail(ctx, item, fmt.Sprintf("mark processing: %v", err))
	}

	result, err := p.analyzer.Analyze(ctx, analysis.Request{
		ProductName:     item.ProductName,
		ImageURL:        item.ImageURLs[0],
		Mode:            wf.PromptMode,
		Count:           wf.ImagesPerReference,
		GlobalParams:    wf.GlobalParams,
		SpecificPrompts: wf.SpecificPrompts,
		Locale:          middleware.LocaleFromContext(ctx),
	})
	if err != nil {
		return p.fail(ctx, item, fmt.Sprintf("analysis: %v", err))
	}
	if len(result.Prompts) != wf.ImagesPerReference {
		return p.fail(ctx, item, fmt.Sprintf("%v: expected %d prompts, got %d",
			domain.ErrAnalysisMismatch, wf.ImagesPerReference, len(result.Prompts)))
	}

	// Persist detection immediately so the item keeps partial progress for
	// diagnostics even when generation fails later.
	if err := p.repo.SaveItemAnalysis(ctx, item.ID, result.ProductType, result.Description, result.Confidence, result.Prompts); err != nil {
		return p.fail(ctx, item, fmt.Sprintf("save analysis: %v", err))
	}

	var pending []gallery.Image
	var slotErrors []string
	for i, prompt := range result.Prompts {
		index := i + 1
		asset, err := p.generator.Generate(ctx, image.GenerateRequest{
			Prompt:             prompt,
			ReferenceImageURLs: []string{item.ImageURLs[0]},
			Size:               wf.ImageSize,
			Format:             wf.ImageFormat,
			Engine:             wf.Engine,
			RequestID:          fmt.Sprintf("%s-%d", item.ID, index),
		})
		if err != nil {
			// A failed slot never aborts the remaining slots.
			slotErrors = append(slotErrors, fmt.Sprintf("image %d: %v", index, err))
			p.logger.Warn().
				Err(err).
				Str("workflow_id", wf.ID).
				Str("reference", item.Reference).
				Int("index", index).
				Msg("processor: generation slot failed")
			continue
		}
		pending = append(pending, gallery.Image{
			Reference: item.Reference,
			ASIN:      item.ASIN,
			Index:     index,
			Prompt:    prompt,
			SourceURL: asset.URL,
			Format:    asset.Format,
			Data:      asset.Data,
		})
	}

	if len(pending) == 0 {
		msg := "all generation attempts failed"
		if len(slotErrors) > 0 {
			msg = strings.Join(slotErrors, "; ")
		}
		return p.fail(ctx, item, msg)
	}

	records, err := p.gallery.AddImages(ctx, wf.ProjectID, pending)
	if err != nil {
		return p.fail(ctx, item, fmt.Sprintf("gallery: %v", err))
	}

	images := make([]domain.GeneratedImage, 0, len(records))
	for i, rec := range records {
		url := rec.SourceURL
		if url == "" {
			url = rec.StorageKey
		}
		images = append(images, domain.GeneratedImage{
			URL:    url,
			Prompt: pending[i].Prompt,
			Index:  pending[i].Index,
		})
	}

	if err := p.repo.CompleteItem(ctx, item.ID, images, p.now()); err != nil {
		return p.fail(ctx, item, fmt.Sprintf("complete item: %v", err))
	}

	p.logger.Info().
		Str("workflow_id", wf.ID).
		Str("reference", item.Reference).
		Int("generated", len(images)).
		Int("failed_slots", len(slotErrors)).
		Msg("processor: item completed")

	return ItemResult{Reference: item.Reference, Status: string(domain.ItemStatusCompleted)}
}

func (p *Processor) fail(ctx context.Context, item *domain.WorkflowItem, msg string) ItemResult {
	p.failItem(ctx, item, msg)
	return ItemResult{Reference: item.Reference, Status: string(domain.ItemStatusFailed), Error: msg}
}

func (p *Processor) failItem(ctx context.Context, item *domain.WorkflowItem, msg string) {
	if err := p.repo.FailItem(ctx, item.ID, msg, p.now()); err != nil {
		p.logger.Error().
			Err(err).
			Str("reference", item.Reference).
			Msg("processor: persisting item failure failed")
	}
}
