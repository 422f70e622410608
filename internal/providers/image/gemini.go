package image

import (
	"context"
	"fmt"
	"strings"

	"server/internal/domain"
	"server/internal/providers/genai"
)

// GeminiGenerator produces product photos through the shared Gemini client.
type GeminiGenerator struct {
	client *genai.Client
}

// NewGeminiGenerator wraps the shared Gemini client.
func NewGeminiGenerator(client *genai.Client) *GeminiGenerator {
	return &GeminiGenerator{client: client}
}

// Generate requests exactly one image for the prompt. Failures are surfaced
// so the caller can account for the slot; there is no silent fallback.
func (g *GeminiGenerator) Generate(ctx context.Context, req GenerateRequest) (*Asset, error) {
	asset, err := g.client.GenerateImage(ctx, genai.ImageRequest{
		Prompt:             buildGenerationPrompt(req),
		ReferenceImageURLs: req.ReferenceImageURLs,
		RequestID:          req.RequestID,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderFailure, err)
	}
	return &Asset{URL: asset.URL, Format: asset.Format, Data: asset.Data}, nil
}

func buildGenerationPrompt(req GenerateRequest) string {
	sb := &strings.Builder{}
	sb.WriteString(strings.TrimSpace(req.Prompt))
	if size := strings.TrimSpace(req.Size); size != "" {
		fmt.Fprintf(sb, "\nOutput size: %s", size)
	}
	if format := strings.TrimSpace(req.Format); format != "" {
		fmt.Fprintf(sb, "\nOutput format: %s", format)
	}
	if len(req.ReferenceImageURLs) > 0 {
		sb.WriteString("\nKeep the product faithful to the attached reference images.")
	}
	return sb.String()
}

var _ Generator = (*GeminiGenerator)(nil)
