package analysis

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"server/internal/domain"
	"server/internal/providers/genai"
)

// GeminiAnalyzer classifies a product image and derives photography prompts
// using the Gemini JSON response mode.
type GeminiAnalyzer struct {
	client *genai.Client
}

// NewGeminiAnalyzer wraps the shared Gemini client.
func NewGeminiAnalyzer(client *genai.Client) *GeminiAnalyzer {
	return &GeminiAnalyzer{client: client}
}

type analysisPayload struct {
	ProductType string   `json:"product_type"`
	Description string   `json:"description"`
	Confidence  float64  `json:"confidence"`
	Prompts     []string `json:"prompts"`
}

// Analyze runs one analysis call. It returns domain.ErrAnalysisMismatch when
// the model produced a prompt list whose length differs from req.Count.
func (g *GeminiAnalyzer) Analyze(ctx context.Context, req Request) (*Result, error) {
	if req.Count < 1 {
		return nil, fmt.Errorf("%w: prompt count must be at least 1", domain.ErrValidation)
	}

	var payload analysisPayload
	if err := g.client.GenerateJSON(ctx, buildAnalysisPrompt(req), req.ImageURL, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderFailure, err)
	}

	prompts := trimPrompts(payload.Prompts)
	if len(prompts) != req.Count {
		return nil, fmt.Errorf("%w: expected %d prompts, got %d", domain.ErrAnalysisMismatch, req.Count, len(prompts))
	}

	confidence := payload.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return &Result{
		ProductType: normalizeProductType(payload.ProductType, req.Locale),
		Description: strings.TrimSpace(payload.Description),
		Confidence:  confidence,
		Prompts:     prompts,
	}, nil
}

func buildAnalysisPrompt(req Request) string {
	sb := &strings.Builder{}
	sb.WriteString("You are a product photography director. Inspect the attached product image and respond strictly with JSON matching this schema: ")
	sb.WriteString(`{"product_type":string,"description":string,"confidence":number,"prompts":string[]}`)
	fmt.Fprintf(sb, ". The prompts array must contain exactly %d distinct photography prompts, one per output image, each fully self-contained.", req.Count)
	if name := strings.TrimSpace(req.ProductName); name != "" {
		fmt.Fprintf(sb, " The product is named %q.", name)
	}
	switch req.Mode {
	case domain.PromptModeSpecific:
		sb.WriteString(" Build each prompt from the matching slot specification below, enriched with what you detect in the image:")
		for i, spec := range req.SpecificPrompts {
			fmt.Fprintf(sb, "\nslot %d: %s", i+1, strings.TrimSpace(spec))
		}
	default:
		if params := strings.TrimSpace(req.GlobalParams); params != "" {
			fmt.Fprintf(sb, " Apply these global generation parameters to every prompt: %s.", params)
		}
	}
	if locale := strings.TrimSpace(req.Locale); locale != "" {
		fmt.Fprintf(sb, " Use locale '%s' for wording.", locale)
	}
	sb.WriteString(" Confidence is your classification certainty between 0 and 1.")
	return sb.String()
}

func trimPrompts(prompts []string) []string {
	var out []string
	for _, p := range prompts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

// normalizeProductType title-cases the detected type for stable display, using
// the locale-aware caser so e.g. Turkish dotless i survives.
func normalizeProductType(productType, locale string) string {
	productType = strings.TrimSpace(strings.ToLower(productType))
	if productType == "" {
		return "unknown"
	}
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.English
	}
	return cases.Title(tag).String(productType)
}

var _ Analyzer = (*GeminiAnalyzer)(nil)
