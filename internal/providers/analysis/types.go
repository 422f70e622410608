package analysis

import (
	"context"

	"server/internal/domain"
)

// Request carries everything the analyzer needs for one catalog reference.
type Request struct {
	ProductName     string
	ImageURL        string
	Mode            domain.PromptMode
	Count           int
	GlobalParams    string
	SpecificPrompts []string
	Locale          string
}

// Result is the product classification plus the derived photography prompts.
// Prompts has exactly Request.Count entries; implementations must fail rather
// than return a shorter or longer list.
type Result struct {
	ProductType string
	Description string
	Confidence  float64
	Prompts     []string
}

// Analyzer is the contract implemented by all analysis providers.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (*Result, error)
}
