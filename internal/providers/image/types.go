package image

import "context"

// GenerateRequest describes one image generation call: a single prompt plus
// zero or more reference images used as conditioning input.
type GenerateRequest struct {
	Prompt             string
	ReferenceImageURLs []string
	Size               string
	Format             string
	Engine             string
	RequestID          string
}

// Asset represents one generated image. Either URL or Data is populated.
type Asset struct {
	URL    string
	Format string
	Data   []byte
}

// Generator is the contract implemented by all image providers.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (*Asset, error)
}
