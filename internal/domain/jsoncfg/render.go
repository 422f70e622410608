package jsoncfg

import (
	"fmt"
	"strings"
)

// RenderConfig captures the generation rendering parameters shared by every
// item of a workflow: output dimensions, file format and generation engine.
type RenderConfig struct {
	ImageSize   string `json:"image_size"`
	ImageFormat string `json:"image_format"`
	Engine      string `json:"engine"`
}

var allowedImageSizes = map[string]struct{}{
	"1024x1024": {},
	"1024x1536": {},
	"1536x1024": {},
	"2048x2048": {},
}

var allowedImageFormats = map[string]struct{}{
	"png":  {},
	"jpeg": {},
	"webp": {},
}

const (
	// DefaultImageSize is used when the request omits the output size.
	DefaultImageSize = "1024x1024"
	// DefaultImageFormat is used when the request omits the output format.
	DefaultImageFormat = "png"
	// DefaultEngine is the generation engine applied when none is requested.
	DefaultEngine = "gemini"
)

// Normalize fills defaults and canonicalizes casing and aliases.
func (c *RenderConfig) Normalize() {
	if c == nil {
		return
	}
	c.ImageSize = strings.ToLower(strings.TrimSpace(c.ImageSize))
	if c.ImageSize == "" {
		c.ImageSize = DefaultImageSize
	}
	c.ImageFormat = strings.ToLower(strings.TrimSpace(c.ImageFormat))
	switch c.ImageFormat {
	case "":
		c.ImageFormat = DefaultImageFormat
	case "jpg":
		c.ImageFormat = "jpeg"
	}
	c.Engine = strings.ToLower(strings.TrimSpace(c.Engine))
	if c.Engine == "" {
		c.Engine = DefaultEngine
	}
}

// Validate ensures the rendering parameters satisfy the supported contract.
// Call Normalize first.
func (c RenderConfig) Validate() error {
	if _, ok := allowedImageSizes[c.ImageSize]; !ok {
		return fmt.Errorf("image_size must be one of 1024x1024, 1024x1536, 1536x1024, 2048x2048")
	}
	if _, ok := allowedImageFormats[c.ImageFormat]; !ok {
		return fmt.Errorf("image_format must be one of png, jpeg, webp")
	}
	if c.Engine == "" {
		return fmt.Errorf("engine is required")
	}
	return nil
}
