package domain

import (
	"fmt"
	"strings"
	"time"
)

// WorkflowStatus enumerates workflow lifecycle states.
type WorkflowStatus string

const (
	WorkflowStatusPending    WorkflowStatus = "pending"
	WorkflowStatusProcessing WorkflowStatus = "processing"
	WorkflowStatusCompleted  WorkflowStatus = "completed"
	WorkflowStatusFailed     WorkflowStatus = "failed"
)

// ItemStatus enumerates per-item lifecycle states.
type ItemStatus string

const (
	ItemStatusPending    ItemStatus = "pending"
	ItemStatusProcessing ItemStatus = "processing"
	ItemStatusCompleted  ItemStatus = "completed"
	ItemStatusFailed     ItemStatus = "failed"
)

// PromptMode selects how generation prompts are derived for a workflow.
type PromptMode string

const (
	// PromptModeGlobal applies one free-form parameter string to every slot.
	PromptModeGlobal PromptMode = "global"
	// PromptModeSpecific carries one prompt specification per image slot.
	PromptModeSpecific PromptMode = "specific"
)

// MaxItemImageURLs bounds how many source images a catalog reference may carry.
const MaxItemImageURLs = 6

// Workflow is a batch job over a catalog of product references.
type Workflow struct {
	ID                 string
	Name               string
	ProjectID          string
	PromptMode         PromptMode
	ImagesPerReference int
	GlobalParams       string
	SpecificPrompts    []string
	ImageSize          string
	ImageFormat        string
	Engine             string
	Status             WorkflowStatus
	TotalItems         int
	ProcessedItems     int
	FailedItems        int
	CreatedAt          time.Time
	StartedAt          *time.Time
	CompletedAt        *time.Time
}

// WorkflowItem is one catalog reference's unit of work within a workflow.
type WorkflowItem struct {
	ID                   string
	WorkflowID           string
	Position             int
	Reference            string
	ASIN                 string
	ProductName          string
	ImageURLs            []string
	Status               ItemStatus
	DetectedProductType  string
	DetectionDescription string
	DetectionConfidence  float64
	GeneratedPrompts     []string
	GeneratedImages      []GeneratedImage
	ErrorMessage         string
	ProcessedAt          *time.Time
}

// GeneratedImage is one successfully generated output. Index is 1-based and
// matches the position of the prompt that produced it.
type GeneratedImage struct {
	URL    string `json:"url"`
	Prompt string `json:"prompt"`
	Index  int    `json:"index"`
}

// Progress returns the completion percentage, rounded to the nearest integer.
func (w *Workflow) Progress() int {
	if w.TotalItems == 0 {
		return 0
	}
	return int(float64(w.ProcessedItems)/float64(w.TotalItems)*100 + 0.5)
}

// Validate checks the workflow specification invariants enforced at creation
// and update time. All violations wrap ErrValidation.
func (w *Workflow) Validate() error {
	if strings.TrimSpace(w.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if strings.TrimSpace(w.ProjectID) == "" {
		return fmt.Errorf("%w: project id is required", ErrValidation)
	}
	if w.ImagesPerReference < 1 {
		return fmt.Errorf("%w: images per reference must be at least 1", ErrValidation)
	}
	switch w.PromptMode {
	case PromptModeGlobal:
	case PromptModeSpecific:
		if len(w.SpecificPrompts) != w.ImagesPerReference {
			return fmt.Errorf("%w: specific mode requires exactly %d prompts, got %d",
				ErrValidation, w.ImagesPerReference, len(w.SpecificPrompts))
		}
	default:
		return fmt.Errorf("%w: unsupported prompt mode %q", ErrValidation, w.PromptMode)
	}
	return nil
}

// Validate checks the invariants every item must satisfy at creation time.
func (it *WorkflowItem) Validate() error {
	if strings.TrimSpace(it.Reference) == "" {
		return fmt.Errorf("%w: item reference is required", ErrValidation)
	}
	if len(it.ImageURLs) == 0 {
		return fmt.Errorf("%w: item %q needs at least one source image url", ErrValidation, it.Reference)
	}
	if len(it.ImageURLs) > MaxItemImageURLs {
		return fmt.Errorf("%w: item %q has %d source image urls, maximum is %d",
			ErrValidation, it.Reference, len(it.ImageURLs), MaxItemImageURLs)
	}
	for _, u := range it.ImageURLs {
		if strings.TrimSpace(u) == "" {
			return fmt.Errorf("%w: item %q has an empty source image url", ErrValidation, it.Reference)
		}
	}
	return nil
}

// NormalizePromptMode sanitizes free-form user input into a supported mode.
func NormalizePromptMode(mode string) PromptMode {
	if strings.EqualFold(strings.TrimSpace(mode), string(PromptModeSpecific)) {
		return PromptModeSpecific
	}
	return PromptModeGlobal
}
