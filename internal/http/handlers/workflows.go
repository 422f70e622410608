package handlers

import (
	"net/http"
	"time"

	"server/internal/domain"
	"server/internal/workflow"
)

type itemPayload struct {
	Reference   string   `json:"reference" validate:"required"`
	ASIN        string   `json:"asin"`
	ProductName string   `json:"productName"`
	ImageURLs   []string `json:"imageUrls" validate:"required,min=1,max=6,dive,required"`
}

type createWorkflowRequest struct {
	Name               string        `json:"name" validate:"required"`
	ProjectID          string        `json:"projectId" validate:"required"`
	Mode               string        `json:"mode"`
	ImagesPerReference int           `json:"imagesPerReference" validate:"required,min=1"`
	GlobalParams       string        `json:"globalParams"`
	SpecificPrompts    []string      `json:"specificPrompts"`
	ImageSize          string        `json:"imageSize"`
	ImageFormat        string        `json:"imageFormat"`
	Engine             string        `json:"engine"`
	Items              []itemPayload `json:"items" validate:"required,min=1,dive"`
}

type updateWorkflowRequest struct {
	WorkflowID         string        `json:"workflowId" validate:"required"`
	Name               string        `json:"name" validate:"required"`
	ProjectID          string        `json:"projectId"`
	Mode               string        `json:"mode"`
	ImagesPerReference int           `json:"imagesPerReference" validate:"required,min=1"`
	GlobalParams       string        `json:"globalParams"`
	SpecificPrompts    []string      `json:"specificPrompts"`
	ImageSize          string        `json:"imageSize"`
	ImageFormat        string        `json:"imageFormat"`
	Engine             string        `json:"engine"`
	Items              []itemPayload `json:"items"`
}

type workflowIDRequest struct {
	WorkflowID string `json:"workflowId" validate:"required"`
}

func (a *App) WorkflowCreate(w http.ResponseWriter, r *http.Request) {
	var req createWorkflowRequest
	if err := a.decode(r, &req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	wf, err := a.Service.Create(r.Context(), specFromCreate(req), itemSpecs(req.Items))
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusCreated, map[string]any{"success": true, "workflow": workflowView(wf)})
}

func (a *App) WorkflowUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateWorkflowRequest
	if err := a.decode(r, &req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	spec := workflow.WorkflowSpec{
		Name:               req.Name,
		ProjectID:          req.ProjectID,
		PromptMode:         domain.NormalizePromptMode(req.Mode),
		ImagesPerReference: req.ImagesPerReference,
		GlobalParams:       req.GlobalParams,
		SpecificPrompts:    req.SpecificPrompts,
		ImageSize:          req.ImageSize,
		ImageFormat:        req.ImageFormat,
		Engine:             req.Engine,
	}
	var newItems []workflow.ItemSpec
	if req.Items != nil {
		newItems = itemSpecs(req.Items)
	}
	wf, err := a.Service.Update(r.Context(), req.WorkflowID, spec, newItems)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"success": true, "workflow": workflowView(wf)})
}

// WorkflowProcess runs the batch synchronously and always answers 200 with
// the full summary when the batch ran, even if every item failed. Non-2xx is
// reserved for batches that could not start at all.
func (a *App) WorkflowProcess(w http.ResponseWriter, r *http.Request) {
	var req workflowIDRequest
	if err := a.decode(r, &req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	summary, err := a.Driver.Process(r.Context(), req.WorkflowID)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"success":      true,
		"total":        summary.Total,
		"successCount": summary.SuccessCount,
		"failedCount":  summary.FailedCount,
		"results":      summary.Results,
	})
}

func (a *App) WorkflowStatus(w http.ResponseWriter, r *http.Request) {
	workflowID := r.URL.Query().Get("workflowId")
	if workflowID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "workflowId is required")
		return
	}
	report, err := a.Service.Status(r.Context(), workflowID)
	if err != nil {
		a.fail(w, err)
		return
	}
	items := make([]map[string]any, 0, len(report.Items))
	for i := range report.Items {
		items = append(items, itemView(&report.Items[i]))
	}
	a.json(w, http.StatusOK, map[string]any{
		"success":  true,
		"workflow": workflowView(report.Workflow),
		"items":    items,
		"counts": map[string]int{
			"pending":    report.Counts[domain.ItemStatusPending],
			"processing": report.Counts[domain.ItemStatusProcessing],
			"completed":  report.Counts[domain.ItemStatusCompleted],
			"failed":     report.Counts[domain.ItemStatusFailed],
		},
		"progress": report.Progress,
	})
}

func (a *App) WorkflowReset(w http.ResponseWriter, r *http.Request) {
	var req workflowIDRequest
	if err := a.decode(r, &req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err := a.Service.Reset(r.Context(), req.WorkflowID); err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"success": true})
}

func (a *App) WorkflowRetryFailed(w http.ResponseWriter, r *http.Request) {
	var req workflowIDRequest
	if err := a.decode(r, &req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	result, err := a.Service.RetryFailed(r.Context(), req.WorkflowID)
	if err != nil {
		a.fail(w, err)
		return
	}
	retried := result.Retried
	if retried == nil {
		retried = []string{}
	}
	a.json(w, http.StatusOK, map[string]any{
		"success":    true,
		"retried":    retried,
		"retryCount": len(retried),
	})
}

// WorkflowListFailed is the read-only view of failed items.
func (a *App) WorkflowListFailed(w http.ResponseWriter, r *http.Request) {
	workflowID := r.URL.Query().Get("workflowId")
	if workflowID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "workflowId is required")
		return
	}
	items, err := a.Service.ListFailed(r.Context(), workflowID)
	if err != nil {
		a.fail(w, err)
		return
	}
	views := make([]map[string]any, 0, len(items))
	for i := range items {
		views = append(views, itemView(&items[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"success": true, "items": views})
}

func (a *App) WorkflowDelete(w http.ResponseWriter, r *http.Request) {
	var req workflowIDRequest
	if err := a.decode(r, &req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err := a.Service.Delete(r.Context(), req.WorkflowID); err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"success": true})
}

func (a *App) WorkflowList(w http.ResponseWriter, r *http.Request) {
	workflows, err := a.Service.List(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	views := make([]map[string]any, 0, len(workflows))
	for i := range workflows {
		views = append(views, workflowView(&workflows[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"success": true, "workflows": views})
}

func specFromCreate(req createWorkflowRequest) workflow.WorkflowSpec {
	return workflow.WorkflowSpec{
		Name:               req.Name,
		ProjectID:          req.ProjectID,
		PromptMode:         domain.NormalizePromptMode(req.Mode),
		ImagesPerReference: req.ImagesPerReference,
		GlobalParams:       req.GlobalParams,
		SpecificPrompts:    req.SpecificPrompts,
		ImageSize:          req.ImageSize,
		ImageFormat:        req.ImageFormat,
		Engine:             req.Engine,
	}
}

func itemSpecs(items []itemPayload) []workflow.ItemSpec {
	specs := make([]workflow.ItemSpec, 0, len(items))
	for _, it := range items {
		specs = append(specs, workflow.ItemSpec{
			Reference:   it.Reference,
			ASIN:        it.ASIN,
			ProductName: it.ProductName,
			ImageURLs:   it.ImageURLs,
		})
	}
	return specs
}

func workflowView(wf *domain.Workflow) map[string]any {
	return map[string]any{
		"id":                 wf.ID,
		"name":               wf.Name,
		"projectId":          wf.ProjectID,
		"mode":               wf.PromptMode,
		"imagesPerReference": wf.ImagesPerReference,
		"globalParams":       wf.GlobalParams,
		"specificPrompts":    wf.SpecificPrompts,
		"imageSize":          wf.ImageSize,
		"imageFormat":        wf.ImageFormat,
		"engine":             wf.Engine,
		"status":             wf.Status,
		"totalItems":         wf.TotalItems,
		"processedItems":     wf.ProcessedItems,
		"failedItems":        wf.FailedItems,
		"progress":           wf.Progress(),
		"createdAt":          wf.CreatedAt,
		"startedAt":          timeOrNil(wf.StartedAt),
		"completedAt":        timeOrNil(wf.CompletedAt),
	}
}

func itemView(it *domain.WorkflowItem) map[string]any {
	return map[string]any{
		"id":                   it.ID,
		"reference":            it.Reference,
		"asin":                 it.ASIN,
		"productName":          it.ProductName,
		"imageUrls":            it.ImageURLs,
		"status":               it.Status,
		"detectedProductType":  it.DetectedProductType,
		"detectionDescription": it.DetectionDescription,
		"detectionConfidence":  it.DetectionConfidence,
		"generatedPrompts":     it.GeneratedPrompts,
		"generatedImages":      it.GeneratedImages,
		"errorMessage":         it.ErrorMessage,
		"processedAt":          timeOrNil(it.ProcessedAt),
	}
}

func timeOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t
}
