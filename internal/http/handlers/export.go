package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"server/pkg/zip"
)

// WorkflowExport streams every stored image of the workflow's project as one
// zip archive. Records without local bytes (URL-only results) are skipped.
func (a *App) WorkflowExport(w http.ResponseWriter, r *http.Request) {
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
	records, err := a.Gallery.ListByWorkflowProject(r.Context(), report.Workflow.ProjectID)
	if err != nil {
		a.fail(w, err)
		return
	}
	var assets []zip.Asset
	for _, rec := range records {
		if rec.StorageKey == "" {
			continue
		}
		data, err := a.Files.Read(r.Context(), rec.StorageKey)
		if err != nil {
			a.Logger.Warn().
				Err(err).
				Str("storage_key", rec.StorageKey).
				Msg("export: skipping unreadable asset")
			continue
		}
		name := rec.StorageKey
		if idx := strings.LastIndex(name, "/"); idx >= 0 {
			name = name[idx+1:]
		}
		assets = append(assets, zip.Asset{Filename: name, Data: data})
	}
	archive := zip.ArchiveAssets(assets)
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=workflow-%s.zip", workflowID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}
