package repo

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"server/internal/domain"
)

func sampleWorkflow() *domain.Workflow {
	return &domain.Workflow{
		ID:                 "wf-1",
		Name:               "spring catalog",
		ProjectID:          "project-1",
		PromptMode:         domain.PromptModeGlobal,
		ImagesPerReference: 2,
		Status:             domain.WorkflowStatusPending,
		TotalItems:         2,
	}
}

func sampleItems() []domain.WorkflowItem {
	return []domain.WorkflowItem{
		{ID: "item-1", WorkflowID: "wf-1", Position: 0, Reference: "REF-A", ImageURLs: []string{"https://cdn.example.com/a.jpg"}, Status: domain.ItemStatusPending},
		{ID: "item-2", WorkflowID: "wf-1", Position: 1, Reference: "REF-B", ImageURLs: []string{"https://cdn.example.com/b.jpg"}, Status: domain.ItemStatusPending},
	}
}

func TestCreateInsertsWorkflowAndItems(t *testing.T) {
	sql := &fakeSQL{}
	r := NewWorkflowRepository(sql)

	if err := r.Create(context.Background(), sampleWorkflow(), sampleItems()); err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(sql.execs) != 3 {
		t.Fatalf("execs = %d, want workflow insert + 2 item inserts", len(sql.execs))
	}
	if !strings.Contains(sql.execs[0].query, "INSERT INTO workflows") {
		t.Fatalf("first exec = %q", sql.execs[0].query)
	}
	for i := 1; i < 3; i++ {
		if !strings.Contains(sql.execs[i].query, "INSERT INTO workflow_items") {
			t.Fatalf("exec %d = %q", i, sql.execs[i].query)
		}
	}
	// Item inserts carry the list position for deterministic ordering.
	if sql.execs[1].args[2] != 0 || sql.execs[2].args[2] != 1 {
		t.Fatalf("positions = %v, %v", sql.execs[1].args[2], sql.execs[2].args[2])
	}
}

func TestCreateCompensatesOnItemFailure(t *testing.T) {
	sql := &fakeSQL{execErr: func(query string) error {
		if strings.Contains(query, "INSERT INTO workflow_items") {
			return errors.New("constraint violation")
		}
		return nil
	}}
	r := NewWorkflowRepository(sql)

	err := r.Create(context.Background(), sampleWorkflow(), sampleItems())
	if err == nil {
		t.Fatal("expected error")
	}
	last := sql.execs[len(sql.execs)-1]
	if !strings.Contains(last.query, "DELETE FROM workflows") {
		t.Fatalf("last exec = %q, want compensating delete", last.query)
	}
	if last.args[0] != "wf-1" {
		t.Fatalf("delete args = %v", last.args)
	}
}

func TestUpdateUnknownWorkflow(t *testing.T) {
	sql := &fakeSQL{tag: func(query string) pgconn.CommandTag {
		return pgconn.NewCommandTag("UPDATE 0")
	}}
	r := NewWorkflowRepository(sql)
	if err := r.Update(context.Background(), sampleWorkflow()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestGetByIDNotFound(t *testing.T) {
	sql := &fakeSQL{queryRow: func(query string, args []any) pgx.Row {
		return simpleRow{} // scans as pgx.ErrNoRows
	}}
	r := NewWorkflowRepository(sql)
	if _, err := r.GetByID(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestGetByIDScansWorkflow(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sql := &fakeSQL{queryRow: func(query string, args []any) pgx.Row {
		row := []any{
			"wf-1", "spring catalog", "project-1", "global", 2, "white background",
			[]string{}, "1024x1024", "png", "gemini", "processing",
			3, 1, 1, created, &created, (*time.Time)(nil),
		}
		return simpleRow{scan: func(dest ...any) error {
			return assignRow(row, dest)
		}}
	}}
	r := NewWorkflowRepository(sql)

	wf, err := r.GetByID(context.Background(), "wf-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if wf.Status != domain.WorkflowStatusProcessing || wf.PromptMode != domain.PromptModeGlobal {
		t.Fatalf("workflow = %+v", wf)
	}
	if wf.ProcessedItems != 1 || wf.FailedItems != 1 || wf.TotalItems != 3 {
		t.Fatalf("counters = %d/%d/%d", wf.TotalItems, wf.ProcessedItems, wf.FailedItems)
	}
	if wf.StartedAt == nil || wf.CompletedAt != nil {
		t.Fatalf("timestamps = %v %v", wf.StartedAt, wf.CompletedAt)
	}
}

func TestListItemsDecodesGeneratedImages(t *testing.T) {
	images, _ := json.Marshal([]domain.GeneratedImage{
		{URL: "projects/p/a-01.png", Prompt: "studio front", Index: 1},
	})
	processed := time.Now()
	sql := &fakeSQL{query: func(query string, args []any) (pgx.Rows, error) {
		if !strings.Contains(query, "ORDER BY position") {
			t.Fatalf("query = %q, items must be position-ordered", query)
		}
		return &testRows{rows: [][]any{{
			"item-1", "wf-1", 0, "REF-A", "B00TEST", "Aero Runner",
			[]string{"https://cdn.example.com/a.jpg"}, "completed",
			"Sneaker", "white runner", 0.9,
			[]string{"studio front"}, images, "", &processed,
		}}}, nil
	}}
	r := NewWorkflowRepository(sql)

	items, err := r.ListItems(context.Background(), "wf-1")
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("items = %d", len(items))
	}
	it := items[0]
	if it.Status != domain.ItemStatusCompleted || it.DetectedProductType != "Sneaker" {
		t.Fatalf("item = %+v", it)
	}
	if len(it.GeneratedImages) != 1 || it.GeneratedImages[0].Index != 1 {
		t.Fatalf("generated images = %+v", it.GeneratedImages)
	}
}

func TestIncrementsAreAtomicUpdates(t *testing.T) {
	sql := &fakeSQL{}
	r := NewWorkflowRepository(sql)
	if err := r.IncrementProcessed(context.Background(), "wf-1"); err != nil {
		t.Fatal(err)
	}
	if err := r.IncrementFailed(context.Background(), "wf-1"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(sql.execs[0].query, "processed_items = processed_items + 1") {
		t.Fatalf("query = %q", sql.execs[0].query)
	}
	if !strings.Contains(sql.execs[1].query, "failed_items = failed_items + 1") {
		t.Fatalf("query = %q", sql.execs[1].query)
	}
}

func TestResetFailedItemsNoFailures(t *testing.T) {
	sql := &fakeSQL{query: func(query string, args []any) (pgx.Rows, error) {
		return &testRows{}, nil
	}}
	r := NewWorkflowRepository(sql)

	refs, err := r.ResetFailedItems(context.Background(), "wf-1")
	if err != nil {
		t.Fatalf("reset failed items: %v", err)
	}
	if refs != nil {
		t.Fatalf("refs = %v, want nil", refs)
	}
	if len(sql.execs) != 0 {
		t.Fatalf("no-op retry must not write, got %d execs", len(sql.execs))
	}
}

func TestResetFailedItemsRequeuesAndReconciles(t *testing.T) {
	sql := &fakeSQL{query: func(query string, args []any) (pgx.Rows, error) {
		return &testRows{rows: [][]any{{"REF-B"}, {"REF-D"}}}, nil
	}}
	r := NewWorkflowRepository(sql)

	refs, err := r.ResetFailedItems(context.Background(), "wf-1")
	if err != nil {
		t.Fatalf("reset failed items: %v", err)
	}
	if len(refs) != 2 || refs[0] != "REF-B" || refs[1] != "REF-D" {
		t.Fatalf("refs = %v", refs)
	}
	if len(sql.execs) != 2 {
		t.Fatalf("execs = %d, want item clear + counter reconcile", len(sql.execs))
	}
	if !strings.Contains(sql.execs[0].query, "status = 'failed'") {
		t.Fatalf("first exec = %q, must only touch failed items", sql.execs[0].query)
	}
	if !strings.Contains(sql.execs[1].query, "status = 'completed'") {
		t.Fatalf("second exec = %q, processed must be recomputed from completed items", sql.execs[1].query)
	}
}

func TestCompleteItemStoresImagesAsJSON(t *testing.T) {
	sql := &fakeSQL{}
	r := NewWorkflowRepository(sql)
	images := []domain.GeneratedImage{{URL: "u", Prompt: "p", Index: 1}}

	if err := r.CompleteItem(context.Background(), "item-1", images, time.Now()); err != nil {
		t.Fatalf("complete item: %v", err)
	}
	payload, ok := sql.execs[0].args[2].([]byte)
	if !ok {
		t.Fatalf("payload type = %T", sql.execs[0].args[2])
	}
	var decoded []domain.GeneratedImage
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("payload is not json: %v", err)
	}
	if len(decoded) != 1 || decoded[0].Index != 1 {
		t.Fatalf("decoded = %+v", decoded)
	}
}

func TestRequeueProcessingItemsOnlyTouchesProcessing(t *testing.T) {
	sql := &fakeSQL{}
	r := NewWorkflowRepository(sql)
	if err := r.RequeueProcessingItems(context.Background(), "wf-1"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(sql.execs[0].query, "status = 'processing'") {
		t.Fatalf("query = %q", sql.execs[0].query)
	}
}

func TestDeleteUnknownWorkflow(t *testing.T) {
	sql := &fakeSQL{tag: func(query string) pgconn.CommandTag {
		return pgconn.NewCommandTag("DELETE 0")
	}}
	r := NewWorkflowRepository(sql)
	if err := r.Delete(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
