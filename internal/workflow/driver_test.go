package workflow

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"server/internal/domain"
)

type fakeItemProcessor struct {
	process func(ctx context.Context, wf *domain.Workflow, item *domain.WorkflowItem) ItemResult
}

func (f *fakeItemProcessor) Process(ctx context.Context, wf *domain.Workflow, item *domain.WorkflowItem) ItemResult {
	return f.process(ctx, wf, item)
}

func seedWorkflow(t *testing.T, repo *memRepo, itemCount int) *domain.Workflow {
	t.Helper()
	wf := &domain.Workflow{
		ID:                 "wf-1",
		Name:               "batch",
		ProjectID:          "project-1",
		PromptMode:         domain.PromptModeGlobal,
		ImagesPerReference: 1,
		Status:             domain.WorkflowStatusPending,
		TotalItems:         itemCount,
		CreatedAt:          time.Now(),
	}
	items := make([]domain.WorkflowItem, 0, itemCount)
	for i := 0; i < itemCount; i++ {
		items = append(items, domain.WorkflowItem{
			ID:         fmt.Sprintf("item-%d", i),
			WorkflowID: wf.ID,
			Position:   i,
			Reference:  fmt.Sprintf("REF-%d", i),
			ImageURLs:  []string{"https://cdn.example.com/ref.jpg"},
			Status:     domain.ItemStatusPending,
		})
	}
	if err := repo.Create(context.Background(), wf, items); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return wf
}

func TestDriverProcessesItemsInOrder(t *testing.T) {
	repo := newMemRepo()
	wf := seedWorkflow(t, repo, 3)

	var seen []string
	proc := &fakeItemProcessor{process: func(ctx context.Context, w *domain.Workflow, item *domain.WorkflowItem) ItemResult {
		seen = append(seen, item.Reference)
		return ItemResult{Reference: item.Reference, Status: string(domain.ItemStatusCompleted)}
	}}

	summary, err := NewDriver(repo, proc, testLogger()).Process(context.Background(), wf.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if summary.Total != 3 || summary.SuccessCount != 3 || summary.FailedCount != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	for i, ref := range seen {
		if want := fmt.Sprintf("REF-%d", i); ref != want {
			t.Fatalf("order[%d] = %q, want %q", i, ref, want)
		}
	}
	got, _ := repo.GetByID(context.Background(), wf.ID)
	if got.Status != domain.WorkflowStatusCompleted {
		t.Fatalf("status = %q, want completed", got.Status)
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Fatal("timestamps not stamped")
	}
	if got.ProcessedItems != 3 || got.FailedItems != 0 {
		t.Fatalf("counters = %d/%d, want 3/0", got.ProcessedItems, got.FailedItems)
	}
}

func TestDriverIsolatesItemFailures(t *testing.T) {
	repo := newMemRepo()
	wf := seedWorkflow(t, repo, 3)

	proc := &fakeItemProcessor{process: func(ctx context.Context, w *domain.Workflow, item *domain.WorkflowItem) ItemResult {
		if item.Reference == "REF-1" {
			return ItemResult{Reference: item.Reference, Status: string(domain.ItemStatusFailed), Error: "analysis: boom"}
		}
		return ItemResult{Reference: item.Reference, Status: string(domain.ItemStatusCompleted)}
	}}

	summary, err := NewDriver(repo, proc, testLogger()).Process(context.Background(), wf.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if summary.SuccessCount != 2 || summary.FailedCount != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	got, _ := repo.GetByID(context.Background(), wf.ID)
	if got.Status != domain.WorkflowStatusCompleted {
		t.Fatalf("status = %q, a partially failed batch still completes", got.Status)
	}
	if got.ProcessedItems != 2 || got.FailedItems != 1 {
		t.Fatalf("counters = %d/%d, want 2/1", got.ProcessedItems, got.FailedItems)
	}
}

func TestDriverRecoversFromProcessorPanic(t *testing.T) {
	repo := newMemRepo()
	wf := seedWorkflow(t, repo, 2)

	proc := &fakeItemProcessor{process: func(ctx context.Context, w *domain.Workflow, item *domain.WorkflowItem) ItemResult {
		if item.Reference == "REF-0" {
			panic("boom")
		}
		return ItemResult{Reference: item.Reference, Status: string(domain.ItemStatusCompleted)}
	}}

	summary, err := NewDriver(repo, proc, testLogger()).Process(context.Background(), wf.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if summary.SuccessCount != 1 || summary.FailedCount != 1 {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestDriverRejectsConcurrentRun(t *testing.T) {
	repo := newMemRepo()
	wf := seedWorkflow(t, repo, 1)

	started := make(chan struct{})
	release := make(chan struct{})
	proc := &fakeItemProcessor{process: func(ctx context.Context, w *domain.Workflow, item *domain.WorkflowItem) ItemResult {
		close(started)
		<-release
		return ItemResult{Reference: item.Reference, Status: string(domain.ItemStatusCompleted)}
	}}
	driver := NewDriver(repo, proc, testLogger())

	done := make(chan error, 1)
	go func() {
		_, err := driver.Process(context.Background(), wf.ID)
		done <- err
	}()
	<-started

	if _, err := driver.Process(context.Background(), wf.ID); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("second run err = %v, want ErrConflict", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}

	// The guard is released after the run finishes.
	if _, err := driver.Process(context.Background(), wf.ID); err != nil {
		t.Fatalf("rerun after release: %v", err)
	}
}

func TestDriverWithNoPendingItems(t *testing.T) {
	repo := newMemRepo()
	wf := seedWorkflow(t, repo, 1)
	items, _ := repo.ListItems(context.Background(), wf.ID)
	_ = repo.CompleteItem(context.Background(), items[0].ID, nil, time.Now())

	proc := &fakeItemProcessor{process: func(ctx context.Context, w *domain.Workflow, item *domain.WorkflowItem) ItemResult {
		t.Fatal("processor must not run")
		return ItemResult{}
	}}

	summary, err := NewDriver(repo, proc, testLogger()).Process(context.Background(), wf.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if summary.Total != 0 {
		t.Fatalf("total = %d, want 0", summary.Total)
	}
	got, _ := repo.GetByID(context.Background(), wf.ID)
	if got.Status != domain.WorkflowStatusCompleted {
		t.Fatalf("status = %q, want completed", got.Status)
	}
}

func TestDriverUnknownWorkflow(t *testing.T) {
	driver := NewDriver(newMemRepo(), &fakeItemProcessor{}, testLogger())
	if _, err := driver.Process(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
