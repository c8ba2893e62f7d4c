package audit

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/oryxworks/flowcore/model"
)

func TestRecordAssignsIdentity(t *testing.T) {
	store := NewMemoryStore()
	rec := NewRecorder(store, zap.NewNop())
	ctx := context.Background()

	rec.Record(ctx, model.ExecutionLogEntry{
		OrganizationID: "org-1",
		EntityKind:     model.KindWorkOrder,
		EntityID:       "wo-1",
		Action:         model.ActionApproved,
		ActorID:        "user-1",
		DurationMS:     12,
		Success:        true,
	})

	logs, err := store.Logs(ctx, "org-1", model.KindWorkOrder, "wo-1")
	if err != nil {
		t.Fatalf("Logs returned error: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("got %d entries, want 1", len(logs))
	}
	if logs[0].ID == "" {
		t.Error("entry ID not assigned")
	}
	if logs[0].CreatedAt.IsZero() {
		t.Error("entry timestamp not assigned")
	}
}

func TestSummaryAggregates(t *testing.T) {
	store := NewMemoryStore()
	rec := NewRecorder(store, zap.NewNop())
	ctx := context.Background()

	entries := []model.ExecutionLogEntry{
		{OrganizationID: "org-1", EntityKind: model.KindWorkOrder, EntityID: "wo-1",
			Action: model.ActionApproved, Success: true, DurationMS: 10},
		{OrganizationID: "org-1", EntityKind: model.KindWorkOrder, EntityID: "wo-1",
			Action: model.ActionApproved, Success: true, DurationMS: 30},
		{OrganizationID: "org-1", EntityKind: model.KindWorkOrder, EntityID: "wo-2",
			Action: model.ActionRejected, Success: false, DurationMS: 20},
		{OrganizationID: "org-2", EntityKind: model.KindWorkOrder, EntityID: "wo-9",
			Action: model.ActionApproved, Success: true, DurationMS: 5},
	}
	for _, e := range entries {
		rec.Record(ctx, e)
	}

	summary, err := store.Summary(ctx, "org-1", time.Time{})
	if err != nil {
		t.Fatalf("Summary returned error: %v", err)
	}
	if summary.TotalOperations != 3 {
		t.Errorf("TotalOperations = %d, want 3", summary.TotalOperations)
	}
	if summary.SuccessCount != 2 {
		t.Errorf("SuccessCount = %d, want 2", summary.SuccessCount)
	}
	if got, want := summary.SuccessRate, 2.0/3.0; got != want {
		t.Errorf("SuccessRate = %f, want %f", got, want)
	}
	if summary.AverageDurationMS != 20 {
		t.Errorf("AverageDurationMS = %f, want 20", summary.AverageDurationMS)
	}
	if summary.ByAction[model.ActionApproved] != 2 || summary.ByAction[model.ActionRejected] != 1 {
		t.Errorf("ByAction = %v", summary.ByAction)
	}
}

func TestSummarySinceFilter(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	old := model.ExecutionLogEntry{
		ID: "e-1", OrganizationID: "org-1", EntityKind: model.KindWorkOrder,
		EntityID: "wo-1", Action: model.ActionApproved, Success: true,
		CreatedAt: time.Now().Add(-48 * time.Hour),
	}
	if err := store.AppendLog(ctx, old); err != nil {
		t.Fatalf("AppendLog returned error: %v", err)
	}

	summary, err := store.Summary(ctx, "org-1", time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Summary returned error: %v", err)
	}
	if summary.TotalOperations != 0 {
		t.Errorf("TotalOperations = %d, want 0", summary.TotalOperations)
	}
}
