package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/shaiso/Nodeflow/internal/domain"
)

func TestMemoryWorkflows(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore().Workflows

	def := &domain.WorkflowDefinition{
		ID:    "wf-1",
		Name:  "orders",
		Nodes: []domain.Node{{ID: "t", Type: "webhook", Data: map[string]any{"path": "orders"}}},
	}
	if err := store.Save(ctx, def, true); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Save(ctx, &domain.WorkflowDefinition{ID: "wf-0"}, false); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Сохранённая копия не зависит от исходного значения.
	def.Nodes[0].Data["path"] = "changed"

	got, err := store.Get(ctx, "wf-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Nodes[0].Data["path"] != "orders" {
		t.Errorf("stored definition was mutated: %v", got.Nodes[0].Data)
	}

	active, err := store.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 1 || active[0].ID != "wf-1" {
		t.Errorf("active = %+v", active)
	}

	if err := store.SetActive(ctx, "wf-0", true); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	active, _ = store.ListActive(ctx)
	if len(active) != 2 || active[0].ID != "wf-0" {
		t.Errorf("active after SetActive = %+v", active)
	}

	if err := store.Delete(ctx, "wf-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, "wf-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryExecutions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore().Executions

	exec := domain.NewExecution("wf-1")
	exec.MarkRunning()
	node := domain.NewNodeState(domain.Node{ID: "a", Type: "filter"})
	node.Finish(domain.Succeeded([]any{1.0}, nil), 1)

	if err := store.RecordNodeResult(ctx, exec.ID, node); err != nil {
		t.Fatalf("RecordNodeResult: %v", err)
	}
	exec.MarkCompleted()
	if err := store.RecordRunCompletion(ctx, exec); err != nil {
		t.Fatalf("RecordRunCompletion: %v", err)
	}

	got, err := store.Get(ctx, exec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.RunStatusCompleted || got.WorkflowID != "wf-1" {
		t.Errorf("execution = %+v", got)
	}
	if st := got.Nodes["a"]; st == nil || st.Status != domain.NodeStatusSucceeded {
		t.Errorf("node a = %+v", st)
	}

	list, err := store.ListByWorkflow(ctx, "wf-1", 10)
	if err != nil {
		t.Fatalf("ListByWorkflow: %v", err)
	}
	if len(list) != 1 || list[0].ID != exec.ID {
		t.Errorf("list = %+v", list)
	}
}

func TestMemorySchedules(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore().Schedules
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	due := now.Add(-time.Minute)
	later := now.Add(time.Hour)
	trig := &domain.ScheduleTrigger{WorkflowID: "wf-1", NodeID: "s", IntervalSec: 60, Timezone: "UTC", Enabled: true, NextDueAt: &due}
	if err := store.Upsert(ctx, trig); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	// Повторная синхронизация с тем же расписанием не сдвигает запуск.
	resync := *trig
	resync.NextDueAt = &later
	if err := store.Upsert(ctx, &resync); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	list, err := store.ListDue(ctx, now, 10)
	if err != nil {
		t.Fatalf("ListDue: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("due = %d, want 1", len(list))
	}

	fire := list[0]
	fire.RecordFire(now, later)
	if err := store.RecordFire(ctx, &fire); err != nil {
		t.Fatalf("RecordFire: %v", err)
	}
	if list, _ := store.ListDue(ctx, now, 10); len(list) != 0 {
		t.Errorf("trigger still due after fire: %+v", list)
	}

	n, err := store.DisableMissing(ctx, []string{"wf-2/other"})
	if err != nil || n != 1 {
		t.Fatalf("DisableMissing = %d, %v", n, err)
	}
	got, _ := store.Get("wf-1/s")
	if got.Enabled {
		t.Error("trigger should be disabled")
	}
}

func TestMemoryChanges(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore().Changes

	for _, ev := range []domain.ChangeEvent{
		{Collection: "orders", Operation: "insert", DocumentID: "1"},
		{Collection: "users", Operation: "insert", DocumentID: "u"},
		{Collection: "orders", Operation: "update", DocumentID: "1"},
	} {
		if _, err := store.Append(ctx, ev); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := store.ListSince(ctx, "orders", 1, 10)
	if err != nil {
		t.Fatalf("ListSince: %v", err)
	}
	var ops []string
	for _, ev := range got {
		ops = append(ops, ev.Operation)
	}
	if diff := cmp.Diff([]string{"update"}, ops); diff != "" {
		t.Errorf("changes mismatch (-want +got):\n%s", diff)
	}

	latest, _ := store.LatestID(ctx, "orders")
	if latest != 3 {
		t.Errorf("LatestID = %d, want 3", latest)
	}

	if _, ok, _ := store.Cursor(ctx, "wf", "n"); ok {
		t.Error("cursor should not exist yet")
	}
	_ = store.SaveCursor(ctx, "wf", "n", 3)
	if id, ok, _ := store.Cursor(ctx, "wf", "n"); !ok || id != 3 {
		t.Errorf("cursor = %d, %v", id, ok)
	}
}
