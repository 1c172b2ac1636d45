package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/shaiso/Nodeflow/internal/domain"
	"github.com/shaiso/Nodeflow/internal/executors"
	"github.com/shaiso/Nodeflow/internal/repo"
)

type fakePublisher struct {
	mu     sync.Mutex
	events []*domain.TriggerEvent
	err    error
}

func (p *fakePublisher) PublishTrigger(_ context.Context, ev *domain.TriggerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *fakePublisher) published() []*domain.TriggerEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*domain.TriggerEvent(nil), p.events...)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var t0 = time.Date(2026, 1, 1, 10, 30, 0, 0, time.UTC)

func saveWorkflow(t *testing.T, store *repo.MemoryStore, id string, nodes ...domain.Node) {
	t.Helper()
	def := &domain.WorkflowDefinition{ID: id, Name: id, Nodes: nodes}
	if err := store.Workflows.Save(context.Background(), def, true); err != nil {
		t.Fatalf("save workflow: %v", err)
	}
}

func newTestScheduler(t *testing.T, store *repo.MemoryStore, pub Publisher, clk *clock) *Scheduler {
	t.Helper()
	s, err := New(Config{
		Workflows: store.Workflows,
		Schedules: store.Schedules,
		Publisher: pub,
		Now:       clk.Now,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNew_Requirements(t *testing.T) {
	store := repo.NewMemoryStore()
	if _, err := New(Config{Workflows: store.Workflows, Schedules: store.Schedules}); !errors.Is(err, ErrNoPublisher) {
		t.Errorf("err = %v, want ErrNoPublisher", err)
	}
	if _, err := New(Config{Publisher: &fakePublisher{}}); !errors.Is(err, ErrNoStore) {
		t.Errorf("err = %v, want ErrNoStore", err)
	}
}

func TestScheduler_IntervalFires(t *testing.T) {
	ctx := context.Background()
	store := repo.NewMemoryStore()
	pub := &fakePublisher{}
	clk := &clock{now: t0}

	saveWorkflow(t, store, "wf-1", domain.Node{ID: "every-minute", Type: executors.TypeSchedule, Data: map[string]any{
		"mode": "interval", "interval": 1, "unit": "minutes",
	}})
	s := newTestScheduler(t, store, pub, clk)

	if err := s.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	trig, ok := store.Schedules.Get("wf-1/every-minute")
	if !ok {
		t.Fatal("trigger not registered")
	}
	if trig.IntervalSec != 60 || !trig.NextDueAt.Equal(t0.Add(time.Minute)) {
		t.Fatalf("trigger = %+v", trig)
	}

	if n, err := s.Tick(ctx); err != nil || n != 0 {
		t.Fatalf("Tick before due = %d, %v", n, err)
	}

	clk.Advance(61 * time.Second)
	n, err := s.Tick(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Tick = %d, %v; want 1", n, err)
	}

	events := pub.published()
	if len(events) != 1 {
		t.Fatalf("published %d events", len(events))
	}
	ev := events[0]
	if ev.WorkflowID != "wf-1" || ev.NodeID != "every-minute" || ev.Source != domain.SourceSchedule {
		t.Errorf("event = %+v", ev)
	}

	trig, _ = store.Schedules.Get("wf-1/every-minute")
	wantNext := t0.Add(61 * time.Second).Add(time.Minute)
	if !trig.NextDueAt.Equal(wantNext) {
		t.Errorf("next due = %v, want %v", trig.NextDueAt, wantNext)
	}
	if trig.LastFiredAt == nil || !trig.LastFiredAt.Equal(t0.Add(61*time.Second)) {
		t.Errorf("last fired = %v", trig.LastFiredAt)
	}

	// Повторная синхронизация не сбрасывает next_due_at.
	if err := s.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	trig, _ = store.Schedules.Get("wf-1/every-minute")
	if !trig.NextDueAt.Equal(wantNext) {
		t.Errorf("next due after resync = %v, want %v", trig.NextDueAt, wantNext)
	}
}

func TestScheduler_CronNextDue(t *testing.T) {
	tests := []struct {
		name string
		data map[string]any
		want time.Time
	}{
		{
			name: "top of hour utc",
			data: map[string]any{"mode": "cron", "cron": "0 * * * *"},
			want: time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC),
		},
		{
			name: "daily in timezone",
			data: map[string]any{"mode": "cron", "cron": "0 9 * * *", "timezone": "Europe/Moscow"},
			want: time.Date(2026, 1, 2, 6, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := repo.NewMemoryStore()
			saveWorkflow(t, store, "wf", domain.Node{ID: "cron", Type: executors.TypeSchedule, Data: tt.data})
			s := newTestScheduler(t, store, &fakePublisher{}, &clock{now: t0})

			if err := s.Sync(context.Background()); err != nil {
				t.Fatalf("Sync: %v", err)
			}
			trig, ok := store.Schedules.Get("wf/cron")
			if !ok {
				t.Fatal("trigger not registered")
			}
			if diff := cmp.Diff(tt.want, *trig.NextDueAt); diff != "" {
				t.Errorf("next due mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestScheduler_SyncDisablesRemovedTriggers(t *testing.T) {
	ctx := context.Background()
	store := repo.NewMemoryStore()
	saveWorkflow(t, store, "wf", scheduleNode("tick"))
	s := newTestScheduler(t, store, &fakePublisher{}, &clock{now: t0})

	if err := s.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := store.Workflows.SetActive(ctx, "wf", false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	if err := s.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	trig, ok := store.Schedules.Get("wf/tick")
	if !ok {
		t.Fatal("trigger missing")
	}
	if trig.Enabled {
		t.Error("trigger of inactive workflow is still enabled")
	}
}

func TestScheduler_InvalidNodeSkipped(t *testing.T) {
	store := repo.NewMemoryStore()
	saveWorkflow(t, store, "wf",
		domain.Node{ID: "bad", Type: executors.TypeSchedule, Data: map[string]any{"mode": "cron", "cron": "not a cron"}},
		scheduleNode("good"),
	)
	s := newTestScheduler(t, store, &fakePublisher{}, &clock{now: t0})

	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if _, ok := store.Schedules.Get("wf/bad"); ok {
		t.Error("invalid trigger was registered")
	}
	if _, ok := store.Schedules.Get("wf/good"); !ok {
		t.Error("valid trigger was not registered")
	}
}

func TestScheduler_PublishFailureKeepsDue(t *testing.T) {
	ctx := context.Background()
	store := repo.NewMemoryStore()
	pub := &fakePublisher{err: errors.New("broker down")}
	clk := &clock{now: t0}
	saveWorkflow(t, store, "wf", scheduleNode("tick"))
	s := newTestScheduler(t, store, pub, clk)

	if err := s.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	clk.Advance(2 * time.Minute)
	if _, err := s.Tick(ctx); err == nil {
		t.Fatal("Tick succeeded with failing publisher")
	}

	trig, _ := store.Schedules.Get("wf/tick")
	if !trig.NextDueAt.Equal(t0.Add(time.Minute)) {
		t.Errorf("next due moved on failed publish: %v", trig.NextDueAt)
	}

	pub.err = nil
	if n, err := s.Tick(ctx); err != nil || n != 1 {
		t.Fatalf("Tick after recovery = %d, %v", n, err)
	}
}

func scheduleNode(id string) domain.Node {
	return domain.Node{ID: id, Type: executors.TypeSchedule, Data: map[string]any{
		"mode": "interval", "interval": 1, "unit": "minutes",
	}}
}
