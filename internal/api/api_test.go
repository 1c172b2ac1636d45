package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/shaiso/Nodeflow/internal/domain"
	"github.com/shaiso/Nodeflow/internal/engine"
	"github.com/shaiso/Nodeflow/internal/executors"
	"github.com/shaiso/Nodeflow/internal/repo"
	"github.com/shaiso/Nodeflow/internal/services"
)

type fakeDispatcher struct {
	mu     sync.Mutex
	events []*domain.TriggerEvent
	err    error
}

func (d *fakeDispatcher) PublishTrigger(_ context.Context, ev *domain.TriggerEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.events = append(d.events, ev)
	return nil
}

func (d *fakeDispatcher) fail(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

func (d *fakeDispatcher) last(t *testing.T) *domain.TriggerEvent {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.events) == 0 {
		t.Fatal("no events dispatched")
	}
	return d.events[len(d.events)-1]
}

type fixture struct {
	store      *repo.MemoryStore
	dispatcher *fakeDispatcher
	hooks      *WebhookRouter
	server     *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repo.NewMemoryStore()
	dispatcher := &fakeDispatcher{}
	hooks := NewWebhookRouter("http://api.test", nil)
	h := NewHandler(Config{
		Workflows:  store.Workflows,
		Executions: store.Executions,
		Dispatcher: dispatcher,
		Validator:  engine.NewValidator(executors.DefaultRegistry(executors.Deps{})),
		Hooks:      hooks,
		Secrets:    services.MapSecrets{"HOOK_TOKEN": "s3cret"},
	})
	srv := httptest.NewServer(h.Server())
	t.Cleanup(srv.Close)
	return &fixture{store: store, dispatcher: dispatcher, hooks: hooks, server: srv}
}

func (f *fixture) save(t *testing.T, def *domain.WorkflowDefinition) {
	t.Helper()
	if err := f.store.Workflows.Save(context.Background(), def, true); err != nil {
		t.Fatalf("save workflow: %v", err)
	}
}

func (f *fixture) do(t *testing.T, method, path, contentType, body string, headers ...string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func decodeData[T any](t *testing.T, body []byte) T {
	t.Helper()
	var env struct {
		Data T `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("decode response %s: %v", body, err)
	}
	return env.Data
}

func scheduleNode(id string) domain.Node {
	return domain.Node{ID: id, Type: executors.TypeSchedule, Data: map[string]any{
		"mode": "interval", "interval": 1, "unit": "minutes",
	}}
}

func TestValidateWorkflow(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name      string
		def       domain.WorkflowDefinition
		wantValid bool
		wantField string
	}{
		{
			name:      "valid",
			def:       domain.WorkflowDefinition{ID: "wf", Nodes: []domain.Node{scheduleNode("tick")}},
			wantValid: true,
		},
		{
			name:      "unknown type",
			def:       domain.WorkflowDefinition{ID: "wf", Nodes: []domain.Node{{ID: "x", Type: "nope"}}},
			wantField: "nodes[0].type",
		},
		{
			name:      "empty graph",
			def:       domain.WorkflowDefinition{ID: "wf"},
			wantField: "nodes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, _ := json.Marshal(tt.def)
			resp, data := f.do(t, http.MethodPost, "/api/v1/workflows/validate", "application/json", string(body))
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d: %s", resp.StatusCode, data)
			}
			got := decodeData[ValidationResponse](t, data)
			if got.IsValid != tt.wantValid {
				t.Fatalf("is_valid = %v, errors = %+v", got.IsValid, got.Errors)
			}
			if tt.wantField != "" && (len(got.Errors) == 0 || got.Errors[0].Field != tt.wantField) {
				t.Errorf("errors = %+v, want field %s", got.Errors, tt.wantField)
			}
		})
	}

	resp, _ := f.do(t, http.MethodPost, "/api/v1/workflows/validate", "application/json", "{")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body status = %d", resp.StatusCode)
	}
}

func TestCreateExecution(t *testing.T) {
	f := newFixture(t)
	f.save(t, &domain.WorkflowDefinition{
		ID: "wf-1",
		Nodes: []domain.Node{
			scheduleNode("tick"),
			{ID: "keep", Type: executors.TypeFilter},
		},
	})

	resp, data := f.do(t, http.MethodPost, "/api/v1/workflows/wf-1/executions", "application/json",
		`{"node_id": "tick", "payload": {"n": 1}}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d: %s", resp.StatusCode, data)
	}
	accepted := decodeData[ExecutionAccepted](t, data)
	ev := f.dispatcher.last(t)
	if accepted.ExecutionID != ev.ID || accepted.Status != domain.RunStatusPending {
		t.Errorf("accepted = %+v, event id %s", accepted, ev.ID)
	}
	if ev.Source != domain.SourceManual || ev.NodeID != "tick" {
		t.Errorf("event = %+v", ev)
	}
	if diff := cmp.Diff(map[string]any{"n": 1.0}, ev.Payload); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}

	// Пустое тело — запуск всех триггеров без payload.
	if resp, data := f.do(t, http.MethodPost, "/api/v1/workflows/wf-1/executions", "", ""); resp.StatusCode != http.StatusAccepted {
		t.Errorf("empty body status = %d: %s", resp.StatusCode, data)
	}

	errorCases := []struct {
		name string
		path string
		body string
		want int
	}{
		{"unknown workflow", "/api/v1/workflows/missing/executions", `{}`, http.StatusNotFound},
		{"unknown node", "/api/v1/workflows/wf-1/executions", `{"node_id": "ghost"}`, http.StatusBadRequest},
		{"not a trigger", "/api/v1/workflows/wf-1/executions", `{"node_id": "keep"}`, http.StatusBadRequest},
	}
	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			if resp, data := f.do(t, http.MethodPost, tc.path, "application/json", tc.body); resp.StatusCode != tc.want {
				t.Errorf("status = %d, want %d: %s", resp.StatusCode, tc.want, data)
			}
		})
	}

	f.dispatcher.fail(errors.New("broker down"))
	if resp, _ := f.do(t, http.MethodPost, "/api/v1/workflows/wf-1/executions", "application/json", `{}`); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("dispatch failure status = %d", resp.StatusCode)
	}
}

func TestGetExecution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	exec := domain.NewExecution("wf-1")
	exec.Nodes["tick"] = domain.NewNodeState(scheduleNode("tick"))
	exec.MarkRunning()
	exec.Nodes["tick"].MarkRunning()
	exec.Nodes["tick"].Finish(domain.Succeeded(map[string]any{"n": 1.0}, nil), 1)
	exec.MarkCompleted()
	if err := f.store.Executions.RecordRunCompletion(ctx, exec); err != nil {
		t.Fatalf("record: %v", err)
	}

	resp, data := f.do(t, http.MethodGet, "/api/v1/executions/"+exec.ID.String(), "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, data)
	}
	got := decodeData[ExecutionResponse](t, data)
	if got.Status != domain.RunStatusCompleted || len(got.Nodes) != 1 || got.Nodes[0].Status != domain.NodeStatusSucceeded {
		t.Errorf("execution = %+v", got)
	}
	if got.Summary[string(domain.NodeStatusSucceeded)] != 1 {
		t.Errorf("summary = %v", got.Summary)
	}

	resp, data = f.do(t, http.MethodGet, "/api/v1/workflows/wf-1/executions?limit=5", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d: %s", resp.StatusCode, data)
	}
	if list := decodeData[[]ExecutionResponse](t, data); len(list) != 1 || list[0].ID != exec.ID {
		t.Errorf("list = %+v", list)
	}

	if resp, _ := f.do(t, http.MethodGet, "/api/v1/executions/not-a-uuid", "", ""); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad id status = %d", resp.StatusCode)
	}
	if resp, _ := f.do(t, http.MethodGet, "/api/v1/executions/"+uuid.NewString(), "", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing status = %d", resp.StatusCode)
	}
}

func webhookWorkflow(id, path string) *domain.WorkflowDefinition {
	return &domain.WorkflowDefinition{ID: id, Nodes: []domain.Node{{
		ID:   "hook",
		Type: executors.TypeWebhook,
		Data: map[string]any{"path": path, "method": "POST", "secretHeader": "X-Token", "secret": "HOOK_TOKEN"},
	}}}
}

func TestHandleHook(t *testing.T) {
	f := newFixture(t)
	if err := f.hooks.RegisterWorkflow(webhookWorkflow("wf-hook", "/orders/new")); err != nil {
		t.Fatalf("RegisterWorkflow: %v", err)
	}

	resp, data := f.do(t, http.MethodPost, "/hooks/orders/new?src=shop", "application/json", `{"order": 7}`, "X-Token", "s3cret")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d: %s", resp.StatusCode, data)
	}
	ev := f.dispatcher.last(t)
	if ev.WorkflowID != "wf-hook" || ev.NodeID != "hook" || ev.Source != domain.SourceWebhook {
		t.Errorf("event = %+v", ev)
	}
	payload := ev.Payload.(map[string]any)
	if diff := cmp.Diff(map[string]any{"order": 7.0}, payload["body"]); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}
	if q := payload["query"].(map[string]any); q["src"] != "shop" {
		t.Errorf("query = %v", q)
	}
	if h := payload["headers"].(map[string]any); h["X-Token"] != nil {
		t.Error("secret header leaked into payload")
	}

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"wrong secret", http.MethodPost, "/hooks/orders/new", "nope", http.StatusUnauthorized},
		{"wrong method", http.MethodGet, "/hooks/orders/new", "s3cret", http.StatusMethodNotAllowed},
		{"unknown path", http.MethodPost, "/hooks/orders/old", "s3cret", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, data := f.do(t, tt.method, tt.path, "text/plain", "hi", "X-Token", tt.token)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d: %s", resp.StatusCode, tt.want, data)
			}
		})
	}
}

func TestWebhookRouter_RegisterEndpoint(t *testing.T) {
	r := NewWebhookRouter("http://api.test/", nil)
	ctx := context.Background()
	route := services.Route{WorkflowID: "wf-1", NodeID: "hook", Path: "a/b", Method: "POST"}

	hookURL, err := r.RegisterEndpoint(ctx, route)
	if err != nil {
		t.Fatalf("RegisterEndpoint: %v", err)
	}
	if hookURL != "http://api.test/hooks/a/b" {
		t.Errorf("url = %q", hookURL)
	}
	if _, err := r.RegisterEndpoint(ctx, route); err != nil {
		t.Errorf("repeated registration: %v", err)
	}

	other := route
	other.WorkflowID = "wf-2"
	if _, err := r.RegisterEndpoint(ctx, other); !errors.Is(err, ErrRouteConflict) {
		t.Errorf("err = %v, want ErrRouteConflict", err)
	}

	if n := r.UnregisterWorkflow("wf-1"); n != 1 {
		t.Errorf("unregistered %d routes", n)
	}
	if _, err := r.RegisterEndpoint(ctx, other); err != nil {
		t.Errorf("register after unregister: %v", err)
	}
	if diff := cmp.Diff([]services.Route{other}, r.Routes()); diff != "" {
		t.Errorf("routes mismatch (-want +got):\n%s", diff)
	}
}

func TestWebhookRouter_Sync(t *testing.T) {
	r := NewWebhookRouter("http://api.test", nil)
	first := []domain.WorkflowDefinition{
		*webhookWorkflow("wf-a", "a"),
		*webhookWorkflow("wf-b", "b"),
	}
	if err := r.Sync(first); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if n := len(r.Routes()); n != 2 {
		t.Fatalf("routes = %d, want 2", n)
	}

	moved := webhookWorkflow("wf-a", "a2")
	if err := r.Sync([]domain.WorkflowDefinition{*moved}); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	want := []services.Route{{WorkflowID: "wf-a", NodeID: "hook", Path: "a2", Method: "POST"}}
	if diff := cmp.Diff(want, r.Routes()); diff != "" {
		t.Errorf("routes mismatch (-want +got):\n%s", diff)
	}
}

func TestWebhookRouter_SyncNeverDropsLiveRoutes(t *testing.T) {
	r := NewWebhookRouter("http://api.test", nil)
	defs := []domain.WorkflowDefinition{
		*webhookWorkflow("wf-a", "a"),
		*webhookWorkflow("wf-b", "b"),
	}
	if err := r.Sync(defs); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	stop := make(chan struct{})
	var misses atomic.Int32
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				for _, path := range []string{"a", "b"} {
					if _, ok, _ := r.lookup(http.MethodPost, path); !ok {
						misses.Add(1)
					}
				}
			}
		}()
	}
	for range 200 {
		if err := r.Sync(defs); err != nil {
			t.Errorf("Sync: %v", err)
		}
	}
	close(stop)
	wg.Wait()

	if n := misses.Load(); n != 0 {
		t.Errorf("lookup missed %d times during Sync", n)
	}
}

func TestWebhookRouter_SyncConflictKeepsPreviousRoutes(t *testing.T) {
	r := NewWebhookRouter("http://api.test", nil)
	if err := r.Sync([]domain.WorkflowDefinition{*webhookWorkflow("wf-a", "a"), *webhookWorkflow("wf-b", "b")}); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	// wf-b переезжает на путь, занятый wf-a.
	err := r.Sync([]domain.WorkflowDefinition{*webhookWorkflow("wf-a", "a"), *webhookWorkflow("wf-b", "a")})
	if !errors.Is(err, ErrRouteConflict) {
		t.Fatalf("expected ErrRouteConflict, got %v", err)
	}
	want := []services.Route{
		{WorkflowID: "wf-a", NodeID: "hook", Path: "a", Method: "POST"},
		{WorkflowID: "wf-b", NodeID: "hook", Path: "b", Method: "POST"},
	}
	if diff := cmp.Diff(want, r.Routes()); diff != "" {
		t.Errorf("routes mismatch (-want +got):\n%s", diff)
	}
	h, ok, _ := r.lookup(http.MethodPost, "b")
	if !ok || h.secret != "HOOK_TOKEN" {
		t.Errorf("previous route of wf-b lost: ok=%v hook=%+v", ok, h)
	}
}

func TestForms(t *testing.T) {
	f := newFixture(t)
	f.save(t, &domain.WorkflowDefinition{ID: "wf-form", Nodes: []domain.Node{{
		ID:   "signup",
		Type: executors.TypeForm,
		Data: map[string]any{
			"title": "Sign up",
			"fields": []any{
				map[string]any{"name": "name", "type": "text", "required": true},
				map[string]any{"name": "age", "type": "number"},
			},
		},
	}}})

	resp, data := f.do(t, http.MethodGet, "/forms/wf-form/signup", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get form status = %d: %s", resp.StatusCode, data)
	}
	form := decodeData[FormResponse](t, data)
	if form.NodeID != "signup" || form.WorkflowID != "wf-form" {
		t.Errorf("form = %+v", form)
	}

	values := url.Values{"name": {"Ann"}, "age": {"42"}}
	resp, data = f.do(t, http.MethodPost, "/forms/wf-form/signup", "application/x-www-form-urlencoded", values.Encode())
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit status = %d: %s", resp.StatusCode, data)
	}
	ev := f.dispatcher.last(t)
	if ev.Source != domain.SourceForm || ev.NodeID != "signup" {
		t.Errorf("event = %+v", ev)
	}
	if diff := cmp.Diff(map[string]any{"name": "Ann", "age": 42.0}, ev.Payload); diff != "" {
		t.Errorf("submission mismatch (-want +got):\n%s", diff)
	}

	resp, data = f.do(t, http.MethodPost, "/forms/wf-form/signup", "application/json", `{"age": 3}`)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("invalid submission status = %d: %s", resp.StatusCode, data)
	}

	if resp, _ := f.do(t, http.MethodGet, "/forms/wf-form/missing", "", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing form status = %d", resp.StatusCode)
	}
}

func TestObservabilityRoutes(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/healthz", "/metrics"} {
		if resp, _ := f.do(t, http.MethodGet, path, "", ""); resp.StatusCode != http.StatusOK {
			t.Errorf("%s status = %d", path, resp.StatusCode)
		}
	}
}
