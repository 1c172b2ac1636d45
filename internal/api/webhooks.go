package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/shaiso/Nodeflow/internal/domain"
	"github.com/shaiso/Nodeflow/internal/executors"
	"github.com/shaiso/Nodeflow/internal/services"
)

// ErrRouteConflict — путь и метод уже заняты другим триггером.
var ErrRouteConflict = errors.New("webhook route is already registered")

// hook — зарегистрированный webhook-маршрут.
type hook struct {
	route        services.Route
	secretHeader string
	secret       string
}

// WebhookRouter — таблица webhook-маршрутов HTTP-слушателя.
//
// Реализует services.Endpoints: триггер webhook регистрирует свой
// маршрут и получает публичный URL {baseURL}/hooks/{path}.
type WebhookRouter struct {
	baseURL string
	logger  *slog.Logger

	mu     sync.RWMutex
	routes map[string]hook
}

// NewWebhookRouter создаёт пустой роутер.
func NewWebhookRouter(baseURL string, logger *slog.Logger) *WebhookRouter {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookRouter{baseURL: baseURL, logger: logger, routes: make(map[string]hook)}
}

func routeKey(method, path string) string {
	return strings.ToUpper(method) + " " + strings.Trim(path, "/")
}

// RegisterEndpoint реализует services.Endpoints.
// Повторная регистрация того же триггера идемпотентна.
func (r *WebhookRouter) RegisterEndpoint(_ context.Context, route services.Route) (string, error) {
	if err := r.add(hook{route: route}); err != nil {
		return "", err
	}
	return services.HookURL(r.baseURL, route.Path), nil
}

func (r *WebhookRouter) add(h hook) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return putRoute(r.routes, h)
}

// putRoute кладёт маршрут в таблицу. Путь занятый другим узлом даёт
// ErrRouteConflict; повторная регистрация того же узла без секрета
// сохраняет прежний секрет.
func putRoute(routes map[string]hook, h hook) error {
	if h.route.Method == "" {
		h.route.Method = http.MethodPost
	}
	h.route.Path = strings.Trim(h.route.Path, "/")
	key := routeKey(h.route.Method, h.route.Path)

	if prev, ok := routes[key]; ok {
		if prev.route.WorkflowID != h.route.WorkflowID || prev.route.NodeID != h.route.NodeID {
			return fmt.Errorf("%w: %s (workflow %s, node %s)", ErrRouteConflict, key, prev.route.WorkflowID, prev.route.NodeID)
		}
		if h.secret == "" {
			h.secret, h.secretHeader = prev.secret, prev.secretHeader
		}
	}
	routes[key] = h
	return nil
}

// workflowHooks собирает маршруты узлов webhook определения.
// Некорректные узлы пропускаются.
func (r *WebhookRouter) workflowHooks(def *domain.WorkflowDefinition) []hook {
	var hooks []hook
	for _, node := range def.NodesOfType(executors.TypeWebhook) {
		cfg, err := executors.WebhookConfigFor(&node)
		if err != nil {
			r.logger.Warn("invalid webhook trigger, skipping",
				"workflow_id", def.ID, "node_id", node.ID, "error", err)
			continue
		}
		hooks = append(hooks, hook{route: cfg.Route(def.ID, node.ID), secretHeader: cfg.SecretHeader, secret: cfg.Secret})
	}
	return hooks
}

// RegisterWorkflow регистрирует все узлы webhook определения
// вместе с их проверкой секрета. Некорректные узлы пропускаются.
func (r *WebhookRouter) RegisterWorkflow(def *domain.WorkflowDefinition) error {
	var errs []error
	for _, h := range r.workflowHooks(def) {
		if err := r.add(h); err != nil {
			errs = append(errs, err)
			continue
		}
		r.logger.Debug("webhook registered",
			"workflow_id", def.ID, "node_id", h.route.NodeID, "method", h.route.Method, "path", h.route.Path)
	}
	return errors.Join(errs...)
}

// UnregisterWorkflow удаляет маршруты workflow. Возвращает их количество.
func (r *WebhookRouter) UnregisterWorkflow(workflowID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for key, h := range r.routes {
		if h.route.WorkflowID == workflowID {
			delete(r.routes, key)
			n++
		}
	}
	return n
}

// Sync приводит таблицу маршрутов к набору активных определений:
// маршруты workflow, которых нет в defs, удаляются.
//
// Новая таблица собирается целиком и подменяет старую одной операцией,
// поэтому lookup никогда не видит промежуточного состояния. Workflow,
// маршрут которого конфликтует с другим, сохраняет прежние маршруты.
func (r *WebhookRouter) Sync(defs []domain.WorkflowDefinition) error {
	planned := make([][]hook, len(defs))
	for i := range defs {
		planned[i] = r.workflowHooks(&defs[i])
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(map[string]hook, len(r.routes))
	failed := make(map[string]bool)
	var errs []error
	for i, hooks := range planned {
		for _, h := range hooks {
			if err := putRoute(next, h); err != nil {
				errs = append(errs, err)
				failed[defs[i].ID] = true
			}
		}
	}
	if len(failed) > 0 {
		for key, h := range next {
			if failed[h.route.WorkflowID] {
				delete(next, key)
			}
		}
		for key, h := range r.routes {
			if _, taken := next[key]; !taken && failed[h.route.WorkflowID] {
				next[key] = h
			}
		}
	}
	r.routes = next
	return errors.Join(errs...)
}

// lookup находит маршрут. allowed — методы, зарегистрированные
// на этот путь (для 405).
func (r *WebhookRouter) lookup(method, path string) (h hook, ok bool, allowed []string) {
	path = strings.Trim(path, "/")
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.routes[routeKey(method, path)]; ok {
		return h, true, nil
	}
	for _, h := range r.routes {
		if h.route.Path == path {
			allowed = append(allowed, h.route.Method)
		}
	}
	sort.Strings(allowed)
	return hook{}, false, allowed
}

// Routes возвращает зарегистрированные маршруты, отсортированные по пути.
func (r *WebhookRouter) Routes() []services.Route {
	r.mu.RLock()
	out := make([]services.Route, 0, len(r.routes))
	for _, h := range r.routes {
		out = append(out, h.route)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Method < out[j].Method
	})
	return out
}

// HandleHook принимает доставку webhook и ставит run в очередь.
// ANY /hooks/{path...}
//
// Payload run: {method, path, headers, query, body}. JSON-тело
// декодируется, form-urlencoded — превращается в объект, остальное
// передаётся строкой.
func (h *Handler) HandleHook(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	entry, ok, allowed := h.hooks.lookup(r.Method, path)
	if !ok {
		if len(allowed) > 0 {
			w.Header().Set("Allow", strings.Join(allowed, ", "))
			MethodNotAllowed(w)
			return
		}
		NotFound(w, "webhook not found")
		return
	}

	if entry.secret != "" {
		want, found := h.secrets.Lookup(entry.secret)
		if !found {
			InternalError(w, h.logger, fmt.Errorf("webhook secret %s is not configured", entry.secret))
			return
		}
		got := r.Header.Get(entry.secretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			Unauthorized(w, "invalid webhook secret")
			return
		}
	}

	body, err := readBody(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "request body too large")
			return
		}
		BadRequest(w, err.Error())
		return
	}

	payload := map[string]any{
		"method":  r.Method,
		"path":    entry.route.Path,
		"headers": flatten(r.Header, entry.secretHeader),
		"query":   flatten(r.URL.Query(), ""),
		"body":    body,
	}
	ev := domain.NewTriggerEvent(entry.route.WorkflowID, entry.route.NodeID, domain.SourceWebhook, payload)
	accepted, err := h.dispatch(r.Context(), ev)
	if err != nil {
		Unavailable(w, h.logger, err)
		return
	}
	Accepted(w, accepted)
}

// readBody разбирает тело по Content-Type.
func readBody(r *http.Request) (any, error) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch {
	case ct == "application/json" || strings.HasSuffix(ct, "+json"):
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("invalid JSON body: %w", err)
		}
		return v, nil
	case ct == "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid form body: %w", err)
		}
		return flatten(values, ""), nil
	}
	return string(raw), nil
}

// flatten превращает multi-value map в объект: одно значение — строка,
// несколько — массив. skip (секретный заголовок) не попадает в payload.
func flatten(values map[string][]string, skip string) map[string]any {
	out := make(map[string]any, len(values))
	for k, vs := range values {
		if skip != "" && strings.EqualFold(k, skip) {
			continue
		}
		if len(vs) == 1 {
			out[k] = vs[0]
			continue
		}
		items := make([]any, len(vs))
		for i, v := range vs {
			items[i] = v
		}
		out[k] = items
	}
	return out
}
