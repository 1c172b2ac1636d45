package executors

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/shaiso/Nodeflow/internal/domain"
	"github.com/shaiso/Nodeflow/internal/services"
)

// TypeWebhook — триггер входящего HTTP-запроса.
const TypeWebhook = "webhook"

// WebhookConfig — конфигурация триггера webhook.
//
//	{"path": "orders/new", "method": "POST", "secretHeader": "X-Token", "secret": "ORDERS_TOKEN"}
//
// secret — имя секрета; если задан, запрос должен нести его значение
// в заголовке secretHeader.
type WebhookConfig struct {
	Path         string `json:"path"`
	Method       string `json:"method"`
	SecretHeader string `json:"secretHeader"`
	Secret       string `json:"secret"`
}

// Route возвращает маршрут для регистрации.
func (c *WebhookConfig) Route(workflowID, nodeID string) services.Route {
	return services.Route{
		WorkflowID: workflowID,
		NodeID:     nodeID,
		Path:       strings.Trim(c.Path, "/"),
		Method:     strings.ToUpper(c.Method),
	}
}

// WebhookConfigFor декодирует конфигурацию узла webhook.
func WebhookConfigFor(node *domain.Node) (*WebhookConfig, error) {
	var cfg WebhookConfig
	if err := decodeConfig(node, webhookMeta, &cfg); err != nil {
		return nil, err
	}
	if strings.Trim(cfg.Path, "/") == "" {
		return nil, domain.ConfigError("", fmt.Errorf("%w: path", ErrMissingField))
	}
	cfg.Method = strings.ToUpper(cfg.Method)
	switch cfg.Method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return nil, domain.ConfigError("", fmt.Errorf("%w: method %q", ErrUnsupportedMode, cfg.Method))
	}
	return &cfg, nil
}

var webhookMeta = domain.ExecutorMetadata{
	Type:           TypeWebhook,
	Category:       domain.CategoryTrigger,
	AllowedOutputs: []string{domain.AnyCapability},
	MaxInputs:      0,
	MaxOutputs:     domain.Unlimited,
	DefaultData:    map[string]any{"method": "POST", "secretHeader": "X-Webhook-Secret"},
	Schema: `{
		"type": "object",
		"required": ["path"],
		"properties": {
			"path": {"type": "string", "minLength": 1},
			"method": {"enum": ["GET", "POST", "PUT", "PATCH", "DELETE", "get", "post", "put", "patch", "delete"]},
			"secretHeader": {"type": "string"},
			"secret": {"type": "string"}
		}
	}`,
}

// Webhook — триггер webhook.
//
// Регистрирует endpoint через services.Endpoints (идемпотентно). Если run
// запущен доставкой, данные узла — payload доставки; иначе — описание endpoint.
type Webhook struct {
	base
}

// NewWebhookTrigger создаёт триггер webhook.
func NewWebhookTrigger() *Webhook {
	return &Webhook{base: base{meta: webhookMeta}}
}

// Execute реализует Executor.
func (e *Webhook) Execute(ctx context.Context, nctx *NodeContext) *domain.NodeResult {
	cfg, err := WebhookConfigFor(nctx.Node)
	if err != nil {
		return domain.Failed(err, nil)
	}
	route := cfg.Route(nctx.Execution.WorkflowID, nctx.nodeID())

	url := ""
	if nctx.Services != nil && nctx.Services.Endpoints != nil {
		url, err = nctx.Services.Endpoints.RegisterEndpoint(ctx, route)
		if err != nil {
			return execFailure(ctx, fmt.Errorf("register endpoint: %w", err), map[string]any{"path": route.Path})
		}
	}

	meta := map[string]any{
		"trigger": TypeWebhook,
		"path":    route.Path,
		"method":  route.Method,
		"url":     url,
	}
	if nctx.Input != nil {
		return domain.Succeeded(nctx.Input, meta)
	}
	return domain.Succeeded(map[string]any{
		"url":    url,
		"path":   route.Path,
		"method": route.Method,
	}, meta)
}
