package executors

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/shaiso/Nodeflow/internal/domain"
	"github.com/shaiso/Nodeflow/internal/engine"
)

// TypeWebhookOutput — исходящий HTTP-запрос.
const TypeWebhookOutput = "webhook-output"

// WebhookOutputConfig — конфигурация webhook-output.
//
//	{
//	    "url": "https://api.example.com/orders/{{input.id}}",
//	    "method": "POST",
//	    "headers": {"X-Source": "nodeflow"},
//	    "query": {"dry": "false"},
//	    "body": "{{input}}",
//	    "auth": {"type": "bearer", "secret": "API_TOKEN"},
//	    "successCodes": [200, 201],
//	    "retryCount": 2,
//	    "retryDelay": 100,
//	    "rateLimit": 5
//	}
//
// Повторы выполняет движок по retryCount/retryDelay; сам executor
// делает ровно один запрос за попытку.
type WebhookOutputConfig struct {
	URL          string            `json:"url"`
	Method       string            `json:"method"`
	Headers      map[string]string `json:"headers"`
	Query        map[string]string `json:"query"`
	Body         any               `json:"body"`
	BodyType     string            `json:"bodyType"`
	Auth         AuthConfig        `json:"auth"`
	SuccessCodes []int             `json:"successCodes"`
	Timeout      int               `json:"timeout"`
	RateLimit    float64           `json:"rateLimit"`
}

// succeeded проверяет статус по successCodes (по умолчанию любой 2xx).
func (c *WebhookOutputConfig) succeeded(status int) bool {
	if len(c.SuccessCodes) == 0 {
		return status >= 200 && status < 300
	}
	return slices.Contains(c.SuccessCodes, status)
}

var webhookOutputMeta = domain.ExecutorMetadata{
	Type:           TypeWebhookOutput,
	Category:       domain.CategoryOutput,
	AllowedInputs:  []string{domain.AnyCapability},
	AllowedOutputs: []string{},
	MaxInputs:      1,
	MaxOutputs:     0,
	IsAsync:        true,
	DefaultData: map[string]any{
		"method":        "POST",
		"body":          "{{input}}",
		"bodyType":      "json",
		"timeout":       30000,
		"retryCount":    3,
		"retryDelay":    1000,
		"errorHandling": ErrorFail,
	},
	Schema: `{
		"type": "object",
		"required": ["url"],
		"properties": {
			"url": {"type": "string", "minLength": 1},
			"method": {"enum": ["GET", "POST", "PUT", "PATCH", "DELETE", "HEAD"]},
			"headers": {"type": "object", "additionalProperties": {"type": "string"}},
			"query": {"type": "object", "additionalProperties": {"type": "string"}},
			"bodyType": {"enum": ["json", "text"]},
			"auth": {
				"type": "object",
				"properties": {"type": {"enum": ["none", "basic", "bearer", "apikey"]}}
			},
			"successCodes": {"type": "array", "items": {"type": "integer", "minimum": 100, "maximum": 599}},
			"timeout": {"type": "number", "minimum": 0},
			"retryCount": {"type": "integer", "minimum": 0, "maximum": 10},
			"retryDelay": {"type": "number", "minimum": 0},
			"rateLimit": {"type": "number", "minimum": 0},
			"errorHandling": {"enum": ["fail", "continue", "retry"]}
		}
	}`,
}

// WebhookOutput — executor webhook-output.
type WebhookOutput struct {
	base
	limits *limiters
}

// NewWebhookOutput создаёт executor webhook-output.
func NewWebhookOutput() *WebhookOutput {
	return &WebhookOutput{base: base{meta: webhookOutputMeta}, limits: newLimiters()}
}

// Execute выполняет один HTTP-запрос.
func (e *WebhookOutput) Execute(ctx context.Context, nctx *NodeContext) *domain.NodeResult {
	var cfg WebhookOutputConfig
	if err := decodeConfig(nctx.Node, e.meta, &cfg); err != nil {
		return domain.Failed(err, nil)
	}
	if err := cfg.Auth.validate(); err != nil {
		return configFailure("webhook-output: %w", err)
	}

	data := nctx.TemplateData()
	req, err := e.buildRequest(ctx, nctx, &cfg, data)
	if err != nil {
		return domain.Failed(err, nil)
	}

	key := nctx.Execution.WorkflowID + "/" + nctx.nodeID()
	if err := e.limits.wait(ctx, key, cfg.RateLimit); err != nil {
		return execFailure(ctx, fmt.Errorf("rate limit: %w", err), nil)
	}

	client := nctx.Services.Client()
	if cfg.Timeout > 0 {
		c := *client
		c.Timeout = time.Duration(cfg.Timeout) * time.Millisecond
		client = &c
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return execFailure(ctx, fmt.Errorf("http request failed: %w", err), map[string]any{"url": req.URL.String()})
	}
	defer resp.Body.Close()

	parsed, err := parseResponse(resp)
	if err != nil {
		return execFailure(ctx, err, nil)
	}
	meta := map[string]any{
		"url":        req.URL.String(),
		"method":     req.Method,
		"statusCode": resp.StatusCode,
		"durationMs": time.Since(start).Milliseconds(),
	}

	if !cfg.succeeded(resp.StatusCode) {
		herr := &HTTPError{StatusCode: resp.StatusCode, Status: http.StatusText(resp.StatusCode), Body: truncate(engine.Stringify(parsed.Body), 2048)}
		nctx.log().Warn("webhook output rejected",
			"node_id", nctx.nodeID(),
			"status", resp.StatusCode,
		)
		return domain.Failed(domain.ExecError("", herr), httpDetails(herr)).WithMetadata(meta)
	}
	return domain.Succeeded(parsed, meta)
}

// buildRequest собирает запрос из шаблонов. Ошибки — ConfigError.
func (e *WebhookOutput) buildRequest(ctx context.Context, nctx *NodeContext, cfg *WebhookOutputConfig, data map[string]any) (*http.Request, error) {
	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodPost
	}

	rawURL := engine.Resolve(cfg.URL, data)
	if engine.HasPlaceholders(rawURL) {
		return nil, domain.ConfigError("", fmt.Errorf("url %q has unresolved placeholders", rawURL))
	}
	query := make(map[string]string, len(cfg.Query))
	for k, v := range cfg.Query {
		query[k] = engine.Resolve(v, data)
	}
	target, err := withQuery(rawURL, query)
	if err != nil {
		return nil, domain.ConfigError("", err)
	}

	var body io.Reader
	contentType := ""
	if method != http.MethodGet && method != http.MethodHead {
		raw, ct, err := serializeBody(engine.ResolveValue(cfg.Body, data), cfg.BodyType)
		if err != nil {
			return nil, domain.ConfigError("", fmt.Errorf("webhook-output body: %w", err))
		}
		if raw != nil {
			body = bytes.NewReader(raw)
			contentType = ct
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, domain.ConfigError("build request", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, engine.Resolve(v, data))
	}
	req.Header.Set("X-Nodeflow-Execution", nctx.Execution.ExecutionID)

	if err := cfg.Auth.apply(req, nctx.Services, data); err != nil {
		return nil, domain.ConfigError("auth", err)
	}
	return req, nil
}
