package executors

import (
	"context"
	"fmt"
	"net/mail"

	"github.com/shaiso/Nodeflow/internal/domain"
	"github.com/shaiso/Nodeflow/internal/engine"
	"github.com/shaiso/Nodeflow/internal/services"
)

// TypeEmail — отправка письма.
const TypeEmail = "email"

// Провайдеры почты.
const (
	ProviderSMTP = "smtp"
	ProviderAPI  = "api"
)

// EmailConfig — конфигурация email.
//
//	{
//	    "provider": "smtp",
//	    "from": "bot@example.com",
//	    "to": "{{input.email}}",
//	    "subject": "Order {{input.id}}",
//	    "text": "Hello {{input.name}}",
//	    "smtp": {"host": "smtp.example.com", "port": 587, "username": "bot", "passwordSecret": "SMTP_PASSWORD"}
//	}
//
// to, cc и bcc принимают строку через запятую или массив.
type EmailConfig struct {
	Provider string `json:"provider"`
	From     string `json:"from"`
	To       any    `json:"to"`
	Cc       any    `json:"cc"`
	Bcc      any    `json:"bcc"`
	ReplyTo  string `json:"replyTo"`
	Subject  string `json:"subject"`
	Text     string `json:"text"`
	HTML     string `json:"html"`

	SMTP struct {
		Host           string `json:"host"`
		Port           int    `json:"port"`
		Username       string `json:"username"`
		PasswordSecret string `json:"passwordSecret"`
	} `json:"smtp"`

	API struct {
		Endpoint     string `json:"endpoint"`
		APIKeySecret string `json:"apiKeySecret"`
	} `json:"api"`
}

var emailMeta = domain.ExecutorMetadata{
	Type:           TypeEmail,
	Category:       domain.CategoryOutput,
	AllowedInputs:  []string{domain.AnyCapability},
	AllowedOutputs: []string{},
	MaxInputs:      1,
	MaxOutputs:     0,
	IsAsync:        true,
	RequiresAuth:   true,
	DefaultData: map[string]any{
		"provider":   ProviderSMTP,
		"retryCount": 2,
		"retryDelay": 2000,
	},
	Schema: `{
		"type": "object",
		"required": ["from", "to", "subject"],
		"properties": {
			"provider": {"enum": ["smtp", "api"]},
			"from": {"type": "string", "minLength": 1},
			"to": {"type": ["string", "array"]},
			"cc": {"type": ["string", "array"]},
			"bcc": {"type": ["string", "array"]},
			"subject": {"type": "string"},
			"smtp": {
				"type": "object",
				"properties": {"host": {"type": "string"}, "port": {"type": "integer"}}
			},
			"api": {
				"type": "object",
				"properties": {"endpoint": {"type": "string"}}
			}
		},
		"anyOf": [{"required": ["text"]}, {"required": ["html"]}],
		"if": {"properties": {"provider": {"const": "api"}}, "required": ["provider"]},
		"then": {"required": ["api"]},
		"else": {"required": ["smtp"]}
	}`,
}

// EmailOutput — executor email.
type EmailOutput struct {
	base
	newMailer func(cfg *EmailConfig, bundle *services.Bundle) (services.Mailer, error)
}

// NewEmailOutput создаёт executor email.
func NewEmailOutput() *EmailOutput {
	return &EmailOutput{base: base{meta: emailMeta}, newMailer: newMailer}
}

// newMailer выбирает адаптер по provider.
func newMailer(cfg *EmailConfig, bundle *services.Bundle) (services.Mailer, error) {
	switch cfg.Provider {
	case ProviderSMTP, "":
		if cfg.SMTP.Host == "" {
			// Без host используется SMTP-сервер процесса, если он настроен.
			if bundle != nil && bundle.Mailer != nil {
				return bundle.Mailer, nil
			}
			return nil, fmt.Errorf("%w: smtp.host", ErrMissingField)
		}
		password := ""
		if cfg.SMTP.PasswordSecret != "" {
			p, err := bundle.Secret(cfg.SMTP.PasswordSecret)
			if err != nil {
				return nil, err
			}
			password = p
		}
		return services.NewSMTPMailer(services.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: password,
		}), nil

	case ProviderAPI:
		if cfg.API.Endpoint == "" {
			return nil, fmt.Errorf("%w: api.endpoint", ErrMissingField)
		}
		key := ""
		if cfg.API.APIKeySecret != "" {
			k, err := bundle.Secret(cfg.API.APIKeySecret)
			if err != nil {
				return nil, err
			}
			key = k
		}
		return &services.APIMailer{Endpoint: cfg.API.Endpoint, APIKey: key, Client: bundle.Client()}, nil
	}
	return nil, fmt.Errorf("%w: provider %q", ErrUnsupportedMode, cfg.Provider)
}

// Execute отправляет письмо.
func (e *EmailOutput) Execute(ctx context.Context, nctx *NodeContext) *domain.NodeResult {
	var cfg EmailConfig
	if err := decodeConfig(nctx.Node, e.meta, &cfg); err != nil {
		return domain.Failed(err, nil)
	}

	data := nctx.TemplateData()
	msg := &services.MailMessage{
		From:    engine.Resolve(cfg.From, data),
		To:      recipients(cfg.To, data),
		Cc:      recipients(cfg.Cc, data),
		Bcc:     recipients(cfg.Bcc, data),
		ReplyTo: engine.Resolve(cfg.ReplyTo, data),
		Subject: engine.Resolve(cfg.Subject, data),
		Text:    engine.Resolve(cfg.Text, data),
		HTML:    engine.Resolve(cfg.HTML, data),
	}
	if len(msg.To) == 0 {
		return configFailure("email: %w: to", ErrMissingField)
	}
	for _, addr := range append([]string{msg.From}, msg.Recipients()...) {
		if _, err := mail.ParseAddress(addr); err != nil {
			return configFailure("email: address %q: %w", addr, err)
		}
	}

	mailer, err := e.newMailer(&cfg, nctx.Services)
	if err != nil {
		return configFailure("email: %w", err)
	}
	id, err := mailer.Send(ctx, msg)
	if err != nil {
		return execFailure(ctx, err, httpDetails(err))
	}

	nctx.log().Info("email sent",
		"node_id", nctx.nodeID(),
		"provider", cfg.Provider,
		"recipients", len(msg.Recipients()),
	)
	return domain.Succeeded(map[string]any{
		"messageId": id,
		"provider":  cfg.Provider,
		"to":        msg.To,
		"subject":   msg.Subject,
	}, map[string]any{"recipients": len(msg.Recipients())})
}

// recipients разворачивает шаблоны адресов. Шаблон может вернуть
// массив ("{{input.emails}}") или строку через запятую.
func recipients(v any, data any) []string {
	var out []string
	for _, s := range stringList(engine.ResolveValue(v, data)) {
		out = append(out, stringList(engine.Resolve(s, data))...)
	}
	return out
}
