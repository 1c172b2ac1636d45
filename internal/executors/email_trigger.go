package executors

import (
	"context"
	"fmt"
	"strings"

	"github.com/shaiso/Nodeflow/internal/domain"
)

// TypeEmailReceive — триггер входящей почты.
const TypeEmailReceive = "email-receive"

// EmailTriggerConfig — фильтры входящих писем.
// Пустой фильтр пропускает всё; сравнение — подстрока без учёта регистра.
type EmailTriggerConfig struct {
	Mailbox       string `json:"mailbox"`
	SubjectFilter string `json:"subjectFilter"`
	FromFilter    string `json:"fromFilter"`
}

// Matches проверяет письмо по фильтрам.
func (c *EmailTriggerConfig) Matches(msg map[string]any) bool {
	return containsFold(mailField(msg, "subject"), c.SubjectFilter) &&
		containsFold(mailField(msg, "from"), c.FromFilter)
}

// mailField достаёт строковое поле письма.
func mailField(msg map[string]any, key string) string {
	v, ok := msg[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func containsFold(s, sub string) bool {
	if sub == "" {
		return true
	}
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

var emailTriggerMeta = domain.ExecutorMetadata{
	Type:           TypeEmailReceive,
	Category:       domain.CategoryTrigger,
	AllowedOutputs: []string{domain.AnyCapability},
	MaxInputs:      0,
	MaxOutputs:     domain.Unlimited,
	DefaultData:    map[string]any{"mailbox": "INBOX"},
	Schema: `{
		"type": "object",
		"properties": {
			"mailbox": {"type": "string"},
			"subjectFilter": {"type": "string"},
			"fromFilter": {"type": "string"}
		}
	}`,
}

// EmailReceive — триггер email-receive.
//
// Доставленные письма ({from, subject, text, html, receivedAt}) фильтруются
// по subjectFilter/fromFilter. Одно письмо на входе даёт письмо или nil,
// список — список совпавших.
type EmailReceive struct {
	base
}

// NewEmailTrigger создаёт триггер email-receive.
func NewEmailTrigger() *EmailReceive {
	return &EmailReceive{base: base{meta: emailTriggerMeta}}
}

// Execute реализует Executor.
func (e *EmailReceive) Execute(_ context.Context, nctx *NodeContext) *domain.NodeResult {
	var cfg EmailTriggerConfig
	if err := decodeConfig(nctx.Node, e.meta, &cfg); err != nil {
		return domain.Failed(err, nil)
	}

	meta := map[string]any{"trigger": TypeEmailReceive, "mailbox": cfg.Mailbox}
	if msg, ok := nctx.Input.(map[string]any); ok {
		meta["received"], meta["matched"] = 1, 0
		if !cfg.Matches(msg) {
			return domain.Filtered(nil, meta)
		}
		meta["matched"] = 1
		return domain.Succeeded(msg, meta)
	}

	items, _ := asSlice(nctx.Input)
	matched := make([]any, 0, len(items))
	for _, item := range items {
		if msg, ok := item.(map[string]any); ok && cfg.Matches(msg) {
			matched = append(matched, msg)
		}
	}
	meta["received"], meta["matched"] = len(items), len(matched)
	if len(matched) == 0 {
		return domain.Filtered(matched, meta)
	}
	return domain.Succeeded(matched, meta)
}
