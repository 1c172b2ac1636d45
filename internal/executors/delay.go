package executors

import (
	"context"
	"fmt"
	"time"

	"github.com/shaiso/Nodeflow/internal/domain"
)

// TypeDelay — задержка.
const TypeDelay = "delay"

// maxDelay — верхняя граница задержки одного узла.
const maxDelay = time.Hour

// DelayConfig — конфигурация delay.
//
//	{"amount": 30, "unit": "seconds"}
type DelayConfig struct {
	Amount float64 `json:"amount"`
	Unit   string  `json:"unit"`
}

// Duration возвращает длительность задержки.
func (c *DelayConfig) Duration() (time.Duration, error) {
	if c.Amount <= 0 {
		return 0, fmt.Errorf("%w: amount must be positive", ErrMissingField)
	}
	var unit time.Duration
	switch c.Unit {
	case "ms", "milliseconds":
		unit = time.Millisecond
	case "", "s", "seconds":
		unit = time.Second
	case "m", "minutes":
		unit = time.Minute
	case "h", "hours":
		unit = time.Hour
	default:
		return 0, fmt.Errorf("%w: unit %q", ErrUnsupportedMode, c.Unit)
	}
	d := time.Duration(c.Amount * float64(unit))
	if d > maxDelay {
		return 0, fmt.Errorf("delay %s exceeds %s", d, maxDelay)
	}
	return d, nil
}

var delayMeta = domain.ExecutorMetadata{
	Type:           TypeDelay,
	Category:       domain.CategoryTransform,
	AllowedInputs:  []string{domain.AnyCapability},
	AllowedOutputs: []string{domain.AnyCapability},
	MaxInputs:      1,
	MaxOutputs:     domain.Unlimited,
	IsAsync:        true,
	DefaultData:    map[string]any{"unit": "seconds"},
	Schema: `{
		"type": "object",
		"required": ["amount"],
		"properties": {
			"amount": {"type": "number", "exclusiveMinimum": 0},
			"unit": {"enum": ["ms", "milliseconds", "s", "seconds", "m", "minutes", "h", "hours"]}
		}
	}`,
}

// Delay — executor delay.
//
// Приостанавливает ветку на заданное время и передаёт вход дальше.
// Поддерживает отмену через context.
type Delay struct {
	base
}

// NewDelay создаёт executor delay.
func NewDelay() *Delay {
	return &Delay{base: base{meta: delayMeta}}
}

// Execute выполняет задержку.
func (e *Delay) Execute(ctx context.Context, nctx *NodeContext) *domain.NodeResult {
	var cfg DelayConfig
	if err := decodeConfig(nctx.Node, e.meta, &cfg); err != nil {
		return domain.Failed(err, nil)
	}
	duration, err := cfg.Duration()
	if err != nil {
		return configFailure("delay: %w", err)
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return domain.Failed(domain.CancelledError(ctx.Err()), nil)
	case <-timer.C:
		return domain.Succeeded(nctx.Input, map[string]any{"delayMs": duration.Milliseconds()})
	}
}
