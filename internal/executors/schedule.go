package executors

import (
	"context"
	"fmt"
	"time"
	_ "time/tzdata" // часовые пояса без системной базы

	"github.com/robfig/cron/v3"

	"github.com/shaiso/Nodeflow/internal/domain"
)

// TypeSchedule — триггер по расписанию.
const TypeSchedule = "schedule"

// cronParser принимает 5 полей, необязательные секунды и дескрипторы (@daily).
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ScheduleConfig — конфигурация триггера schedule.
//
//	{"mode": "cron", "cron": "0 9 * * 1-5", "timezone": "Europe/Moscow"}
//	{"mode": "interval", "interval": 15, "unit": "minutes"}
type ScheduleConfig struct {
	Mode     string `json:"mode"`
	Cron     string `json:"cron"`
	Interval int    `json:"interval"`
	Unit     string `json:"unit"`
	Timezone string `json:"timezone"`
	Enabled  *bool  `json:"enabled"`
	Payload  any    `json:"payload"`
}

// Location возвращает часовой пояс расписания.
func (c *ScheduleConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// IntervalDuration возвращает интервал как time.Duration.
func (c *ScheduleConfig) IntervalDuration() (time.Duration, error) {
	if c.Interval <= 0 {
		return 0, fmt.Errorf("%w: interval must be positive", ErrMissingField)
	}
	unit := time.Minute
	switch c.Unit {
	case "seconds":
		unit = time.Second
	case "", "minutes":
	case "hours":
		unit = time.Hour
	case "days":
		unit = 24 * time.Hour
	default:
		return 0, fmt.Errorf("%w: unit %q", ErrUnsupportedMode, c.Unit)
	}
	return time.Duration(c.Interval) * unit, nil
}

// Next вычисляет следующее срабатывание после from (в UTC).
func (c *ScheduleConfig) Next(from time.Time) (time.Time, error) {
	loc, err := c.Location()
	if err != nil {
		return time.Time{}, err
	}
	switch c.Mode {
	case "cron":
		sched, err := cronParser.Parse(c.Cron)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse cron expression %q: %w", c.Cron, err)
		}
		return sched.Next(from.In(loc)).UTC(), nil
	case "interval":
		d, err := c.IntervalDuration()
		if err != nil {
			return time.Time{}, err
		}
		return from.In(loc).Add(d).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: schedule mode %q", ErrUnsupportedMode, c.Mode)
}

// ScheduleTriggerFor строит ScheduleTrigger для узла schedule.
// Используется планировщиком при синхронизации активных workflow.
func ScheduleTriggerFor(workflowID string, node *domain.Node, now time.Time) (*domain.ScheduleTrigger, error) {
	cfg, err := parseSchedule(node)
	if err != nil {
		return nil, err
	}
	next, err := cfg.Next(now)
	if err != nil {
		return nil, domain.ConfigError("", err)
	}

	t := &domain.ScheduleTrigger{
		WorkflowID: workflowID,
		NodeID:     node.ID,
		Timezone:   cfg.Timezone,
		Enabled:    cfg.Enabled == nil || *cfg.Enabled,
		NextDueAt:  &next,
		UpdatedAt:  now,
	}
	if t.Timezone == "" {
		t.Timezone = "UTC"
	}
	if cfg.Mode == "cron" {
		t.CronExpr = cfg.Cron
	} else {
		d, _ := cfg.IntervalDuration()
		t.IntervalSec = int(d / time.Second)
	}
	return t, nil
}

// NextDue вычисляет следующее время срабатывания сохранённого триггера.
func NextDue(t *domain.ScheduleTrigger, from time.Time) (time.Time, error) {
	cfg := ScheduleConfig{Timezone: t.Timezone}
	switch {
	case t.IsCron():
		cfg.Mode, cfg.Cron = "cron", t.CronExpr
	case t.IsInterval():
		cfg.Mode, cfg.Interval, cfg.Unit = "interval", t.IntervalSec, "seconds"
	default:
		return time.Time{}, fmt.Errorf("schedule %s has neither cron nor interval", t.Key())
	}
	return cfg.Next(from)
}

func parseSchedule(node *domain.Node) (*ScheduleConfig, error) {
	var cfg ScheduleConfig
	if err := decodeConfig(node, scheduleMeta, &cfg); err != nil {
		return nil, err
	}
	if cfg.Mode == "" {
		if cfg.Cron != "" {
			cfg.Mode = "cron"
		} else {
			cfg.Mode = "interval"
		}
	}
	return &cfg, nil
}

var scheduleMeta = domain.ExecutorMetadata{
	Type:           TypeSchedule,
	Category:       domain.CategoryTrigger,
	AllowedOutputs: []string{domain.AnyCapability},
	MaxInputs:      0,
	MaxOutputs:     domain.Unlimited,
	DefaultData:    map[string]any{"timezone": "UTC"},
	Schema: `{
		"type": "object",
		"properties": {
			"mode": {"enum": ["cron", "interval"]},
			"cron": {"type": "string"},
			"interval": {"type": "number", "exclusiveMinimum": 0},
			"unit": {"enum": ["seconds", "minutes", "hours", "days"]},
			"timezone": {"type": "string"},
			"enabled": {"type": "boolean"}
		},
		"if": {"properties": {"mode": {"const": "cron"}}, "required": ["mode"]},
		"then": {"required": ["cron"]}
	}`,
}

// Schedule — триггер schedule.
//
// При срабатывании отдаёт payload события (или payload из data,
// или {"firedAt": ...}) и nextRun в метаданных.
type Schedule struct {
	base
	now func() time.Time
}

// NewScheduleTrigger создаёт триггер schedule.
func NewScheduleTrigger() *Schedule {
	return &Schedule{base: base{meta: scheduleMeta}, now: time.Now}
}

// Execute реализует Executor.
func (e *Schedule) Execute(_ context.Context, nctx *NodeContext) *domain.NodeResult {
	cfg, err := parseSchedule(nctx.Node)
	if err != nil {
		return domain.Failed(err, nil)
	}
	now := e.now().UTC()
	next, err := cfg.Next(now)
	if err != nil {
		return configFailure("schedule: %w", err)
	}

	data := nctx.Input
	if data == nil {
		data = cfg.Payload
	}
	if data == nil {
		data = map[string]any{"firedAt": now.Format(time.RFC3339)}
	}

	return domain.Succeeded(data, map[string]any{
		"trigger":  TypeSchedule,
		"mode":     cfg.Mode,
		"timezone": cfg.Timezone,
		"nextRun":  next.Format(time.RFC3339),
	})
}
