package domain

import "time"

// ScheduleTrigger — зарегистрированный schedule-триггер workflow.
//
// Scheduler синхронизирует такие записи из узлов типа "schedule"
// активных workflow и создаёт TriggerEvent, когда next_due_at наступил.
type ScheduleTrigger struct {
	// WorkflowID — workflow, которому принадлежит триггер.
	WorkflowID string `json:"workflow_id"`

	// NodeID — ID узла schedule в графе.
	NodeID string `json:"node_id"`

	// CronExpr — cron-выражение ("минуты часы дни месяцы дни_недели").
	// Если задан CronExpr, IntervalSec игнорируется.
	CronExpr string `json:"cron_expr,omitempty"`

	// IntervalSec — интервал в секундах между запусками.
	IntervalSec int `json:"interval_sec,omitempty"`

	// Timezone — часовой пояс для cron. По умолчанию "UTC".
	Timezone string `json:"timezone"`

	// Enabled — флаг активности.
	Enabled bool `json:"enabled"`

	// NextDueAt — время следующего срабатывания.
	NextDueAt *time.Time `json:"next_due_at,omitempty"`

	// LastFiredAt — время последнего срабатывания.
	LastFiredAt *time.Time `json:"last_fired_at,omitempty"`

	// UpdatedAt — время последнего обновления.
	UpdatedAt time.Time `json:"updated_at"`
}

// IsCron возвращает true, если триггер использует cron-выражение.
func (s *ScheduleTrigger) IsCron() bool {
	return s.CronExpr != ""
}

// IsInterval возвращает true, если триггер использует интервал.
func (s *ScheduleTrigger) IsInterval() bool {
	return s.CronExpr == "" && s.IntervalSec > 0
}

// IsDue проверяет, пора ли срабатывать.
func (s *ScheduleTrigger) IsDue(now time.Time) bool {
	if !s.Enabled || s.NextDueAt == nil {
		return false
	}
	return !now.Before(*s.NextDueAt)
}

// RecordFire записывает срабатывание и следующее время.
func (s *ScheduleTrigger) RecordFire(firedAt, nextDue time.Time) {
	s.LastFiredAt = &firedAt
	s.NextDueAt = &nextDue
	s.UpdatedAt = time.Now()
}

// Key — уникальный ключ триггера.
func (s *ScheduleTrigger) Key() string {
	return s.WorkflowID + "/" + s.NodeID
}
