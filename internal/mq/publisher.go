package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"

	"github.com/shaiso/Nodeflow/internal/domain"
	"github.com/shaiso/Nodeflow/internal/telemetry"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeTriggerEvent       MessageType = "trigger.event"
	MessageTypeExecutionCompleted MessageType = "execution.completed"
)

// Message — конверт сообщения.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload json.RawMessage `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// ExecutionCompletedPayload — уведомление о завершённом run.
type ExecutionCompletedPayload struct {
	ExecutionID uuid.UUID                 `json:"execution_id"`
	WorkflowID  string                    `json:"workflow_id"`
	Status      domain.RunStatus          `json:"status"`
	Error       string                    `json:"error,omitempty"`
	Nodes       map[domain.NodeStatus]int `json:"nodes"`
	FinishedAt  *time.Time                `json:"finished_at,omitempty"`
}

// CompletedPayload собирает уведомление из итогов run.
func CompletedPayload(exec *domain.Execution) ExecutionCompletedPayload {
	return ExecutionCompletedPayload{
		ExecutionID: exec.ID,
		WorkflowID:  exec.WorkflowID,
		Status:      exec.Status,
		Error:       exec.Error,
		Nodes:       exec.Summary(),
		FinishedAt:  exec.FinishedAt,
	}
}

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{conn: conn, logger: logger}
}

// NewMessage упаковывает payload в конверт.
func NewMessage(id string, msgType MessageType, payload any) (*Message, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	if id == "" {
		id = uuid.NewString()
	}
	return &Message{ID: id, Type: msgType, Payload: body, Timestamp: time.Now().UTC()}, nil
}

// Publish публикует сообщение в exchange с routing key.
// Контекст трассировки передаётся в заголовках (W3C traceparent).
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	headers := amqp.Table{}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier(headers))

	return p.conn.publish(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(ctx, string(exchange), string(routingKey), false, false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    msg.ID,
				Type:         string(msg.Type),
				Timestamp:    msg.Timestamp,
				Headers:      headers,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)
		return nil
	})
}

// PublishTrigger ставит событие-триггер в очередь worker'а.
// ID сообщения совпадает с ID события, что позволяет дедуплицировать повторы.
func (p *Publisher) PublishTrigger(ctx context.Context, ev *domain.TriggerEvent) error {
	msg, err := NewMessage(ev.ID.String(), MessageTypeTriggerEvent, ev)
	if err != nil {
		return err
	}
	if err := p.Publish(ctx, ExchangeTriggers, RoutingKeyTrigger, msg); err != nil {
		return err
	}
	telemetry.TriggerEvents.WithLabelValues(ev.Source).Inc()
	return nil
}

// PublishExecutionCompleted публикует итог run.
func (p *Publisher) PublishExecutionCompleted(ctx context.Context, exec *domain.Execution) error {
	msg, err := NewMessage("", MessageTypeExecutionCompleted, CompletedPayload(exec))
	if err != nil {
		return err
	}
	return p.Publish(ctx, ExchangeExecutions, RoutingKeyCompleted, msg)
}

// headerCarrier адаптирует amqp.Table к propagation.TextMapCarrier.
type headerCarrier amqp.Table

func (c headerCarrier) Get(key string) string {
	v, _ := c[key].(string)
	return v
}

func (c headerCarrier) Set(key, value string) {
	c[key] = value
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
