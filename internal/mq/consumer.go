package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"

	"github.com/shaiso/Nodeflow/internal/domain"
)

// Handler — функция обработки сообщения.
//
// nil — ack. Ошибка, обёрнутая Reject, отправляет сообщение в DLQ;
// любая другая возвращает его в очередь.
type Handler func(ctx context.Context, msg *Message) error

// rejected — ошибка, после которой повтор бессмыслен.
type rejected struct{ err error }

func (r *rejected) Error() string { return r.err.Error() }
func (r *rejected) Unwrap() error { return r.err }

// Reject помечает ошибку как окончательную: сообщение уйдёт в DLQ.
func Reject(err error) error {
	if err == nil {
		return nil
	}
	return &rejected{err: err}
}

// IsRejected проверяет, помечена ли ошибка через Reject.
func IsRejected(err error) bool {
	var r *rejected
	return errors.As(err, &r)
}

// Consumer потребляет сообщения из очереди RabbitMQ.
type Consumer struct {
	conn     *Connection
	logger   *slog.Logger
	queue    Queue
	handler  Handler
	prefetch int
}

// ConsumerConfig — конфигурация consumer.
type ConsumerConfig struct {
	// Queue — имя очереди.
	Queue Queue

	// Handler — обработчик сообщений.
	Handler Handler

	// Prefetch — сколько неподтверждённых сообщений держит consumer (default: 1).
	Prefetch int

	// Logger
	Logger *slog.Logger
}

// NewConsumer создаёт новый Consumer.
func NewConsumer(conn *Connection, cfg ConsumerConfig) *Consumer {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		conn:     conn,
		logger:   logger.With("queue", cfg.Queue),
		queue:    cfg.Queue,
		handler:  cfg.Handler,
		prefetch: prefetch,
	}
}

// Run потребляет сообщения до отмены ctx, переживая переподключения.
// Обработчик вызывается последовательно; параллелизм задаёт вызывающий.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		deliveries, err := c.setup()
		if err != nil {
			c.logger.Error("failed to start consuming", "error", err)
		} else {
			c.logger.Info("consumer started")
			err = c.process(ctx, deliveries)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("deliveries channel closed, waiting for reconnect", "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.conn.ReconnectNotify():
		}
	}
}

func (c *Consumer) setup() (<-chan amqp.Delivery, error) {
	ch := c.conn.Channel()
	if ch == nil {
		return nil, ErrNoChannel
	}
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(string(c.queue), "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}
	return deliveries, nil
}

func (c *Consumer) process(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-deliveries:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			c.handle(ctx, raw)
		}
	}
}

// handle обрабатывает одно сообщение и подтверждает его.
func (c *Consumer) handle(ctx context.Context, raw amqp.Delivery) {
	var msg Message
	if err := json.Unmarshal(raw.Body, &msg); err != nil {
		c.logger.Error("failed to unmarshal message", "error", err, "body", string(raw.Body))
		_ = raw.Nack(false, false)
		return
	}

	ctx = otel.GetTextMapPropagator().Extract(ctx, headerCarrier(raw.Headers))
	c.logger.Debug("received message", "message_id", msg.ID, "type", msg.Type)

	err := c.handler(ctx, &msg)
	switch {
	case err == nil:
		_ = raw.Ack(false)
	case IsRejected(err):
		c.logger.Error("message rejected", "message_id", msg.ID, "type", msg.Type, "error", err)
		_ = raw.Nack(false, false)
	default:
		c.logger.Warn("handler failed, requeueing", "message_id", msg.ID, "type", msg.Type, "error", err)
		_ = raw.Nack(false, !raw.Redelivered)
	}
}

// Decode распаковывает payload сообщения типа want.
func Decode[T any](msg *Message, want MessageType) (T, error) {
	var out T
	if msg.Type != want {
		return out, fmt.Errorf("%w: %s", ErrUnexpectedMessage, msg.Type)
	}
	if err := json.Unmarshal(msg.Payload, &out); err != nil {
		return out, fmt.Errorf("unmarshal payload: %w", err)
	}
	return out, nil
}

// TriggerHandler адаптирует обработчик TriggerEvent к Handler.
// Сообщения, которые не удаётся разобрать, отклоняются в DLQ.
func TriggerHandler(fn func(ctx context.Context, ev *domain.TriggerEvent) error) Handler {
	return func(ctx context.Context, msg *Message) error {
		ev, err := Decode[domain.TriggerEvent](msg, MessageTypeTriggerEvent)
		if err != nil {
			return Reject(err)
		}
		return fn(ctx, &ev)
	}
}
