package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeTriggers   Exchange = "nodeflow.triggers"
	ExchangeExecutions Exchange = "nodeflow.executions"
	ExchangeDLQ        Exchange = "nodeflow.dlq"
)

// Queues — имена очередей.
const (
	QueueTriggerEvents       Queue = "triggers.events"
	QueueExecutionsCompleted Queue = "executions.completed"
	QueueDLQTriggers         Queue = "dlq.triggers"
)

// Routing keys.
const (
	RoutingKeyTrigger     RoutingKey = "trigger"
	RoutingKeyCompleted   RoutingKey = "execution.completed"
	RoutingKeyDLQTriggers RoutingKey = "triggers"
)

// binding — очередь, привязанная к обменнику.
type binding struct {
	queue    Queue
	key      RoutingKey
	exchange Exchange
	args     amqp.Table
}

var (
	exchanges = []struct {
		name Exchange
		kind string
	}{
		{ExchangeTriggers, amqp.ExchangeDirect},
		{ExchangeExecutions, amqp.ExchangeTopic},
		{ExchangeDLQ, amqp.ExchangeDirect},
	}

	bindings = []binding{
		// События, которые worker не смог обработать, уходят в DLQ.
		{QueueTriggerEvents, RoutingKeyTrigger, ExchangeTriggers, amqp.Table{
			"x-dead-letter-exchange":    string(ExchangeDLQ),
			"x-dead-letter-routing-key": string(RoutingKeyDLQTriggers),
		}},
		{QueueExecutionsCompleted, RoutingKeyCompleted, ExchangeExecutions, nil},
		{QueueDLQTriggers, RoutingKeyDLQTriggers, ExchangeDLQ, nil},
	}
)

// SetupTopology объявляет обменники, очереди и привязки. Идемпотентна.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		for _, ex := range exchanges {
			if err := ch.ExchangeDeclare(string(ex.name), ex.kind, true, false, false, false, nil); err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex.name, err)
			}
		}
		for _, b := range bindings {
			if _, err := ch.QueueDeclare(string(b.queue), true, false, false, false, b.args); err != nil {
				return fmt.Errorf("declare queue %s: %w", b.queue, err)
			}
			if err := ch.QueueBind(string(b.queue), string(b.key), string(b.exchange), false, nil); err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
			}
		}
		return nil
	})
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Nodeflow RabbitMQ topology:

    nodeflow.triggers (direct)
    └── triggers.events [routing: trigger]
            Producers: api (webhooks, forms, manual runs), scheduler
            Consumer:  worker
            DLQ:       dlq.triggers

    nodeflow.executions (topic)
    └── executions.completed [routing: execution.completed]
            Producer:  worker

    nodeflow.dlq (direct)
    └── dlq.triggers [routing: triggers]
            Manual processing
`
}
