// Package mq — транспорт событий движка поверх RabbitMQ.
//
//   - connection.go — соединение с переподключением
//   - topology.go   — обменники, очереди, привязки
//   - publisher.go  — публикация TriggerEvent и execution.completed
//   - consumer.go   — потребление с ack/nack и DLQ
//
// Сообщение — конверт Message{ID, Type, Payload, Timestamp} в JSON.
// Контекст трассировки передаётся в AMQP-заголовках.
package mq
