package mq

import "errors"

// Ошибки транспорта.
var (
	// ErrNoChannel — канал AMQP недоступен (нет соединения).
	ErrNoChannel = errors.New("no amqp channel available")

	// ErrClosed — соединение закрыто вызовом Close.
	ErrClosed = errors.New("amqp connection closed")

	// ErrUnexpectedMessage — в очередь пришло сообщение не того типа.
	ErrUnexpectedMessage = errors.New("unexpected message type")
)
