package worker

import "errors"

// Ошибки воркера.
var (
	// ErrNoEngine — воркер создан без Engine.
	ErrNoEngine = errors.New("worker: engine is required")

	// ErrNoWorkflows — воркер создан без источника workflow.
	ErrNoWorkflows = errors.New("worker: workflow source is required")

	// ErrNoConnection — Start вызван без подключения к RabbitMQ.
	ErrNoConnection = errors.New("worker: amqp connection is required")

	// ErrWorkerStopped — воркер остановлен.
	ErrWorkerStopped = errors.New("worker stopped")
)
