package scheduler

import "errors"

var (
	// ErrNoPublisher — scheduler создан без Publisher.
	ErrNoPublisher = errors.New("scheduler: publisher is required")

	// ErrNoStore — не задано хранилище триггеров или курсоров.
	ErrNoStore = errors.New("scheduler: store is required")
)
