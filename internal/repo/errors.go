package repo

import "errors"

// Общие ошибки репозиториев.
var (
	// ErrNotFound — запись не найдена в БД.
	ErrNotFound = errors.New("not found")

	// ErrInvalidDefinition — сохранённое определение workflow не читается.
	ErrInvalidDefinition = errors.New("invalid workflow definition")
)
