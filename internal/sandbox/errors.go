package sandbox

import (
	"errors"
	"fmt"
)

// Ошибки sandbox.
var (
	// ErrTimeout — код не завершился за отведённое время.
	ErrTimeout = errors.New("execution timeout")

	// ErrCancelled — выполнение отменено вызывающим.
	ErrCancelled = errors.New("execution cancelled")

	// ErrCompile — код не компилируется (синтаксис, неизвестный пакет).
	ErrCompile = errors.New("code does not compile")

	// ErrUnknownLibrary — библиотека не входит в список разрешённых.
	ErrUnknownLibrary = errors.New("unknown library")
)

// ThrownError — ошибка, возвращённая или выброшенная (panic) пользовательским кодом.
type ThrownError struct {
	Message string
	Panic   bool
}

// Error реализует интерфейс error.
func (e *ThrownError) Error() string {
	if e.Panic {
		return fmt.Sprintf("code panicked: %s", e.Message)
	}
	return e.Message
}

// CompileError — ошибка компиляции с текстом интерпретатора.
type CompileError struct {
	Err error
}

// Error реализует интерфейс error.
func (e *CompileError) Error() string {
	return fmt.Sprintf("compile: %v", e.Err)
}

// Unwrap возвращает ErrCompile и исходную ошибку.
func (e *CompileError) Unwrap() []error {
	return []error{ErrCompile, e.Err}
}
