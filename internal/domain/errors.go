package domain

import "errors"

// Классы ошибок выполнения.
var (
	// ErrValidation — граф или схема невалидны, run не стартует.
	ErrValidation = errors.New("validation error")

	// ErrConfiguration — data узла не проходит проверку во время выполнения
	// (например, битый JSON-шаблон). Прерывает run до побочных эффектов.
	ErrConfiguration = errors.New("configuration error")

	// ErrExecution — executor упал или вернул success=false.
	ErrExecution = errors.New("execution error")

	// ErrCancelled — run или узел отменены извне.
	ErrCancelled = errors.New("cancelled")
)

// ErrorKind — сериализуемое имя класса ошибки.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindConfiguration ErrorKind = "configuration"
	KindExecution     ErrorKind = "execution"
	KindCancelled     ErrorKind = "cancelled"
)

// Sentinel возвращает sentinel-ошибку класса.
func (k ErrorKind) Sentinel() error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindConfiguration:
		return ErrConfiguration
	case KindCancelled:
		return ErrCancelled
	default:
		return ErrExecution
	}
}

// NodeError — ошибка узла с классом и причиной.
type NodeError struct {
	Kind    error  // ErrValidation, ErrConfiguration, ErrExecution или ErrCancelled
	NodeID  string // ID узла (может быть пустым)
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *NodeError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.NodeID != "" {
		return "node " + e.NodeID + ": " + msg
	}
	return msg
}

// Unwrap позволяет errors.Is находить и класс, и причину.
func (e *NodeError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// ConfigError создаёт ошибку конфигурации.
func ConfigError(message string, err error) *NodeError {
	return &NodeError{Kind: ErrConfiguration, Message: message, Err: err}
}

// ExecError создаёт ошибку выполнения.
func ExecError(message string, err error) *NodeError {
	return &NodeError{Kind: ErrExecution, Message: message, Err: err}
}

// CancelledError создаёт ошибку отмены.
func CancelledError(err error) *NodeError {
	return &NodeError{Kind: ErrCancelled, Message: "cancelled", Err: err}
}
