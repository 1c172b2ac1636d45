package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shaiso/Nodeflow/internal/domain"
)

// Ошибки валидации графа.
var (
	// ErrEmptyGraph — workflow не содержит узлов.
	ErrEmptyGraph = errors.New("workflow has no nodes")

	// ErrEmptyNodeID — узел не имеет ID.
	ErrEmptyNodeID = errors.New("node has empty ID")

	// ErrDuplicateNodeID — несколько узлов с одинаковым ID.
	ErrDuplicateNodeID = errors.New("duplicate node ID")

	// ErrUnknownNodeType — для типа не зарегистрирован executor.
	ErrUnknownNodeType = errors.New("unknown node type")

	// ErrUnknownNode — соединение ссылается на несуществующий узел.
	ErrUnknownNode = errors.New("connection references unknown node")

	// ErrSelfConnection — соединение узла с самим собой.
	ErrSelfConnection = errors.New("node is connected to itself")

	// ErrDuplicateConnection — два одинаковых соединения.
	ErrDuplicateConnection = errors.New("duplicate connection")

	// ErrTooManyInputs — превышен maxInputs.
	ErrTooManyInputs = errors.New("too many incoming connections")

	// ErrTooManyOutputs — превышен maxOutputs.
	ErrTooManyOutputs = errors.New("too many outgoing connections")

	// ErrIncompatibleConnection — выход источника не подходит ко входу цели.
	ErrIncompatibleConnection = errors.New("incompatible connection")

	// ErrInvalidNodeData — data узла не проходит JSON Schema.
	ErrInvalidNodeData = errors.New("invalid node data")

	// ErrCyclicDependency — обнаружен цикл в графе.
	ErrCyclicDependency = errors.New("cyclic dependency detected")
)

// ValidationError — ошибка валидации с контекстом.
type ValidationError struct {
	NodeID  string // ID узла, где произошла ошибка
	Field   string // путь к полю: "nodes[2].type", "connections[0].target"
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	var b strings.Builder
	if e.Field != "" {
		b.WriteString(e.Field)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// Unwrap возвращает базовую ошибку и класс validation.
func (e *ValidationError) Unwrap() []error {
	return []error{e.Err, domain.ErrValidation}
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(nodeID, field, message string, err error) *ValidationError {
	return &ValidationError{
		NodeID:  nodeID,
		Field:   field,
		Message: message,
		Err:     err,
	}
}

// ValidationResult — результат валидации графа.
// Содержит все найденные ошибки, а не только первую.
type ValidationResult struct {
	IsValid bool               `json:"isValid"`
	Errors  []*ValidationError `json:"errors,omitempty"`
}

func (r *ValidationResult) add(nodeID, field, message string, err error) {
	r.Errors = append(r.Errors, NewValidationError(nodeID, field, message, err))
	r.IsValid = false
}

// Has проверяет, есть ли ошибка с базовой ошибкой target.
func (r *ValidationResult) Has(target error) bool {
	for _, e := range r.Errors {
		if errors.Is(e, target) {
			return true
		}
	}
	return false
}

// Err возвращает nil для валидного графа, иначе ошибку, объединяющую все.
func (r *ValidationResult) Err() error {
	if r.IsValid {
		return nil
	}
	errs := make([]error, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = e
	}
	return fmt.Errorf("%w: %w", domain.ErrValidation, errors.Join(errs...))
}
