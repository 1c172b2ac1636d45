package executors

import (
	"context"
	"errors"
	"fmt"

	"github.com/shaiso/Nodeflow/internal/domain"
)

// Ошибки executor'ов.
var (
	// ErrExecutorNotFound — тип узла не найден в реестре.
	ErrExecutorNotFound = errors.New("executor not found")

	// ErrUnsupportedMode — неизвестный режим/оператор/провайдер в конфигурации.
	ErrUnsupportedMode = errors.New("unsupported mode")

	// ErrMissingField — обязательное поле конфигурации не задано.
	ErrMissingField = errors.New("missing required field")

	// ErrNoSandbox — реестр создан без sandbox, а узел требует код.
	ErrNoSandbox = errors.New("sandbox is not configured")
)

// HTTPError — ответ с неуспешным статусом.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

// Error реализует интерфейс error.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
}

// configFailure — результат для ошибки конфигурации (не повторяется).
func configFailure(format string, args ...any) *domain.NodeResult {
	return domain.Failed(domain.ConfigError("", fmt.Errorf(format, args...)), nil)
}

// execFailure — результат для ошибки выполнения. Если контекст узла
// завершён, ошибка классифицируется как cancelled.
func execFailure(ctx context.Context, err error, details map[string]any) *domain.NodeResult {
	if ctx.Err() != nil {
		return domain.Failed(domain.CancelledError(ctx.Err()), details)
	}
	var nerr *domain.NodeError
	if errors.As(err, &nerr) {
		return domain.Failed(err, details)
	}
	return domain.Failed(domain.ExecError("", err), details)
}
