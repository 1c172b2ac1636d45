package executors

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// maxExpressionLength ограничивает размер выражения.
const maxExpressionLength = 4096

// exprEvaluator компилирует выражения один раз и кэширует программы.
// Переменные выражения не типизируются при компиляции: данные
// разных элементов могут иметь разные типы полей.
type exprEvaluator struct {
	mu       sync.RWMutex
	compiled map[string]*vm.Program
}

func newExprEvaluator() *exprEvaluator {
	return &exprEvaluator{compiled: make(map[string]*vm.Program)}
}

// compile возвращает скомпилированную программу. Ошибка компиляции —
// ошибка конфигурации узла.
func (e *exprEvaluator) compile(expression string) (*vm.Program, error) {
	if len(expression) > maxExpressionLength {
		return nil, fmt.Errorf("expression exceeds maximum length of %d characters", maxExpressionLength)
	}

	e.mu.RLock()
	prog, ok := e.compiled[expression]
	e.mu.RUnlock()
	if ok {
		return prog, nil
	}

	prog, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile expression %q: %w", expression, err)
	}

	e.mu.Lock()
	e.compiled[expression] = prog
	e.mu.Unlock()
	return prog, nil
}

// evaluate выполняет программу на окружении env.
func (e *exprEvaluator) evaluate(prog *vm.Program, env map[string]any) (any, error) {
	out, err := expr.Run(prog, env)
	if err != nil {
		return nil, fmt.Errorf("evaluate expression: %w", err)
	}
	return out, nil
}
