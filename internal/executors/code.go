package executors

import (
	"context"
	"errors"

	"github.com/shaiso/Nodeflow/internal/domain"
	"github.com/shaiso/Nodeflow/internal/sandbox"
)

// TypeCode — пользовательский код.
const TypeCode = "code"

// Обработка ошибок кода.
const (
	CodeThrow       = "throw"
	CodeReturnError = "returnError"
	CodeReturnNull  = "returnNull"
)

// CodeConfig — конфигурация code.
//
//	{"code": "return wf.Num(wf.Get(input, \"total\")) * 1.2, nil",
//	 "libraries": ["math"], "timeout": 2000, "errorHandling": "returnError"}
//
// Параметры функции: input, context, console (и tasks при async).
type CodeConfig struct {
	ScriptConfig
	ErrorHandling         string `json:"errorHandling"`
	PreserveConsoleOutput bool   `json:"preserveConsoleOutput"`
	Async                 bool   `json:"async"`
}

var codeMeta = domain.ExecutorMetadata{
	Type:           TypeCode,
	Category:       domain.CategoryTransform,
	AllowedInputs:  []string{domain.AnyCapability},
	AllowedOutputs: []string{domain.AnyCapability},
	MaxInputs:      1,
	MaxOutputs:     domain.Unlimited,
	IsAsync:        true,
	DefaultData:    map[string]any{"errorHandling": CodeThrow, "timeout": 5000},
	Schema: `{
		"type": "object",
		"required": ["code"],
		"properties": {
			"code": {"type": "string", "minLength": 1},
			"libraries": {"type": "array", "items": {"type": "string"}},
			"timeout": {"type": "number", "minimum": 1, "maximum": 300000},
			"errorHandling": {"enum": ["throw", "returnError", "returnNull", "fail", "continue", "retry"]},
			"preserveConsoleOutput": {"type": "boolean"},
			"async": {"type": "boolean"}
		}
	}`,
}

// Code — executor code. Код выполняется в sandbox с явным списком
// библиотек; таймаут всегда завершает узел ошибкой.
type Code struct {
	base
	sandbox *sandbox.Runner
}

// NewCode создаёт executor code.
func NewCode(runner *sandbox.Runner) *Code {
	return &Code{base: base{meta: codeMeta}, sandbox: runner}
}

// Execute реализует Executor.
func (e *Code) Execute(ctx context.Context, nctx *NodeContext) *domain.NodeResult {
	var cfg CodeConfig
	if err := decodeConfig(nctx.Node, e.meta, &cfg); err != nil {
		return domain.Failed(err, nil)
	}
	if e.sandbox == nil {
		return sandboxFailure(ErrNoSandbox, nil)
	}

	params := []string{"input", "context", sandbox.ParamConsole}
	if cfg.Async {
		params = append(params, sandbox.ParamTasks)
	}

	value, res, err := e.sandbox.Call(ctx, cfg.script(nctx, params...), nctx.Input, nctx.info())

	meta := map[string]any{}
	if res != nil {
		meta["duration"] = res.Duration.Milliseconds()
		meta["consoleEntries"] = len(res.Console)
		if cfg.PreserveConsoleOutput {
			meta["console"] = res.Console
		}
	}

	if err == nil {
		return domain.Succeeded(value, meta)
	}

	var thrown *sandbox.ThrownError
	if !errors.As(err, &thrown) {
		// Таймаут, компиляция и отмена не зависят от errorHandling
		return sandboxFailure(err, meta)
	}

	nctx.log().Warn("code node returned error",
		"node_id", nctx.nodeID(),
		"error", err,
		"error_handling", cfg.ErrorHandling,
	)
	switch cfg.ErrorHandling {
	case CodeReturnError:
		meta["error"] = err.Error()
		return domain.Succeeded(map[string]any{"error": err.Error(), "input": nctx.Input}, meta)
	case CodeReturnNull:
		meta["error"] = err.Error()
		return domain.Succeeded(nil, meta)
	}
	return sandboxFailure(err, meta)
}
