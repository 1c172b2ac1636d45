package executors

import (
	"context"
	"errors"
	"time"

	"github.com/shaiso/Nodeflow/internal/domain"
	"github.com/shaiso/Nodeflow/internal/sandbox"
)

// ScriptConfig — общие поля пользовательского кода.
type ScriptConfig struct {
	// Code — тело функции на Go, возвращающей (interface{}, error).
	Code string `json:"code"`

	// Libraries — разрешённые библиотеки ("strings", "time", "hash", ...).
	Libraries []string `json:"libraries"`

	// Timeout — таймаут в миллисекундах (0 — по умолчанию sandbox).
	Timeout int `json:"timeout"`
}

func (c ScriptConfig) script(nctx *NodeContext, params ...string) sandbox.Script {
	return sandbox.Script{
		Code:      c.Code,
		Params:    params,
		Libraries: c.Libraries,
		Timeout:   time.Duration(c.Timeout) * time.Millisecond,
		Logger:    nctx.log().With("node_id", nctx.nodeID()),
	}
}

// runBatch выполняет код для каждого элемента items с параметрами
// (item, index, array) в одном интерпретаторе и одном таймауте.
func runBatch(ctx context.Context, nctx *NodeContext, runner *sandbox.Runner, cfg ScriptConfig, items []any) ([]any, *sandbox.Result, error) {
	if runner == nil {
		return nil, nil, domain.ConfigError("", ErrNoSandbox)
	}
	calls := make([][]any, len(items))
	for i, item := range items {
		calls[i] = []any{item, i, items}
	}
	res, err := runner.Run(ctx, cfg.script(nctx, "item", "index", "array"), calls...)
	if err != nil {
		return nil, res, err
	}
	out := make([]any, len(res.Calls))
	for i, call := range res.Calls {
		if call.Err != nil {
			return nil, res, call.Err
		}
		out[i] = call.Value
	}
	return out, res, nil
}

// sandboxFailure классифицирует ошибку sandbox:
// компиляция и неизвестная библиотека — configuration, таймаут и
// ошибка кода — execution, отмена — cancelled.
func sandboxFailure(err error, details map[string]any) *domain.NodeResult {
	if details == nil {
		details = map[string]any{}
	}
	var thrown *sandbox.ThrownError
	switch {
	case errors.Is(err, sandbox.ErrCompile), errors.Is(err, sandbox.ErrUnknownLibrary), errors.Is(err, ErrNoSandbox):
		return domain.Failed(domain.ConfigError("", err), details)
	case errors.Is(err, sandbox.ErrTimeout):
		details["timedOut"] = true
		res := domain.Failed(domain.ExecError("", err), details)
		res.Metadata["timedOut"] = true
		return res
	case errors.Is(err, sandbox.ErrCancelled):
		return domain.Failed(domain.CancelledError(err), details)
	case errors.As(err, &thrown):
		details["thrown"] = true
		return domain.Failed(domain.ExecError("", err), details)
	}
	return domain.Failed(domain.ExecError("", err), details)
}
