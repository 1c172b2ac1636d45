package orchestrator

import "errors"

// Ошибки движка.
var (
	// ErrNilDefinition — Execute вызван без определения workflow.
	ErrNilDefinition = errors.New("workflow definition is nil")

	// ErrNoRegistry — движок создан без реестра executor'ов.
	ErrNoRegistry = errors.New("executor registry is not configured")

	// ErrRunAborted — run прерван ошибкой конфигурации узла.
	ErrRunAborted = errors.New("run aborted")

	// ErrNodeTimeout — узел не уложился в Settings.nodeTimeoutSec.
	ErrNodeTimeout = errors.New("node timed out")

	// ErrExecutorPanic — executor запаниковал.
	ErrExecutorPanic = errors.New("executor panicked")
)
