package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/traefik/yaegi/interp"

	"github.com/shaiso/Nodeflow/internal/telemetry"
)

// Значения по умолчанию.
const (
	DefaultTimeout    = 5 * time.Second
	DefaultMaxConsole = 1000
)

// Config — конфигурация Runner.
type Config struct {
	// Timeout — таймаут по умолчанию, если Script.Timeout не задан.
	Timeout time.Duration

	// MaxConsole — максимум записей консоли за один запуск.
	MaxConsole int

	// Logger — логгер хоста, куда дублируется консоль.
	Logger *slog.Logger
}

// Runner запускает пользовательский код. Каждый Run использует
// новый интерпретатор, состояние между запусками не разделяется.
type Runner struct {
	timeout    time.Duration
	maxConsole int
	logger     *slog.Logger
}

// New создаёт Runner.
func New(cfg Config) *Runner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxConsole <= 0 {
		cfg.MaxConsole = DefaultMaxConsole
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{
		timeout:    cfg.Timeout,
		maxConsole: cfg.MaxConsole,
		logger:     cfg.Logger,
	}
}

// Script — пользовательский код и его окружение.
type Script struct {
	// Code — тело функции, возвращающей (interface{}, error).
	// Однострочное выражение без return возвращается как значение.
	// Однострочные "return <логическое выражение>, <err>" переписываются
	// через переменную interface{}; логическое выражение, занимающее
	// несколько строк или стоящее после if на той же строке, нужно
	// присвоить переменной до return.
	Code string

	// Params — имена параметров. "console" и "tasks" заполняются хостом,
	// остальные берутся из аргументов вызова по порядку.
	Params []string

	// Libraries — разрешённые библиотеки (см. Libraries()).
	Libraries []string

	// Timeout — таймаут запуска; 0 — таймаут Runner.
	Timeout time.Duration

	// Logger — логгер для консоли этого запуска; nil — логгер Runner.
	Logger *slog.Logger
}

// Result — результат запуска.
type Result struct {
	// Calls — результаты вызовов в порядке аргументов.
	Calls []CallResult

	// Console — записи консоли в порядке вызовов.
	Console []ConsoleEntry

	// Duration — время выполнения.
	Duration time.Duration
}

// Run выполняет код один раз для каждого набора аргументов в calls.
// Все вызовы и асинхронные задачи укладываются в один таймаут.
//
// Ошибка уровня запуска: *CompileError, ErrTimeout, ErrCancelled,
// ErrUnknownLibrary. Ошибки кода возвращаются в Result.Calls[i].Err
// как *ThrownError. Result возвращается и при ошибке (с консолью).
func (r *Runner) Run(ctx context.Context, script Script, calls ...[]any) (*Result, error) {
	res, err := r.execute(ctx, script, calls)
	telemetry.SandboxRuns.WithLabelValues(outcome(res, err)).Inc()
	return res, err
}

func (r *Runner) execute(ctx context.Context, script Script, calls [][]any) (*Result, error) {
	start := time.Now()
	timeout := script.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}

	paths, err := resolveLibraries(script.Libraries)
	if err != nil {
		return nil, err
	}
	src, err := buildSource(script.Code, script.Params, paths)
	if err != nil {
		return nil, err
	}

	logger := r.logger
	if script.Logger != nil {
		logger = script.Logger
	}
	console := newConsole(r.maxConsole, logger)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	state := &run{
		ctx:     runCtx,
		calls:   calls,
		results: make([]CallResult, len(calls)),
		console: console,
		tasks:   &Group{},
	}
	stdout := &lineWriter{console: console, kind: "log"}
	stderr := &lineWriter{console: console, kind: "error"}

	i := interp.New(interp.Options{Stdout: stdout, Stderr: stderr})
	if err := i.Use(symbols(paths)); err != nil {
		return nil, fmt.Errorf("load libraries: %w", err)
	}
	if err := i.Use(state.exports()); err != nil {
		return nil, fmt.Errorf("load host package: %w", err)
	}

	result := &Result{}
	finish := func() {
		stdout.flush()
		stderr.flush()
		result.Console = console.Entries()
		result.Duration = time.Since(start)
	}

	if _, err := i.EvalWithContext(runCtx, src); err != nil {
		finish()
		if cerr := r.contextError(ctx, runCtx, timeout); cerr != nil {
			return result, cerr
		}
		return result, &CompileError{Err: err}
	}

	_, err = i.EvalWithContext(runCtx, "nfInvoke()")
	finish()
	if cerr := r.contextError(ctx, runCtx, timeout); cerr != nil {
		return result, cerr
	}
	if err != nil {
		return result, &ThrownError{Message: panicMessage(err), Panic: true}
	}
	if err := state.tasks.failure(); err != nil {
		return result, err
	}

	result.Calls = make([]CallResult, len(state.results))
	for n, res := range state.results {
		if res.Err == nil {
			res.Value = normalize(res.Value)
		}
		result.Calls[n] = res
	}
	return result, nil
}

// Call выполняет код один раз и возвращает значение или ошибку кода.
func (r *Runner) Call(ctx context.Context, script Script, args ...any) (any, *Result, error) {
	res, err := r.Run(ctx, script, args)
	if err != nil {
		return nil, res, err
	}
	if len(res.Calls) == 0 {
		return nil, res, nil
	}
	return res.Calls[0].Value, res, res.Calls[0].Err
}

// contextError различает таймаут и отмену вызывающим.
func (r *Runner) contextError(parent, runCtx context.Context, timeout time.Duration) error {
	if parent.Err() != nil {
		return fmt.Errorf("%w: %v", ErrCancelled, parent.Err())
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
	return nil
}

func panicMessage(err error) string {
	var p interp.Panic
	if errors.As(err, &p) {
		return fmt.Sprint(p.Value)
	}
	return err.Error()
}

// normalize приводит значение к виду json.Unmarshal, чтобы результат кода
// не отличался от данных других узлов. Несериализуемые значения остаются как есть.
func normalize(v any) any {
	switch v.(type) {
	case nil, string, bool, float64:
		return v
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

// outcome — метка метрики sandbox_runs_total.
func outcome(res *Result, err error) string {
	var compile *CompileError
	switch {
	case err == nil:
		if res != nil {
			for _, c := range res.Calls {
				if c.Err != nil {
					return "thrown"
				}
			}
		}
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.As(err, &compile):
		return "compile"
	}
	return "thrown"
}
