package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/shaiso/Nodeflow/internal/domain"
	"github.com/shaiso/Nodeflow/internal/engine"
	"github.com/shaiso/Nodeflow/internal/executors"
	"github.com/shaiso/Nodeflow/internal/services"
	"github.com/shaiso/Nodeflow/internal/telemetry"
)

// DefaultMaxConcurrency — сколько узлов одного run выполняется одновременно,
// если ни Settings, ни Config не задают лимит.
const DefaultMaxConcurrency = 8

// Engine выполняет WorkflowDefinition для одного TriggerEvent.
//
// Engine не хранит состояние между вызовами Execute и безопасен для
// конкурентного использования: worker запускает несколько run на одном Engine.
type Engine struct {
	registry       *executors.Registry
	services       *services.Bundle
	sink           ResultSink
	validator      *engine.Validator
	env            map[string]string
	maxConcurrency int
	logger         *slog.Logger
	tracer         trace.Tracer
}

// Config — конфигурация Engine.
type Config struct {
	// Registry — реестр executor'ов (обязателен).
	Registry *executors.Registry

	// Services — общие сервисы узлов (default: in-memory bundle).
	Services *services.Bundle

	// Sink — получатель результатов (default: NopSink).
	Sink ResultSink

	// Validator — валидатор графа (default: engine.NewValidator(Registry)).
	Validator *engine.Validator

	// Env — переменные, доступные шаблонам как {{env.NAME}}.
	Env map[string]string

	// MaxConcurrency — лимит параллельных узлов (default: 8).
	// Settings.MaxConcurrency workflow имеет приоритет.
	MaxConcurrency int

	// Logger
	Logger *slog.Logger
}

// New создаёт Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Registry == nil {
		return nil, ErrNoRegistry
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	bundle := cfg.Services
	if bundle == nil {
		bundle = services.NewMemoryBundle()
	}

	sink := cfg.Sink
	if sink == nil {
		sink = NopSink{}
	}

	validator := cfg.Validator
	if validator == nil {
		validator = engine.NewValidator(cfg.Registry)
	}

	maxConcurrency := cfg.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}

	return &Engine{
		registry:       cfg.Registry,
		services:       bundle,
		sink:           sink,
		validator:      validator,
		env:            cfg.Env,
		maxConcurrency: maxConcurrency,
		logger:         logger,
		tracer:         telemetry.Tracer(),
	}, nil
}

// Execute выполняет def для события event и возвращает итог run.
//
// Execution возвращается всегда, кроме def == nil: даже невалидный граф
// даёт run в статусе FAILED с причиной у каждого узла. Ошибка повторяет
// Execution.Error и классифицируется через errors.Is
// (domain.ErrValidation, ErrRunAborted, domain.ErrCancelled).
// nil event означает ручной запуск без payload.
func (e *Engine) Execute(ctx context.Context, def *domain.WorkflowDefinition, event *domain.TriggerEvent) (*domain.Execution, error) {
	if def == nil {
		return nil, ErrNilDefinition
	}
	if event == nil {
		event = domain.NewTriggerEvent(def.ID, "", domain.SourceManual, nil)
	}

	exec := domain.NewExecution(def.ID)
	exec.ID = event.ID
	exec.Environment = def.Settings.Environment
	exec.TriggerNodeID = event.NodeID
	for _, n := range def.Nodes {
		exec.Nodes[n.ID] = domain.NewNodeState(n)
	}

	logger := telemetry.WithExecution(e.logger, exec.ID.String(), def.ID)

	ctx, span := e.tracer.Start(ctx, "workflow.execute", trace.WithAttributes(
		attribute.String("workflow.id", def.ID),
		attribute.String("execution.id", exec.ID.String()),
		attribute.String("trigger.source", event.Source),
	))
	defer span.End()

	exec.MarkRunning()
	telemetry.ExecutionsActive.Inc()
	defer telemetry.ExecutionsActive.Dec()

	logger.Info("execution started", "trigger_node", event.NodeID, "source", event.Source)

	if res := e.validator.Validate(def); !res.IsValid {
		return e.reject(ctx, span, logger, exec, res.Err())
	}
	dag, err := engine.BuildDAG(def)
	if err != nil {
		return e.reject(ctx, span, logger, exec, fmt.Errorf("%w: %w", domain.ErrValidation, err))
	}

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if timeout := def.Settings.Timeout(); timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	rs := NewRunState(exec, dag)
	d := &dispatcher{
		engine: e,
		def:    def,
		event:  event,
		state:  rs,
		logger: logger,
		cancel: cancel,
		limit:  e.maxConcurrency,
		done:   make(chan completion),
	}
	if def.Settings.MaxConcurrency > 0 {
		d.limit = def.Settings.MaxConcurrency
	}
	d.run(runCtx)

	runErr := rs.outcome()
	if runErr != nil {
		exec.MarkFailed(runErr.Error())
		span.SetStatus(codes.Error, runErr.Error())
	} else {
		exec.MarkCompleted()
	}
	e.complete(ctx, logger, exec)
	return exec, runErr
}

// reject завершает run, не прошедший валидацию: ни один узел не запускается.
func (e *Engine) reject(ctx context.Context, span trace.Span, logger *slog.Logger, exec *domain.Execution, err error) (*domain.Execution, error) {
	logger.Warn("workflow validation failed", "error", err)
	span.SetStatus(codes.Error, err.Error())

	for _, st := range exec.SortedNodes() {
		st.MarkSkipped("validation failed")
		e.recordNode(ctx, logger, exec, st)
	}
	exec.MarkFailed(err.Error())
	e.complete(ctx, logger, exec)
	return exec, err
}

// recordNode передаёт финальное состояние узла в sink и метрики.
// Ошибка sink не меняет итог run.
func (e *Engine) recordNode(ctx context.Context, logger *slog.Logger, exec *domain.Execution, st *domain.NodeState) {
	telemetry.NodeExecutionsTotal.WithLabelValues(st.Type, string(st.Status)).Inc()
	if err := e.sink.RecordNodeResult(context.WithoutCancel(ctx), exec.ID, st); err != nil {
		logger.Error("failed to record node result", "node_id", st.NodeID, "error", err)
	}
}

// complete фиксирует итог run в sink и метриках.
func (e *Engine) complete(ctx context.Context, logger *slog.Logger, exec *domain.Execution) {
	status := string(exec.Status)
	telemetry.ExecutionsTotal.WithLabelValues(status).Inc()
	telemetry.ExecutionDuration.WithLabelValues(status).Observe(exec.Duration().Seconds())

	if err := e.sink.RecordRunCompletion(context.WithoutCancel(ctx), exec); err != nil {
		logger.Error("failed to record execution", "error", err)
	}

	summary := exec.Summary()
	logger.Info("execution finished",
		"status", exec.Status,
		"duration", exec.Duration(),
		"succeeded", summary[domain.NodeStatusSucceeded],
		"failed", summary[domain.NodeStatusFailed],
		"skipped", summary[domain.NodeStatusSkipped],
		"cancelled", summary[domain.NodeStatusCancelled],
	)
}

// completion — результат узла, возвращаемый горутиной диспетчеру.
type completion struct {
	node     *engine.Node
	result   *domain.NodeResult
	attempts int
}

// job — узел, готовый к запуску.
type job struct {
	node    *engine.Node
	exec    executors.Executor
	policy  executors.Policy
	nctx    *executors.NodeContext
	timeout time.Duration
}

// dispatcher — цикл одного run.
//
// Только dispatcher меняет RunState: решает, запускать ли узел,
// стартует горутины в пределах limit и разбирает их результаты.
type dispatcher struct {
	engine *Engine
	def    *domain.WorkflowDefinition
	event  *domain.TriggerEvent
	state  *RunState
	logger *slog.Logger
	cancel context.CancelFunc
	limit  int
	done   chan completion
}

func (d *dispatcher) run(ctx context.Context) {
	queue := append([]*engine.Node(nil), d.state.DAG.RootNodes...)
	var pending []job
	inflight := 0

	for {
		for len(queue) > 0 {
			n := queue[0]
			queue = queue[1:]
			j, reason := d.prepare(ctx, n)
			if reason != "" {
				queue = append(queue, d.settle(ctx, n, d.state.skip(n.ID, reason))...)
				continue
			}
			pending = append(pending, j)
		}

		for len(pending) > 0 && inflight < d.limit {
			j := pending[0]
			pending = pending[1:]
			if reason := d.stopReason(ctx); reason != "" {
				queue = append(queue, d.settle(ctx, j.node, d.state.skip(j.node.ID, reason))...)
				continue
			}
			d.state.markRunning(j.node.ID, j.policy)
			inflight++
			go func() {
				res, attempts := d.engine.runNode(ctx, j)
				d.done <- completion{node: j.node, result: res, attempts: attempts}
			}()
		}

		if len(queue) > 0 {
			continue
		}
		if inflight == 0 {
			return
		}

		c := <-d.done
		inflight--
		st := d.state.finish(c.node.ID, c.result, c.attempts)
		if c.result.ErrorKind == domain.KindConfiguration {
			d.logger.Error("node configuration error, aborting run", "node_id", c.node.ID, "error", c.result.Error)
			d.cancel()
		}
		queue = append(queue, d.settle(ctx, c.node, st)...)
	}
}

// settle записывает финальное состояние узла и возвращает освободившихся зависимых.
func (d *dispatcher) settle(ctx context.Context, n *engine.Node, st *domain.NodeState) []*engine.Node {
	switch st.Status {
	case domain.NodeStatusSkipped, domain.NodeStatusCancelled:
		d.logger.Debug("node not executed", "node_id", n.ID, "status", st.Status, "reason", st.Reason)
	case domain.NodeStatusFailed:
		d.logger.Warn("node failed", "node_id", n.ID, "attempts", st.Attempts, "error", st.Result.Error)
	default:
		d.logger.Debug("node succeeded", "node_id", n.ID, "attempts", st.Attempts)
	}
	d.engine.recordNode(ctx, d.logger, d.state.Exec, st)
	return d.state.settle(n.ID)
}

// stopReason возвращает причину пропуска ещё не запущенных узлов.
func (d *dispatcher) stopReason(ctx context.Context) string {
	if reason := d.state.abortReason(); reason != "" {
		return reason
	}
	if err := ctx.Err(); err != nil {
		d.state.markCancelled()
		if errors.Is(err, context.DeadlineExceeded) {
			return "execution timed out"
		}
		return "execution cancelled"
	}
	return ""
}

// prepare решает судьбу узла, у которого все предшественники завершены.
// Пустая причина означает, что узел нужно запустить.
func (d *dispatcher) prepare(ctx context.Context, n *engine.Node) (job, string) {
	if reason := d.stopReason(ctx); reason != "" {
		return job{}, reason
	}

	ex, err := d.engine.registry.Get(n.Def.Type)
	if err != nil {
		return job{}, err.Error()
	}
	meta := ex.Metadata()

	nctx := &executors.NodeContext{
		Execution: executors.ExecutionInfo{
			WorkflowID:  d.def.ID,
			ExecutionID: d.state.Exec.ID.String(),
			Environment: d.state.Exec.Environment,
			StartedAt:   *d.state.Exec.StartedAt,
		},
		Node:     n.Def,
		Services: d.engine.services,
		Env:      d.engine.env,
		Logger:   telemetry.WithNode(d.logger, n.ID, n.Def.Type),
	}

	if meta.IsTrigger() && n.InDegree == 0 {
		if d.event.NodeID != "" && d.event.NodeID != n.ID {
			return job{}, fmt.Sprintf("trigger %s did not fire this execution", n.ID)
		}
		nctx.Input = d.event.Payload
	} else {
		allowMissing := false
		if m, ok := ex.(interface{ AllowsMissingInputs(*domain.Node) bool }); ok {
			allowMissing = m.AllowsMissingInputs(n.Def)
		}
		inputs, reason := d.state.inputs(n, allowMissing)
		if reason != "" {
			return job{}, reason
		}
		if meta.MultiInput {
			nctx.Inputs = inputs
		}
		if len(inputs) > 0 {
			nctx.Input = inputs[0]
		}
	}

	return job{
		node:    n,
		exec:    ex,
		policy:  executors.PolicyFor(n.Def, meta),
		nctx:    nctx,
		timeout: d.def.Settings.NodeTimeout(),
	}, ""
}

// nodeSpanAttrs — атрибуты span попытки узла.
func nodeSpanAttrs(j job, attempt int) trace.SpanStartOption {
	return trace.WithAttributes(
		attribute.String("node.id", j.node.ID),
		attribute.String("node.type", j.node.Def.Type),
		attribute.Int("node.attempt", attempt),
	)
}

// elapsed — секунды с момента start для гистограмм.
func elapsed(start time.Time) float64 {
	return time.Since(start).Seconds()
}
