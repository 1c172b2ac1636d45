package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/shaiso/Nodeflow/internal/domain"
	"github.com/shaiso/Nodeflow/internal/telemetry"
)

// runNode выполняет узел с повторами по его Policy.
//
// Повторяются только ошибки execution. Попытки строго последовательны,
// задержка перед повтором n равна Policy.Backoff(n). Отмена ctx во время
// ожидания даёт результат cancelled.
func (e *Engine) runNode(ctx context.Context, j job) (*domain.NodeResult, int) {
	maxAttempts := j.policy.Attempts()
	logger := j.nctx.Logger

	for attempt := 1; ; attempt++ {
		res := e.attempt(ctx, j, attempt)
		if res.Success || res.ErrorKind != domain.KindExecution || attempt >= maxAttempts {
			return res, attempt
		}

		delay := j.policy.Backoff(attempt)
		telemetry.NodeRetries.WithLabelValues(j.node.Def.Type).Inc()
		logger.Warn("node attempt failed, retrying",
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"delay", delay,
			"error", res.Error,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return domain.Failed(domain.CancelledError(ctx.Err()), map[string]any{
				"lastError": res.Error,
			}).WithMetadata(map[string]any{"attempt": attempt}), attempt
		case <-timer.C:
		}
	}
}

// attempt — одна попытка выполнения узла.
func (e *Engine) attempt(ctx context.Context, j job, n int) (res *domain.NodeResult) {
	ctx, span := e.tracer.Start(ctx, "node.execute", nodeSpanAttrs(j, n))
	defer span.End()

	var (
		attemptCtx context.Context
		cancel     context.CancelFunc
	)
	if j.timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, j.timeout)
	} else {
		attemptCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			j.nctx.Logger.Error("executor panicked", "panic", r)
			res = domain.Failed(domain.ExecError(fmt.Sprint(r), ErrExecutorPanic), nil)
		}
		if res == nil {
			res = domain.Failed(domain.ExecError("executor returned no result", nil), nil)
		}
		if res.ErrorKind == domain.KindCancelled && ctx.Err() == nil &&
			errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			res = domain.Failed(domain.ExecError("", ErrNodeTimeout), res.ErrorDetails)
		}
		if !res.Success {
			span.SetStatus(codes.Error, res.Error)
		}
		telemetry.NodeDuration.WithLabelValues(j.node.Def.Type).Observe(elapsed(start))
		res = res.WithMetadata(map[string]any{"attempt": n})
	}()

	return j.exec.Execute(attemptCtx, j.nctx)
}
