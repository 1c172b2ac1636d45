// Nodeflow Worker — выполняет workflow.
//
// Worker:
//   - Получает TriggerEvent из RabbitMQ
//   - Загружает определение и выполняет граф через orchestrator.Engine
//   - Сохраняет состояние узлов и итог run в PostgreSQL
//   - Публикует execution.completed
//
// Workers масштабируются горизонтально.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaiso/Nodeflow/internal/config"
	"github.com/shaiso/Nodeflow/internal/executors"
	"github.com/shaiso/Nodeflow/internal/mq"
	"github.com/shaiso/Nodeflow/internal/orchestrator"
	"github.com/shaiso/Nodeflow/internal/repo"
	"github.com/shaiso/Nodeflow/internal/sandbox"
	"github.com/shaiso/Nodeflow/internal/telemetry"
	"github.com/shaiso/Nodeflow/internal/worker"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	cfg := config.Load()

	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting nodeflow-worker", "version", version, "concurrency", cfg.WorkerConcurrency)

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tp, err := telemetry.SetupTracing(ctx, telemetry.TracingConfig{
		Enabled:        cfg.OTEL.Enabled,
		ServiceName:    "nodeflow-worker",
		ServiceVersion: version,
		Endpoint:       cfg.OTEL.Endpoint,
		SampleRate:     cfg.OTEL.SampleRate,
	}, logger)
	if err != nil {
		logger.Error("failed to setup tracing", "error", err)
		os.Exit(1)
	}
	defer tp.Shutdown(context.Background())

	// DB pool
	pool, err := repo.NewPool(ctx, cfg.DBURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	store := repo.NewStore(pool)

	bundle, closeServices, err := buildServices(ctx, cfg, pool, logger)
	if err != nil {
		logger.Error("failed to build services", "error", err)
		os.Exit(1)
	}
	defer closeServices()

	registry := executors.DefaultRegistry(executors.Deps{
		Sandbox: sandbox.New(sandbox.Config{Timeout: cfg.SandboxTimeout, Logger: logger}),
		Logger:  logger,
	})

	eng, err := orchestrator.New(orchestrator.Config{
		Registry:       registry,
		Services:       bundle,
		Sink:           store.Executions,
		Env:            config.Env(),
		MaxConcurrency: cfg.MaxNodeConcurrency,
		Logger:         logger,
	})
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	// RabbitMQ
	mqConn, err := mq.Dial(mq.ConnectionConfig{URL: cfg.AMQPURL, Logger: logger})
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer mqConn.Close()

	// Создаём топологию
	if err := mq.SetupTopology(ctx, mqConn); err != nil {
		logger.Error("failed to setup topology", "error", err)
		os.Exit(1)
	}
	logger.Info("RabbitMQ connected")

	// Создаём worker
	w, err := worker.New(worker.Config{
		Workflows:   store.Workflows,
		Engine:      eng,
		Notifier:    mq.NewPublisher(mqConn, logger),
		Conn:        mqConn,
		Concurrency: cfg.WorkerConcurrency,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("failed to create worker", "error", err)
		os.Exit(1)
	}

	// Запускаем worker
	if err := w.Start(ctx); err != nil {
		logger.Error("failed to start worker", "error", err)
		os.Exit(1)
	}

	// HTTP: /healthz + /metrics
	addr := ":" + cfg.WorkerPort
	server := &http.Server{Addr: addr, Handler: telemetry.ObservabilityMux()}
	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	// Останавливаем worker
	w.Stop()
	server.Shutdown(context.Background())
	logger.Info("nodeflow-worker stopped")
}
