// Nodeflow API — HTTP-поверхность движка.
//
// API принимает доставки webhook, отправки форм и ручные запуски,
// публикует TriggerEvent в RabbitMQ и отдаёт состояние execution.
// Сам API workflow не выполняет.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shaiso/Nodeflow/internal/api"
	"github.com/shaiso/Nodeflow/internal/config"
	"github.com/shaiso/Nodeflow/internal/engine"
	"github.com/shaiso/Nodeflow/internal/executors"
	"github.com/shaiso/Nodeflow/internal/mq"
	"github.com/shaiso/Nodeflow/internal/repo"
	"github.com/shaiso/Nodeflow/internal/services"
	"github.com/shaiso/Nodeflow/internal/telemetry"
)

// version задаётся через ldflags при сборке.
var version = "dev"

const hookSyncInterval = 30 * time.Second

func main() {
	cfg := config.Load()

	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting nodeflow-api", "version", version)

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tp, err := telemetry.SetupTracing(ctx, telemetry.TracingConfig{
		Enabled:        cfg.OTEL.Enabled,
		ServiceName:    "nodeflow-api",
		ServiceVersion: version,
		Endpoint:       cfg.OTEL.Endpoint,
		SampleRate:     cfg.OTEL.SampleRate,
	}, logger)
	if err != nil {
		logger.Error("failed to setup tracing", "error", err)
		os.Exit(1)
	}
	defer tp.Shutdown(context.Background())

	// Подключаемся к базе данных
	pool, err := repo.NewPool(ctx, cfg.DBURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := repo.Migrate(ctx, pool); err != nil {
		logger.Error("failed to apply schema", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	store := repo.NewStore(pool)

	// RabbitMQ
	mqConn, err := mq.Dial(mq.ConnectionConfig{URL: cfg.AMQPURL, Logger: logger})
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer mqConn.Close()
	if err := mq.SetupTopology(ctx, mqConn); err != nil {
		logger.Error("failed to setup topology", "error", err)
		os.Exit(1)
	}
	logger.Info("RabbitMQ connected", "topology", mq.TopologyInfo())

	hooks := api.NewWebhookRouter(cfg.PublicBaseURL, logger)
	handler := api.NewHandler(api.Config{
		Workflows:  store.Workflows,
		Executions: store.Executions,
		Dispatcher: mq.NewPublisher(mqConn, logger),
		Validator:  engine.NewValidator(executors.DefaultRegistry(executors.Deps{Logger: logger})),
		Hooks:      hooks,
		Secrets:    services.EnvSecrets{Prefix: cfg.SecretsPrefix},
		Logger:     logger,
	})

	go syncHooks(ctx, store.Workflows, hooks, logger)

	addr := ":" + cfg.APIPort

	// Создаём HTTP сервер с возможностью graceful shutdown
	server := &http.Server{
		Addr:              addr,
		Handler:           handler.Server(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Запускаем сервер в горутине
	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Graceful shutdown с таймаутом 10 секунд
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("stopped")
}

// syncHooks держит таблицу webhook-маршрутов в соответствии
// с активными workflow.
func syncHooks(ctx context.Context, workflows *repo.WorkflowRepo, hooks *api.WebhookRouter, logger *slog.Logger) {
	sync := func() {
		defs, err := workflows.ListActive(ctx)
		if err != nil {
			logger.Error("failed to list active workflows", "error", err)
			return
		}
		if err := hooks.Sync(defs); err != nil {
			logger.Warn("webhook sync finished with conflicts", "error", err)
		}
		logger.Debug("webhooks synced", "routes", len(hooks.Routes()))
	}

	sync()
	ticker := time.NewTicker(hookSyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sync()
		}
	}
}
