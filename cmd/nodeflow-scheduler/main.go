// Nodeflow Scheduler — запускает schedule и database-change триггеры.
//
// Scheduler:
//   - Синхронизирует schedule-узлы активных workflow в schedule_triggers
//   - Публикует TriggerEvent для наступивших триггеров (cron, интервалы)
//   - Опрашивает журнал изменений для database-change
//
// Одновременно работает один лидер (pg advisory lock), остальные ждут.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Nodeflow/internal/config"
	"github.com/shaiso/Nodeflow/internal/mq"
	"github.com/shaiso/Nodeflow/internal/repo"
	"github.com/shaiso/Nodeflow/internal/scheduler"
	"github.com/shaiso/Nodeflow/internal/telemetry"
)

const (
	schedLockKey   int64 = 424242
	leaderRetry          = 5 * time.Second
	scheduleResync       = 30 * time.Second
)

func main() {
	cfg := config.Load()

	logger := telemetry.SetupLogger()
	logger.Info("starting nodeflow-scheduler")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
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
	logger.Info("database connected")

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
	publisher := mq.NewPublisher(mqConn, logger)

	sched, err := scheduler.New(scheduler.Config{
		Workflows: store.Workflows,
		Schedules: store.Schedules,
		Publisher: publisher,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("failed to create scheduler", "error", err)
		os.Exit(1)
	}
	poller, err := scheduler.NewChangePoller(scheduler.ChangePollerConfig{
		Workflows: store.Workflows,
		Changes:   store.Changes,
		Publisher: publisher,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("failed to create change poller", "error", err)
		os.Exit(1)
	}

	// HTTP: /healthz + /metrics
	addr := ":" + cfg.SchedulerPort
	server := &http.Server{Addr: addr, Handler: telemetry.ObservabilityMux()}
	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	conn, err := awaitLeadership(ctx, pool, logger)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			logger.Error("leader election failed", "error", err)
		}
		server.Shutdown(context.Background())
		return
	}
	defer func() {
		_, _ = conn.Exec(context.Background(), "select pg_advisory_unlock($1)", schedLockKey)
		conn.Release()
	}()
	logger.Info("acquired scheduler leadership")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sched.Run(ctx, cfg.SchedulerTick, scheduleResync)
	}()
	go func() {
		defer wg.Done()
		poller.Run(ctx, cfg.DBChangePoll)
	}()
	wg.Wait()

	server.Shutdown(context.Background())
	logger.Info("nodeflow-scheduler stopped")
}

// awaitLeadership держит отдельное соединение и пытается взять
// session-level advisory lock, пока не получится или ctx не отменён.
// Лок живёт, пока жив conn.
func awaitLeadership(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) (*pgxpool.Conn, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(leaderRetry)
	defer ticker.Stop()
	for {
		var ok bool
		if err := conn.QueryRow(ctx, "select pg_try_advisory_lock($1)", schedLockKey).Scan(&ok); err != nil {
			logger.Warn("advisory lock attempt failed", "error", err)
			// Соединение могло умереть: берём новое из пула.
			conn.Release()
			if conn, err = pool.Acquire(ctx); err != nil {
				return nil, err
			}
		} else if ok {
			return conn, nil
		} else {
			logger.Debug("another scheduler is the leader, waiting")
		}

		select {
		case <-ctx.Done():
			conn.Release()
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
