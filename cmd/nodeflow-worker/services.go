package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Nodeflow/internal/config"
	"github.com/shaiso/Nodeflow/internal/services"
)

// buildServices собирает Bundle из того, что настроено в окружении.
// Redis, S3, SMTP и каталог файлов необязательны: без них соответствующие
// узлы завершаются ошибкой конфигурации. Возвращаемая функция закрывает ресурсы.
func buildServices(ctx context.Context, cfg config.Config, pool *pgxpool.Pool, logger *slog.Logger) (*services.Bundle, func(), error) {
	bundle := &services.Bundle{
		Storage:   services.NewMemoryStorage(),
		Secrets:   services.EnvSecrets{Prefix: cfg.SecretsPrefix},
		HTTP:      services.NewHTTPClient(services.HTTPConfig{}),
		Endpoints: services.NewStaticEndpoints(cfg.PublicBaseURL),
		Documents: map[string]services.DocumentStore{
			"postgres": services.NewPostgresDocuments(pool, ""),
			"memory":   services.NewMemoryDocuments(),
		},
	}
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.RedisURL != "" {
		client, err := services.NewRedisClient(ctx, services.RedisConfig{URL: cfg.RedisURL, KeyPrefix: cfg.Redis.KeyPrefix})
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, func() { client.Close() })
		bundle.Storage = services.NewRedisStorage(client, cfg.Redis.KeyPrefix)
		bundle.Documents["redis"] = services.NewRedisDocuments(client, cfg.Redis.KeyPrefix)
		logger.Info("redis connected")
	} else {
		logger.Warn("REDIS_URL not set, kv-store uses process memory")
	}

	if cfg.S3.Enabled() {
		objects, err := services.NewS3Objects(ctx, services.S3Config{
			Endpoint:        cfg.S3.Endpoint,
			Region:          cfg.S3.Region,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			UseSSL:          cfg.S3.UseSSL,
		})
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("s3: %w", err)
		}
		bundle.Objects = objects
	}

	if cfg.SMTP.Host != "" {
		bundle.Mailer = services.NewSMTPMailer(services.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
		})
	}

	if cfg.FilesRoot != "" {
		files, err := services.NewDirFiles(cfg.FilesRoot, 0)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("files root: %w", err)
		}
		closers = append(closers, func() { files.Close() })
		bundle.Files = files
	}

	return bundle, closeAll, nil
}
