// Package telemetry настраивает наблюдаемость процессов Nodeflow.
//
//   - logging.go — slog из LOG_LEVEL / LOG_FORMAT, логгер в context
//   - metrics.go — метрики Prometheus и обработчики /metrics, /healthz
//   - tracing.go — OpenTelemetry (OTLP gRPC), выключен без OTEL_ENABLED
package telemetry
