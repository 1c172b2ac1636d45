package services

import (
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPConfig — параметры общего HTTP-клиента.
type HTTPConfig struct {
	// Timeout — ограничение на запрос (по умолчанию 30s).
	Timeout time.Duration

	// MaxIdleConnsPerHost — размер пула соединений на хост (по умолчанию 16).
	MaxIdleConnsPerHost int
}

// NewHTTPClient создаёт клиента с otelhttp-транспортом: каждый исходящий
// запрос узла получает span и заголовки W3C trace context.
func NewHTTPClient(cfg HTTPConfig) *http.Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = 16
	}

	base := http.DefaultTransport.(*http.Transport).Clone()
	base.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost

	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: otelhttp.NewTransport(base),
	}
}
