package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ExecutionsTotal — завершённые run по статусу (COMPLETED, FAILED).
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodeflow",
			Name:      "executions_total",
			Help:      "Total number of workflow executions by final status",
		},
		[]string{"status"},
	)

	// ExecutionsActive — run в процессе выполнения.
	ExecutionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "nodeflow",
			Name:      "executions_active",
			Help:      "Number of executions currently running",
		},
	)

	// ExecutionDuration — длительность run.
	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nodeflow",
			Name:      "execution_duration_seconds",
			Help:      "Workflow execution duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
		},
		[]string{"status"},
	)

	// NodeExecutionsTotal — узлы в финальном статусе.
	NodeExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodeflow",
			Name:      "node_executions_total",
			Help:      "Total number of node executions by type and final status",
		},
		[]string{"type", "status"},
	)

	// NodeDuration — длительность одной попытки узла.
	NodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nodeflow",
			Name:      "node_duration_seconds",
			Help:      "Node attempt duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	// NodeRetries — повторы узлов.
	NodeRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodeflow",
			Name:      "node_retries_total",
			Help:      "Total number of node retry attempts",
		},
		[]string{"type"},
	)

	// SandboxRuns — запуски пользовательского кода по исходу
	// (ok, thrown, timeout, compile, cancelled).
	SandboxRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodeflow",
			Name:      "sandbox_runs_total",
			Help:      "Total number of sandboxed code runs by outcome",
		},
		[]string{"outcome"},
	)

	// TriggerEvents — принятые события-триггеры по источнику.
	TriggerEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodeflow",
			Name:      "trigger_events_total",
			Help:      "Total number of trigger events accepted by source",
		},
		[]string{"source"},
	)
)

// MetricsHandler — обработчик /metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// HealthHandler — обработчик /healthz.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ObservabilityMux возвращает mux с /metrics и /healthz
// для процессов без собственного HTTP API.
func ObservabilityMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", MetricsHandler())
	mux.HandleFunc("GET /healthz", HealthHandler)
	return mux
}
