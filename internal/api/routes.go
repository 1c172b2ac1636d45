package api

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/shaiso/Nodeflow/internal/telemetry"
)

// maxBodyBytes — предел тела запроса (webhook, формы, определения).
const maxBodyBytes = 4 << 20

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
		MaxBody(maxBodyBytes),
	)

	// Workflows
	mux.Handle("POST /api/v1/workflows/validate", chain(http.HandlerFunc(h.ValidateWorkflow)))
	mux.Handle("POST /api/v1/workflows/{id}/executions", chain(http.HandlerFunc(h.CreateExecution)))
	mux.Handle("GET /api/v1/workflows/{id}/executions", chain(http.HandlerFunc(h.ListExecutions)))

	// Executions
	mux.Handle("GET /api/v1/executions/{id}", chain(http.HandlerFunc(h.GetExecution)))

	// Triggers
	mux.Handle("/hooks/{path...}", chain(http.HandlerFunc(h.HandleHook)))
	mux.Handle("GET /forms/{workflowId}/{nodeId}", chain(http.HandlerFunc(h.GetForm)))
	mux.Handle("POST /forms/{workflowId}/{nodeId}", chain(http.HandlerFunc(h.SubmitForm)))
}

// Server собирает корневой http.Handler процесса: маршруты API,
// /metrics и /healthz, всё под трассировкой otelhttp.
func (h *Handler) Server() http.Handler {
	mux := telemetry.ObservabilityMux()
	h.RegisterRoutes(mux)
	return otelhttp.NewHandler(mux, "nodeflow-api")
}
