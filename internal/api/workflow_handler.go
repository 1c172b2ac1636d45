package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/shaiso/Nodeflow/internal/domain"
)

// ValidateWorkflow проверяет граф без запуска.
// POST /api/v1/workflows/validate
//
// Невалидный граф — не ошибка запроса: ответ 200 с is_valid=false.
func (h *Handler) ValidateWorkflow(w http.ResponseWriter, r *http.Request) {
	var def domain.WorkflowDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	Success(w, ValidationFromResult(h.validator.Validate(&def)))
}

// CreateExecution ставит ручной запуск workflow в очередь.
// POST /api/v1/workflows/{id}/executions
func (h *Handler) CreateExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req CreateExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		BadRequest(w, "invalid request body")
		return
	}

	def, err := h.workflows.Get(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "workflow not found") {
		return
	}
	if req.NodeID != "" {
		node, ok := def.NodeByID(req.NodeID)
		if !ok {
			BadRequest(w, "unknown node "+req.NodeID)
			return
		}
		if meta, ok := h.validator.Catalog().Metadata(node.Type); !ok || meta.Category != domain.CategoryTrigger {
			BadRequest(w, "node "+req.NodeID+" is not a trigger")
			return
		}
	}

	ev := domain.NewTriggerEvent(def.ID, req.NodeID, domain.SourceManual, req.Payload)
	accepted, err := h.dispatch(r.Context(), ev)
	if err != nil {
		Unavailable(w, h.logger, err)
		return
	}
	Accepted(w, accepted)
}

// ListExecutions возвращает последние execution workflow.
// GET /api/v1/workflows/{id}/executions?limit=N
func (h *Handler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			BadRequest(w, "invalid limit")
			return
		}
		limit = min(n, 100)
	}

	execs, err := h.executions.ListByWorkflow(r.Context(), r.PathValue("id"), limit)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]ExecutionResponse, len(execs))
	for i := range execs {
		result[i] = ExecutionFromDomain(&execs[i])
	}
	List(w, result, len(result))
}

// GetExecution возвращает execution с результатами узлов.
// GET /api/v1/executions/{id}
func (h *Handler) GetExecution(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid execution id")
		return
	}

	exec, err := h.executions.Get(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "execution not found") {
		return
	}
	Success(w, ExecutionFromDomain(exec))
}
