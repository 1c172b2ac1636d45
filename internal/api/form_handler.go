package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"

	"github.com/shaiso/Nodeflow/internal/domain"
	"github.com/shaiso/Nodeflow/internal/executors"
)

// formNode загружает workflow и конфигурацию узла form.
// Пишет ответ об ошибке и возвращает false, если узла нет.
func (h *Handler) formNode(w http.ResponseWriter, r *http.Request) (*domain.WorkflowDefinition, *executors.FormConfig, bool) {
	def, err := h.workflows.Get(r.Context(), r.PathValue("workflowId"))
	if HandleRepoError(w, h.logger, err, "workflow not found") {
		return nil, nil, false
	}
	nodeID := r.PathValue("nodeId")
	node, ok := def.NodeByID(nodeID)
	if !ok || node.Type != executors.TypeForm {
		NotFound(w, "form not found")
		return nil, nil, false
	}
	cfg, err := executors.FormConfigFor(node)
	if err != nil {
		InvalidState(w, "form is misconfigured", err.Error())
		return nil, nil, false
	}
	return def, cfg, true
}

// GetForm отдаёт описание формы для внешнего рендера.
// GET /forms/{workflowId}/{nodeId}
func (h *Handler) GetForm(w http.ResponseWriter, r *http.Request) {
	def, cfg, ok := h.formNode(w, r)
	if !ok {
		return
	}
	Success(w, FormResponse{WorkflowID: def.ID, NodeID: r.PathValue("nodeId"), Form: cfg})
}

// SubmitForm проверяет отправку и ставит run в очередь.
// POST /forms/{workflowId}/{nodeId}
//
// Принимает JSON или form-urlencoded. Ошибки полей — 422 с details.
func (h *Handler) SubmitForm(w http.ResponseWriter, r *http.Request) {
	def, cfg, ok := h.formNode(w, r)
	if !ok {
		return
	}
	nodeID := r.PathValue("nodeId")

	submission, err := readSubmission(r)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	data, fieldErrs, err := cfg.Validate(h.schemas, def.ID+"-"+nodeID, submission)
	if err != nil {
		InternalError(w, h.logger, fmt.Errorf("form schema: %w", err))
		return
	}
	if len(fieldErrs) > 0 {
		InvalidState(w, "form submission is invalid", fieldErrs)
		return
	}

	ev := domain.NewTriggerEvent(def.ID, nodeID, domain.SourceForm, data)
	accepted, err := h.dispatch(r.Context(), ev)
	if err != nil {
		Unavailable(w, h.logger, err)
		return
	}
	Accepted(w, accepted)
}

func readSubmission(r *http.Request) (map[string]any, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		var out map[string]any
		if err := json.NewDecoder(r.Body).Decode(&out); err != nil {
			return nil, errors.New("invalid request body")
		}
		return out, nil
	}
	if err := r.ParseForm(); err != nil {
		return nil, errors.New("invalid form body")
	}
	return flatten(r.PostForm, ""), nil
}
