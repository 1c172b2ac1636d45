package domain

import (
	"errors"
	"time"
)

// NodeResult — результат выполнения узла.
//
// Неизменяем после создания. Хранится по nodeID до конца run,
// затем передаётся в ResultSink.
type NodeResult struct {
	// Success — узел выполнился успешно.
	Success bool `json:"success"`

	// Data — выходные данные узла (вход для следующих узлов).
	Data any `json:"data,omitempty"`

	// Error — текст ошибки при неудаче.
	Error string `json:"error,omitempty"`

	// ErrorKind — класс ошибки: validation, configuration, execution, cancelled.
	ErrorKind ErrorKind `json:"errorKind,omitempty"`

	// ErrorDetails — дополнительные сведения об ошибке (статус, тело ответа...).
	ErrorDetails map[string]any `json:"errorDetails,omitempty"`

	// Metadata — факты, специфичные для узла, плюс timestamp.
	Metadata map[string]any `json:"metadata"`

	// Unmatched — триггер успешно отработал, но его фильтр не пропустил
	// ни одного события. Зависимые узлы пропускаются.
	Unmatched bool `json:"unmatched,omitempty"`
}

// Succeeded создаёт успешный результат.
func Succeeded(data any, metadata map[string]any) *NodeResult {
	return &NodeResult{
		Success:  true,
		Data:     data,
		Metadata: stamp(metadata),
	}
}

// Filtered создаёт успешный результат триггера, не пропустившего событие.
func Filtered(data any, metadata map[string]any) *NodeResult {
	res := Succeeded(data, metadata)
	res.Unmatched = true
	return res
}

// Failed создаёт результат с ошибкой. Класс ошибки определяется по err.
func Failed(err error, details map[string]any) *NodeResult {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &NodeResult{
		Success:      false,
		Error:        msg,
		ErrorKind:    KindOf(err),
		ErrorDetails: details,
		Metadata:     stamp(nil),
	}
}

// WithMetadata возвращает копию результата с дополнительными полями metadata.
func (r *NodeResult) WithMetadata(kv map[string]any) *NodeResult {
	cp := *r
	cp.Metadata = make(map[string]any, len(r.Metadata)+len(kv))
	for k, v := range r.Metadata {
		cp.Metadata[k] = v
	}
	for k, v := range kv {
		cp.Metadata[k] = v
	}
	return &cp
}

// Err восстанавливает ошибку из результата (nil для успешного).
func (r *NodeResult) Err() error {
	if r == nil || r.Success {
		return nil
	}
	kind := r.ErrorKind.Sentinel()
	if r.Error == "" {
		return kind
	}
	return &NodeError{Kind: kind, Message: r.Error}
}

// FailurePayload — данные, которые получают зависимые узлы,
// когда у упавшего узла errorHandling = continue.
func (r *NodeResult) FailurePayload() map[string]any {
	return map[string]any{
		"error":        r.Error,
		"errorKind":    string(r.ErrorKind),
		"errorDetails": r.ErrorDetails,
	}
}

func stamp(metadata map[string]any) map[string]any {
	if metadata == nil {
		metadata = make(map[string]any, 1)
	}
	if _, ok := metadata["timestamp"]; !ok {
		metadata["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	return metadata
}

// KindOf определяет класс ошибки. Неизвестные ошибки считаются execution.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	default:
		return KindExecution
	}
}
