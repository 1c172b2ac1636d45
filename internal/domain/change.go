package domain

import "time"

// ChangeEvent — одна запись журнала изменений коллекции.
//
// Scheduler читает журнал и доставляет события триггерам database-change.
type ChangeEvent struct {
	// ID — монотонный номер записи; курсор поллера.
	ID int64 `json:"id"`

	// Collection — коллекция (таблица), где произошло изменение.
	Collection string `json:"collection"`

	// Operation — insert, update или delete.
	Operation string `json:"operation"`

	// DocumentID — ID изменённого документа.
	DocumentID string `json:"documentId,omitempty"`

	// Document — документ после изменения (nil для delete).
	Document map[string]any `json:"document,omitempty"`

	// ChangedAt — время изменения.
	ChangedAt time.Time `json:"changedAt"`
}

// Payload возвращает событие в виде, который получает триггер.
func (c ChangeEvent) Payload() map[string]any {
	return map[string]any{
		"id":         c.ID,
		"collection": c.Collection,
		"operation":  c.Operation,
		"documentId": c.DocumentID,
		"document":   c.Document,
		"changedAt":  c.ChangedAt.UTC().Format(time.RFC3339Nano),
	}
}
