// Package engine содержит модель графа workflow и движок шаблонов.
//
// Включает:
//   - validate.go — валидация WorkflowDefinition (все ошибки сразу)
//   - dag.go      — построение DAG и топологическая сортировка
//   - schema.go   — проверка data узлов по JSON Schema executor'ов
//   - template.go — подстановка {{path.to.value}}
//
// Engine не выполняет узлы — это делает пакет orchestrator.
package engine
