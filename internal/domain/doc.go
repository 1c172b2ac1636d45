// Package domain содержит типы предметной области движка workflow.
//
//   - workflow.go   — WorkflowDefinition, Node, Connection, Settings
//   - executor.go   — ExecutorMetadata (статическое описание типа узла)
//   - result.go     — NodeResult
//   - execution.go  — Execution (один run) и NodeState
//   - event.go      — TriggerEvent
//   - schedule.go   — ScheduleTrigger
//   - change.go     — ChangeEvent (журнал изменений для database-change)
//   - errors.go     — классы ошибок (validation, configuration, execution, cancelled)
package domain
