// Package orchestrator выполняет граф workflow.
//
// Engine.Execute проходит один run:
//   - валидирует граф и строит DAG
//   - запускает триггеры с payload события
//   - запускает узел, как только все его предшественники в финальном статусе
//   - независимые ветки выполняются параллельно (не больше MaxConcurrency)
//   - повторяет упавшие узлы по retryCount/retryDelay с экспоненциальной задержкой
//   - пропускает зависимых от упавшего узла, кроме errorHandling=continue
//   - передаёт каждый финальный NodeState и итог run в ResultSink
//
// Ошибка конфигурации узла прерывает run: новые узлы не запускаются,
// выполняющиеся отменяются.
package orchestrator
