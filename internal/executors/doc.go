// Package executors содержит контракт executor'а, реестр типов узлов
// и встроенные executor'ы.
//
// Семейства:
//   - триггеры (maxInputs = 0): schedule, webhook, form, email-receive, database-change
//   - преобразования: filter, map, merge, code, delay, kv-store, read-file
//   - выходы (maxOutputs = 0): webhook-output, email, database, object-storage,
//     graph-database, vector-database
//
// Executor получает NodeContext и возвращает *domain.NodeResult. Ошибки
// внешних вызовов возвращаются как Success=false, повторы выполняет
// движок по Policy узла.
package executors
