// Package cli реализует инструмент командной строки Nodeflow.
//
// Команды делятся на две группы.
//
// Локальные работают без сервера, на in-memory сервисах:
//   - validate FILE — проверка определения (JSON или YAML)
//   - run FILE — выполнение workflow с выводом состояния узлов
//   - executors — список встроенных типов узлов
//
// Удалённые обращаются к Nodeflow API через Client:
//   - trigger WORKFLOW_ID — ручной запуск (202, execution_id)
//   - execution get ID, execution list WORKFLOW_ID
//
// Output печатает таблицы (text/tabwriter) или JSON с флагом --json.
// Данные идут в stdout, сообщения в stderr:
//
//	nodeflow executors --json | jq '.[].type'
//
// Каждая команда создаётся фабрикой, принимающей clientFn и outputFn:
// Client и Output создаются лениво, после разбора PersistentFlags.
package cli
