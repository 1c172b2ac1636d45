// Package sandbox выполняет пользовательский код узлов в изолированном
// интерпретаторе Go (yaegi).
//
// Код узла — тело функции, возвращающей (interface{}, error). В интерпретатор
// не загружается стандартная библиотека целиком: доступны только пакеты из
// явно включённых библиотек (см. libraries.go) и хост-пакет "nodeflow/wf"
// с аргументами вызова, консолью и группой асинхронных задач.
//
// Выполнение ограничено таймаутом. Таймаут отличим от ошибки самого кода:
// ErrTimeout против *ThrownError.
//
// Пример тела функции:
//
//	m := wf.Map(input)
//	console.Log("got", len(m), "fields")
//	return strings.ToUpper(wf.Str(m["name"])), nil
package sandbox
