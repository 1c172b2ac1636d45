// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go          — Handler с DI (хранилища, dispatcher, validator, logger)
//   - routes.go           — регистрация маршрутов и корневой Server()
//   - middleware.go       — middleware (logging, recovery, лимит тела)
//   - response.go         — унифицированные JSON-ответы и обработка ошибок
//   - dto.go              — Data Transfer Objects (request/response)
//   - workflow_handler.go — валидация графа, ручной запуск, чтение execution
//   - webhooks.go         — WebhookRouter (services.Endpoints) и приём /hooks/
//   - form_handler.go     — описание и отправка форм /forms/
//
// API не выполняет workflow сам: каждый запуск публикуется как
// TriggerEvent и выполняется воркером. ID execution в ответе 202
// совпадает с ID события.
package api
