// Package services содержит внешние зависимости, которые передаются
// узлам через NodeContext.Services.
//
// Bundle создаётся один раз на процесс и разделяется всеми узлами
// (read-only). Движок никогда не создаёт сервисы сам — их собирает
// cmd/* и передаёт явно, что позволяет подменять их в тестах.
//
//   - storage.go, redis_storage.go       — key-value хранилище с namespace и TTL
//   - secrets.go                         — секреты по имени переменной окружения
//   - files.go                           — чтение файлов в пределах корня
//   - http.go                            — HTTP-клиент с трассировкой
//   - endpoints.go                       — регистрация webhook endpoints
//   - documents.go, *_documents.go       — документные хранилища (postgres, redis)
//   - objects.go, s3_objects.go          — объектное хранилище (S3)
//   - mailer.go                          — отправка почты (SMTP, HTTP API)
package services
