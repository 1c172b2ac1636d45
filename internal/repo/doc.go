// Package repo хранит состояние движка: определения workflow, журнал
// выполнений, schedule-триггеры и журнал изменений для database-change.
//
// Store работает поверх PostgreSQL (pgx); MemoryStore повторяет те же
// методы в памяти для CLI и тестов. Схема таблиц — schema.sql, её
// применяет Migrate.
package repo
