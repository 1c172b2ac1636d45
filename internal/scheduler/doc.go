// Package scheduler запускает workflow по времени и по изменениям данных.
//
// Структура:
//   - scheduler.go — Scheduler: синхронизация schedule-узлов активных
//     workflow в хранилище триггеров (Sync) и срабатывание due-триггеров (Tick)
//   - changes.go   — ChangePoller: опрос журнала изменений для узлов database-change
//
// Оба компонента только публикуют TriggerEvent; выполняет run воркер.
//
// Использование:
//
//	sched, err := scheduler.New(scheduler.Config{
//	    Workflows: store.Workflows,
//	    Schedules: store.Schedules,
//	    Publisher: publisher,
//	    Logger:    logger,
//	})
//	go sched.Run(ctx, cfg.SchedulerTick, 30*time.Second)
//
// Leader Election:
//
// Scheduler не реализует leader election самостоятельно.
// Это делается в main.go через pg_try_advisory_lock.
package scheduler
