// Package worker исполняет run по событиям-триггерам.
//
// # Обзор
//
// Worker — stateless компонент системы Nodeflow. Он потребляет
// TriggerEvent из очереди triggers.events, загружает определение
// workflow и выполняет его через orchestrator.Engine. Результаты узлов
// и итог run пишет sink Engine (repo.ExecutionRepo); после run воркер
// публикует execution.completed.
//
// Workers масштабируются горизонтально — несколько экземпляров
// потребляют из одной очереди.
//
//	w, err := worker.New(worker.Config{
//	    Workflows:   store.Workflows,
//	    Engine:      eng,
//	    Notifier:    publisher,
//	    Conn:        mqConn,
//	    Concurrency: cfg.WorkerConcurrency,
//	    Logger:      logger,
//	})
//	if err := w.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Stop()
//
// # Доставка
//
// Сообщение подтверждается после run независимо от его статуса.
// Повторная доставка нужна только при инфраструктурных ошибках
// (не удалось загрузить определение). ID execution совпадает с ID
// события, поэтому повторно доставленное событие перезаписывает
// результаты того же execution.
package worker
