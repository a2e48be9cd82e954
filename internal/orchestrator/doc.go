// Package orchestrator выполняет планы.
//
// Orchestrator отвечает за:
//   - Валидацию плана и построение DAG перед созданием run
//   - Запуск готовых шагов с ограничением max_parallel и таймаутами
//   - Пропуск шагов ниже упавшего шага
//   - Финализацию run (COMPLETED/FAILED/PARTIALLY_COMPLETED/CANCELLED)
//   - Retry выбранных шагов и отмену run
//   - Приём запросов из очереди RabbitMQ
//
// Каждый активный run ведёт свой координатор; Registry хранит run'ы до вытеснения.
package orchestrator
