// Package executor — граница между оркестратором и внешними исполнителями шагов.
//
// Оркестратор не знает, что делает шаг: он передаёт PlanStep исполнителю
// через интерфейс Executor и ждёт Outcome не дольше таймаута шага.
//
// Реализации:
//   - Func        — адаптер функции (тесты, встраивание)
//   - Router      — маршрутизация по agent_id
//   - HTTPExecutor — вызов agent gateway по HTTP
//   - LaneLimiter — ограничение параллелизма на lane между run'ами
//
// HTTPPlanner — внешний планировщик, дополняющий черновик плана шагами.
package executor
