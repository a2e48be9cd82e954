// Package telemetry обеспечивает наблюдаемость оркестратора.
//
// Включает:
//   - logging.go — structured logging через slog
//   - metrics.go — Prometheus метрики run'ов и шагов
//
// Метрики регистрируются на переданном prometheus.Registerer,
// поэтому в тестах каждый экземпляр оркестратора получает свой реестр.
package telemetry
