// Package api содержит HTTP API оркестратора.
//
// Структура:
//   - handler.go      — Handler с DI (оркестратор, история, hub, logger)
//   - routes.go       — регистрация маршрутов
//   - middleware.go   — middleware (logging, recovery)
//   - response.go     — унифицированные JSON-ответы и обработка ошибок
//   - dto.go          — Data Transfer Objects (request/response)
//   - plan_handler.go — обработчики для /plans
//   - run_handler.go  — обработчики для /runs
//   - hub.go          — WebSocket-поток событий run
//
// API предоставляет REST endpoints для создания планов и управления runs.
package api
