// Package cli реализует meshctl, клиент командной строки оркестратора.
//
// CLI работает с сервером через HTTP API и не импортирует internal/api:
// типы запросов и ответов продублированы в client.go. Исключение —
// `plan validate`, которая проверяет план локально через пакет engine.
//
// Команды:
//   - plan: validate, create
//   - run: list, start, show, retry, cancel, watch
//
// `run watch` подключается к /api/v1/runs/{id}/events по WebSocket и
// печатает события до завершения run.
//
// Данные выводятся в stdout (таблица или --json), сообщения в stderr:
//
//	meshctl run list --all --json | jq '.[].status'
//
// Группы создаются фабриками NewPlanCmd и NewRunCmd, которые принимают
// clientFn и outputFn: Client и Output создаются лениво после разбора
// PersistentFlags.
package cli
