// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — соединение с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - messages.go   — конверт сообщения и payload'ы запросов
//   - publisher.go  — публикация сообщений и событий оркестратора
//   - consumer.go   — потребление сообщений из очередей
//
// Запросы к оркестратору (очередь runs.requests):
//   - run.submit — запустить план
//   - run.retry  — перезапустить шаги run
//   - run.cancel — отменить run
//
// События оркестратора публикуются в mesh.events с routing key = тип события
// (run.started, step.finished, ...).
package mq
