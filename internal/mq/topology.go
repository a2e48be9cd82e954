package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeRuns   Exchange = "mesh.runs"
	ExchangeEvents Exchange = "mesh.events"
	ExchangeDLQ    Exchange = "mesh.dlq"
)

// Queues — имена очередей.
const (
	QueueRunRequests Queue = "runs.requests"
	QueueRunEvents   Queue = "runs.events"
	QueueDLQRequests Queue = "dlq.requests"
)

// Routing keys.
const (
	RoutingKeyRequests    RoutingKey = "requests"
	RoutingKeyAllEvents   RoutingKey = "#"
	RoutingKeyDLQRequests RoutingKey = "requests"
)

// binding — привязка очереди к обменнику.
type binding struct {
	queue      Queue
	routingKey RoutingKey
	exchange   Exchange
}

var (
	exchanges = []struct {
		name Exchange
		kind string
	}{
		{ExchangeRuns, amqp.ExchangeDirect},
		{ExchangeEvents, amqp.ExchangeTopic},
		{ExchangeDLQ, amqp.ExchangeDirect},
	}

	queues = []struct {
		name Queue
		args amqp.Table
	}{
		// отклонённые запросы уходят в DLQ
		{QueueRunRequests, amqp.Table{
			"x-dead-letter-exchange":    string(ExchangeDLQ),
			"x-dead-letter-routing-key": string(RoutingKeyDLQRequests),
		}},
		{QueueRunEvents, nil},
		{QueueDLQRequests, nil},
	}

	bindings = []binding{
		{QueueRunRequests, RoutingKeyRequests, ExchangeRuns},
		{QueueRunEvents, RoutingKeyAllEvents, ExchangeEvents},
		{QueueDLQRequests, RoutingKeyDLQRequests, ExchangeDLQ},
	}
)

// SetupTopology объявляет exchanges, queues и bindings. Идемпотентна.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		for _, ex := range exchanges {
			if err := ch.ExchangeDeclare(string(ex.name), ex.kind, true, false, false, false, nil); err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex.name, err)
			}
		}

		for _, q := range queues {
			if _, err := ch.QueueDeclare(string(q.name), true, false, false, false, q.args); err != nil {
				return fmt.Errorf("declare queue %s: %w", q.name, err)
			}
		}

		for _, b := range bindings {
			if err := ch.QueueBind(string(b.queue), string(b.routingKey), string(b.exchange), false, nil); err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
			}
		}
		return nil
	})
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Mesh RabbitMQ Topology:

    mesh.runs (direct)
    └── runs.requests [routing: requests]
            Consumer: mesh-orchestrator
            DLQ: dlq.requests

    mesh.events (topic)
    └── runs.events [routing: #]
            Consumer: external subscribers

    mesh.dlq (direct)
    └── dlq.requests [routing: requests]
            Manual processing
`
}
