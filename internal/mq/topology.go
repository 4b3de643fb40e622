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
	ExchangeTasks Exchange = "sutra.tasks"
	ExchangeDLQ   Exchange = "sutra.dlq"
)

// Queues — имена очередей. По одной на worker pool плюс DLQ.
const (
	QueueIndexing    Queue = "tasks.indexing"
	QueueMaintenance Queue = "tasks.maintenance"
	QueueDLQ         Queue = "dlq.tasks"
)

// Routing keys.
const (
	RoutingKeyIndexing    RoutingKey = "indexing"
	RoutingKeyMaintenance RoutingKey = "maintenance"
	RoutingKeyDead        RoutingKey = "dead"
)

// SetupTopology декларирует обменники, очереди и привязки.
// Идемпотентно: повторный вызов на существующей топологии безопасен.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		if err := declareExchanges(ch); err != nil {
			return err
		}

		if err := declareQueues(ch); err != nil {
			return err
		}

		return bindQueues(ch)
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		{ExchangeTasks, "direct"},
		{ExchangeDLQ, "direct"},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	return nil
}

// declareQueues создаёт очереди.
func declareQueues(ch *amqp.Channel) error {
	// Очереди пулов отправляют отвергнутые сообщения в DLQ обменник
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDead),
	}

	queues := []struct {
		name Queue
		args amqp.Table
	}{
		{QueueIndexing, dlqArgs},
		{QueueMaintenance, dlqArgs},

		// dlq.tasks — сама DLQ очередь, терминальная
		{QueueDLQ, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}

	return nil
}

// bindQueues привязывает очереди к обменникам.
func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{QueueIndexing, RoutingKeyIndexing, ExchangeTasks},
		{QueueMaintenance, RoutingKeyMaintenance, ExchangeTasks},
		{QueueDLQ, RoutingKeyDead, ExchangeDLQ},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Sutra RabbitMQ Topology:

    sutra.tasks (direct)
    ├── tasks.indexing [routing: indexing]
    │       Consumer: indexing pool (index_entry, index_batch, health_check)
    │       DLQ: dlq.tasks
    └── tasks.maintenance [routing: maintenance]
            Consumer: maintenance pool (reindex_tradition, rebuild_tradition)
            DLQ: dlq.tasks

    sutra.dlq (direct)
    └── dlq.tasks [routing: dead]
            Terminal, operators consume out of band
  `
}
