package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Sutra/internal/domain"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeTaskDispatched MessageType = "task.dispatched"
	MessageTypeTaskDead       MessageType = "task.dead"
)

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// TaskDispatchedPayload — payload события о задаче, назначенной пулу.
// Несёт только task_id: worker загружает envelope из БД, очередь не
// является источником истины.
type TaskDispatchedPayload struct {
	TaskID   uuid.UUID        `json:"task_id"`
	TaskType domain.TaskType  `json:"task_type"`
	Pool     domain.PoolClass `json:"pool"`
}

// TaskDeadPayload — payload события об эскалации в dead letter.
type TaskDeadPayload struct {
	TaskID     uuid.UUID         `json:"task_id"`
	TaskType   domain.TaskType   `json:"task_type"`
	ErrorClass domain.ErrorClass `json:"error_class"`
	Error      string            `json:"error,omitempty"`
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)

		return nil
	})
}

// PublishTaskDispatched публикует задачу в очередь её пула.
// Потребитель: worker pool.
func (p *Publisher) PublishTaskDispatched(ctx context.Context, taskID uuid.UUID, taskType domain.TaskType) error {
	pool := taskType.Pool()

	routingKey := RoutingKeyIndexing
	if pool == domain.PoolMaintenance {
		routingKey = RoutingKeyMaintenance
	}

	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeTaskDispatched,
		Payload:   TaskDispatchedPayload{TaskID: taskID, TaskType: taskType, Pool: pool},
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeTasks, routingKey, msg)
}

// PublishTaskDead публикует событие эскалации в DLQ обменник.
// Очередь терминальна, автоматической переобработки нет.
func (p *Publisher) PublishTaskDead(ctx context.Context, payload TaskDeadPayload) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeTaskDead,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeDLQ, RoutingKeyDead, msg)
}
