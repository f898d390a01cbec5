// Package events публикует события жизненного цикла заказов в Kafka.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Типы публикуемых событий.
const (
	TypeOrderCreated       = "order.created"
	TypeOrderStatusChanged = "order.status_changed"
)

// OrderEvent — событие изменения заказа. Ключ сообщения — номер заказа,
// поэтому события одного заказа попадают в одну партицию по порядку.
type OrderEvent struct {
	Type          string    `json:"type"`
	OrderNumber   string    `json:"order_number"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"payment_status"`
	PaymentMethod string    `json:"payment_method"`
	Total         float64   `json:"total"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Publisher пишет события заказов в топик Kafka.
// Nil-publisher безопасен: все операции превращаются в no-op,
// так что сервис работает и без настроенного брокера.
type Publisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewPublisher создаёт публикатор для указанных брокеров и топика.
func NewPublisher(brokers []string, topic string, logger *zap.Logger) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
		logger: logger,
	}
}

// Publish отправляет событие. Ошибка публикации логируется, но не
// прерывает запрос: события вторичны по отношению к состоянию заказа в БД.
func (p *Publisher) Publish(ctx context.Context, event OrderEvent) {
	if p == nil {
		return
	}

	value, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn("marshal order event", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(event.OrderNumber),
		Value: value,
		Time:  event.OccurredAt,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Warn("publish order event",
			zap.Error(err),
			zap.String("type", event.Type),
			zap.String("order", event.OrderNumber),
		)
	}
}

// Close закрывает соединение с брокером.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}
