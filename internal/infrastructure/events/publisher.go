package events

import (
	"context"
	"encoding/json"
	"time"

	"storefront-orders/internal/domain"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type EventType string

const (
	OrderPlaced        EventType = "order.placed"
	OrderStatusChanged EventType = "order.status_changed"
	OrderRefunded      EventType = "order.refunded"
	PaymentConfirmed   EventType = "payment.confirmed"
	PaymentFailed      EventType = "payment.failed"
)

type OrderEvent struct {
	Type          EventType            `json:"type"`
	OrderID       uuid.UUID            `json:"order_id"`
	UserID        uuid.UUID            `json:"user_id"`
	Status        domain.OrderStatus   `json:"status"`
	PaymentStatus domain.PaymentStatus `json:"payment_status"`
	PaymentMethod domain.PaymentMethod `json:"payment_method"`
	Total         decimal.Decimal      `json:"total"`
	OccurredAt    time.Time            `json:"occurred_at"`
}

func NewOrderEvent(t EventType, o *domain.Order) OrderEvent {
	return OrderEvent{
		Type:          t,
		OrderID:       o.ID,
		UserID:        o.UserID,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		PaymentMethod: o.PaymentMethod,
		Total:         o.Total,
		OccurredAt:    time.Now().UTC(),
	}
}

// Publisher delivers order events to downstream consumers such as
// notifications. Callers treat delivery as fire-and-forget.
type Publisher interface {
	Publish(ctx context.Context, evt OrderEvent) error
	Close() error
}

type KafkaPublisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
		},
		logger: logger,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, evt OrderEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(evt.OrderID.String()),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Warn("failed to publish order event",
			zap.String("type", string(evt.Type)),
			zap.String("order_id", evt.OrderID.String()),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher drops every event. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, OrderEvent) error { return nil }

func (NopPublisher) Close() error { return nil }
