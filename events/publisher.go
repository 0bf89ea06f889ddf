// Package events publishes order lifecycle events for downstream consumers
// such as the delivery service.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"cart-order-service/models"
	"cart-order-service/upstream"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

type EventType string

const (
	OrderCreated       EventType = "order.created"
	OrderStatusChanged EventType = "order.status_changed"
	OrderPaid          EventType = "order.paid"
	OrderPaymentFailed EventType = "order.payment_failed"
	OrderCancelled     EventType = "order.cancelled"
	OrderDeleted       EventType = "order.deleted"
)

type OrderEvent struct {
	Type          EventType            `json:"type"`
	OrderID       string               `json:"order_id"`
	CustomerID    string               `json:"customer_id"`
	RestaurantID  string               `json:"restaurant_id"`
	Status        models.OrderStatus   `json:"status"`
	PaymentStatus models.PaymentStatus `json:"payment_status"`
	OccurredAt    time.Time            `json:"occurred_at"`
}

// NewOrderEvent snapshots the order as committed.
func NewOrderEvent(t EventType, o *models.Order) OrderEvent {
	return OrderEvent{
		Type:          t,
		OrderID:       o.ID,
		CustomerID:    o.CustomerID,
		RestaurantID:  o.RestaurantID,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		OccurredAt:    time.Now().UTC(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, evt OrderEvent) error
	Close() error
}

// Writer is the part of *kafka.Writer the publisher needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var ErrPublisherClosed = errors.New("publisher closed")

type KafkaPublisher struct {
	writer Writer
	policy upstream.Policy
	closed atomic.Bool
	log    zerolog.Logger
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
		// retries are driven by the policy
		MaxAttempts: 1,
	}
}

func NewKafkaPublisher(w Writer, policy upstream.Policy, log zerolog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: w,
		policy: policy,
		log:    log.With().Str("component", "order_events").Logger(),
	}
}

// Publish writes the event keyed by order id so all events of one order land
// on the same partition in commit order.
func (p *KafkaPublisher) Publish(ctx context.Context, evt OrderEvent) error {
	if p.closed.Load() {
		return ErrPublisherClosed
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode order event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(evt.OrderID),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.Type)},
		},
	}
	return upstream.Do(ctx, p.policy, func(ctx context.Context) error {
		err := p.writer.WriteMessages(ctx, msg)
		if err == nil {
			return nil
		}
		var kerr kafka.Error
		if errors.As(err, &kerr) && kerr.Temporary() {
			err = upstream.Transient(err)
		}
		p.log.Warn().Err(err).Str("order_id", evt.OrderID).Str("type", string(evt.Type)).Msg("order event write failed")
		return err
	})
}

func (p *KafkaPublisher) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return p.writer.Close()
}

// Noop drops every event. Used when no brokers are configured.
type Noop struct{}

func (Noop) Publish(context.Context, OrderEvent) error { return nil }
func (Noop) Close() error                              { return nil }

var (
	_ Publisher = (*KafkaPublisher)(nil)
	_ Publisher = Noop{}
	_ Writer    = (*kafka.Writer)(nil)
)
