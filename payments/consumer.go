package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cart-order-service/apperr"
	"cart-order-service/upstream"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

type disposition int

const (
	ack disposition = iota
	requeue
	discard
)

// Consumer reads payment events from a durable queue with manual acks.
type Consumer struct {
	url       string
	queue     string
	prefetch  int
	confirmer Confirmer
	policy    upstream.Policy
	log       zerolog.Logger

	// failures counts consecutive requeues; deliveries are handled one at a time
	failures int
	wait     func(ctx context.Context, d time.Duration)
}

func NewConsumer(url, queue string, confirmer Confirmer, policy upstream.Policy, log zerolog.Logger) *Consumer {
	return &Consumer{
		url:       url,
		queue:     queue,
		prefetch:  1,
		confirmer: confirmer,
		policy:    policy,
		log:       log.With().Str("component", "payment_consumer").Str("queue", queue).Logger(),
		wait:      sleep,
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Run consumes until ctx is done, reconnecting when the broker drops the
// connection.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		err := c.consumeOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		c.log.Warn().Err(err).Msg("payment consumer disconnected, reconnecting")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.policy.MaxDelay + time.Second):
		}
	}
}

func (c *Consumer) consumeOnce(ctx context.Context) error {
	var conn *amqp.Connection
	err := upstream.Do(ctx, c.policy, func(context.Context) error {
		var err error
		conn, err = amqp.Dial(c.url)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}
	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	msgs, err := ch.Consume(c.queue, "cart-order-service", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.log.Info().Msg("payment consumer started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.handle(ctx, msg)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg amqp.Delivery) {
	var err error
	d := c.process(ctx, msg.Body)
	if d != requeue {
		c.failures = 0
	}
	switch d {
	case ack:
		err = msg.Ack(false)
	case requeue:
		// the broker redelivers at once, so hold the message back first
		c.failures++
		delay := c.policy.Delay(c.failures)
		c.log.Debug().Dur("delay", delay).Int("failures", c.failures).Msg("delaying requeue")
		c.wait(ctx, delay)
		err = msg.Nack(false, true)
	default:
		err = msg.Nack(false, false)
	}
	if err != nil {
		c.log.Error().Err(err).Uint64("delivery_tag", msg.DeliveryTag).Msg("failed to settle delivery")
	}
}

// process applies one event. Deterministic outcomes are acked so a duplicate
// or stale event is not redelivered forever; infrastructure failures requeue.
func (c *Consumer) process(ctx context.Context, body []byte) disposition {
	evt, err := DecodeEvent(body)
	if err != nil {
		c.log.Error().Err(err).Bytes("body", body).Msg("dropping malformed payment event")
		return discard
	}

	_, err = c.confirmer.ConfirmPayment(ctx, evt.OrderID, evt.Details())
	logEvt := c.log.With().Str("order_id", evt.OrderID).Str("transaction_id", evt.TransactionID).
		Str("outcome", evt.Outcome).Logger()

	switch kind := apperr.KindOf(err); {
	case err == nil:
		logEvt.Info().Msg("payment event applied")
		return ack
	case errors.Is(err, apperr.ErrAlreadyPaid):
		logEvt.Info().Msg("duplicate payment event ignored")
		return ack
	case kind == apperr.KindUpstream || kind == apperr.KindInternal:
		logEvt.Error().Err(err).Msg("payment event failed, requeueing")
		return requeue
	default:
		logEvt.Warn().Err(err).Str("code", apperr.CodeOf(err)).Msg("payment event rejected")
		return ack
	}
}
