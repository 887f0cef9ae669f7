// internal/transport/rabbitmq/consumer.go
package rabbitmq

import (
	"context"
	"fmt"

	"listing-alerts/internal/common/config"
	apperrors "listing-alerts/internal/common/errors"
	"listing-alerts/internal/common/logger"
	"listing-alerts/internal/common/metrics"
	eventintake "listing-alerts/internal/engine/event-intake"
	"listing-alerts/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
)

// EventProcessor accepts decoded events and reports each outcome once.
type EventProcessor interface {
	Enqueue(ctx context.Context, event *models.PropertyChangeEvent, done eventintake.DoneFunc) error
}

// Consumer feeds property change events from a queue into the intake.
// Deliveries are acknowledged only once the event has been fully handled.
type Consumer struct {
	channel   *amqp.Channel
	config    config.RabbitMQConfig
	processor EventProcessor
	handler   *apperrors.ErrorHandler
	logger    logger.Logger
}

func NewConsumer(conn *amqp.Connection, cfg config.RabbitMQConfig, processor EventProcessor, log logger.Logger) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("failed to set QoS: %w", err)
		}
	}

	if err := ch.ExchangeDeclare(
		cfg.EventExchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to declare exchange '%s': %w", cfg.EventExchange, err)
	}

	if _, err := ch.QueueDeclare(
		cfg.EventQueue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to declare queue '%s': %w", cfg.EventQueue, err)
	}

	if err := ch.QueueBind(cfg.EventQueue, cfg.EventBinding, cfg.EventExchange, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to bind queue '%s' to exchange '%s': %w", cfg.EventQueue, cfg.EventExchange, err)
	}

	return newConsumer(ch, cfg, processor, log), nil
}

func newConsumer(ch *amqp.Channel, cfg config.RabbitMQConfig, processor EventProcessor, log logger.Logger) *Consumer {
	l := log.WithFields(map[string]interface{}{"component": "event-consumer", "queue": cfg.EventQueue})
	return &Consumer{
		channel:   ch,
		config:    cfg,
		processor: processor,
		handler:   apperrors.NewErrorHandler(l),
		logger:    l,
	}
}

// Run consumes until ctx is cancelled or the broker closes the channel.
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.channel.Consume(
		c.config.EventQueue,
		c.config.ConsumerTag,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("consumer registered, waiting for events", nil)
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed by broker")
			}
			c.handle(ctx, d)
		}
	}
}

// handle decodes one delivery and hands it to the processor. Deliveries are
// enqueued in arrival order, which keeps per-property ordering intact.
func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	event, err := DecodeEvent(d.Body)
	if err != nil {
		metrics.EventsFailed.WithLabelValues(string(apperrors.ErrCodeMalformedEvent)).Inc()
		c.settle(d, apperrors.NewMalformedEventError(err))
		return
	}

	err = c.processor.Enqueue(ctx, event, func(_ *eventintake.Outcome, err error) {
		c.settle(d, err)
	})
	if err != nil {
		c.settle(d, err)
	}
}

func (c *Consumer) settle(d amqp.Delivery, err error) {
	if err == nil {
		if ackErr := d.Ack(false); ackErr != nil {
			c.logger.Error("failed to ack delivery", map[string]interface{}{
				"messageId": d.MessageId,
				"error":     ackErr.Error(),
			})
		}
		return
	}

	requeue := c.handler.Handle(d.MessageId, attempts(d), err) == apperrors.DispositionRequeue
	if nackErr := d.Nack(false, requeue); nackErr != nil {
		c.logger.Error("failed to nack delivery", map[string]interface{}{
			"messageId": d.MessageId,
			"requeue":   requeue,
			"error":     nackErr.Error(),
		})
	}
}

// Close cancels the consumer channel.
func (c *Consumer) Close() error {
	if c.channel == nil {
		return nil
	}
	return c.channel.Close()
}

// attempts estimates how often a delivery has been tried before. Quorum
// queues report x-delivery-count; classic queues only flag redelivery.
func attempts(d amqp.Delivery) int {
	if n, ok := headerInt(d.Headers, "x-delivery-count"); ok {
		return n
	}
	if deaths, ok := d.Headers["x-death"].([]interface{}); ok {
		total := 0
		for _, death := range deaths {
			if tbl, ok := death.(amqp.Table); ok {
				if n, ok := headerInt(tbl, "count"); ok {
					total += n
				}
			}
		}
		if total > 0 {
			return total
		}
	}
	if d.Redelivered {
		return 1
	}
	return 0
}

func headerInt(t amqp.Table, key string) (int, bool) {
	switch v := t[key].(type) {
	case int64:
		return int(v), true
	case int32:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}
