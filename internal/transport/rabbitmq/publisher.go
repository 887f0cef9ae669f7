// internal/transport/rabbitmq/publisher.go
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"listing-alerts/internal/common/config"
	apperrors "listing-alerts/internal/common/errors"
	"listing-alerts/internal/common/logger"
	"listing-alerts/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
)

type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// JobPublisher hands notification jobs to the delivery services over AMQP.
// Each job is routed by channel, e.g. notification.job.email.
type JobPublisher struct {
	channel  publishChannel
	exchange string
	routing  string
	logger   logger.Logger
}

func NewJobPublisher(conn *amqp.Connection, cfg config.RabbitMQConfig, log logger.Logger) (*JobPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.JobExchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to declare exchange '%s': %w", cfg.JobExchange, err)
	}
	return newJobPublisher(ch, cfg, log), nil
}

func newJobPublisher(ch publishChannel, cfg config.RabbitMQConfig, log logger.Logger) *JobPublisher {
	return &JobPublisher{
		channel:  ch,
		exchange: cfg.JobExchange,
		routing:  cfg.JobRouting,
		logger:   log.WithFields(map[string]interface{}{"component": "job-publisher"}),
	}
}

// Publish sends every job, stopping at the first failure.
func (p *JobPublisher) Publish(ctx context.Context, jobs []models.NotificationJob) error {
	for _, job := range jobs {
		body, err := json.Marshal(job)
		if err != nil {
			return apperrors.NewNotificationPublishFailedError(string(job.Channel), err)
		}

		key := p.routing + "." + strings.ToLower(string(job.Channel))
		err = p.channel.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    job.ID,
			Timestamp:    job.CreatedAt,
			Type:         "notification.job",
			Body:         body,
		})
		if err != nil {
			return apperrors.NewNotificationPublishFailedError(string(job.Channel), err)
		}

		p.logger.Debug("notification job published", map[string]interface{}{
			"jobId":      job.ID,
			"userId":     job.UserID,
			"propertyId": job.PropertyID,
			"routingKey": key,
		})
	}
	return nil
}

func (p *JobPublisher) Close() error {
	return p.channel.Close()
}
