// internal/transport/delivery/sink.go
package delivery

import (
	"context"
	"fmt"
	"strings"

	awsclients "listing-alerts/internal/common/aws"
	"listing-alerts/internal/common/config"
	apperrors "listing-alerts/internal/common/errors"
	"listing-alerts/internal/common/logger"
	"listing-alerts/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
)

const Component = "aws-sink"

type ContactDirectory interface {
	Contact(ctx context.Context, userID string) (models.Contact, error)
}

type Config struct {
	FromEmail    string
	PushTopicARN string
}

func LoadConfig(cfg config.NotificationConfig) *Config {
	return &Config{
		FromEmail:    cfg.AWS.FromEmail,
		PushTopicARN: cfg.AWS.PushTopicARN,
	}
}

// AWSSink delivers notification jobs directly: email through SES and push
// through SNS.
type AWSSink struct {
	config   *Config
	ses      awsclients.SESService
	sns      awsclients.SNSService
	contacts ContactDirectory
	logger   logger.Logger
}

func NewAWSSink(config *Config, clients *awsclients.Clients, contacts ContactDirectory, log logger.Logger) *AWSSink {
	return &AWSSink{
		config:   config,
		ses:      clients.SES,
		sns:      clients.SNS,
		contacts: contacts,
		logger:   log.WithFields(map[string]interface{}{"component": Component}),
	}
}

// Publish sends every job, stopping at the first failure. A user without a
// contact for a channel is skipped, not failed.
func (s *AWSSink) Publish(ctx context.Context, jobs []models.NotificationJob) error {
	contacts := make(map[string]models.Contact)

	for _, job := range jobs {
		contact, ok := contacts[job.UserID]
		if !ok {
			var err error
			contact, err = s.contacts.Contact(ctx, job.UserID)
			if err != nil {
				return apperrors.NewNotificationPublishFailedError(string(job.Channel), fmt.Errorf("contact lookup: %w", err))
			}
			contacts[job.UserID] = contact
		}

		var err error
		switch job.Channel {
		case models.ChannelEmail:
			if contact.Email == "" {
				s.skip(job, "no email address")
				continue
			}
			err = s.sendEmail(ctx, contact.Email, job)
		case models.ChannelPush:
			err = s.sendPush(ctx, contact, job)
		default:
			err = fmt.Errorf("unsupported channel %q", job.Channel)
		}
		if err != nil {
			return apperrors.NewNotificationPublishFailedError(string(job.Channel), err)
		}

		s.logger.Info("notification delivered", map[string]interface{}{
			"jobId":      job.ID,
			"userId":     job.UserID,
			"propertyId": job.PropertyID,
			"channel":    string(job.Channel),
		})
	}
	return nil
}

func (s *AWSSink) sendEmail(ctx context.Context, to string, job models.NotificationJob) error {
	subject, body := render(job)
	_, err := s.ses.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &sestypes.Destination{
			ToAddresses: []string{to},
		},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: aws.String(subject)},
			Body: &sestypes.Body{
				Text: &sestypes.Content{Data: aws.String(body)},
			},
		},
		Source: aws.String(s.config.FromEmail),
	})
	return err
}

func (s *AWSSink) sendPush(ctx context.Context, contact models.Contact, job models.NotificationJob) error {
	subject, _ := render(job)
	input := &sns.PublishInput{
		Message: aws.String(subject),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"userId":     {DataType: aws.String("String"), StringValue: aws.String(job.UserID)},
			"propertyId": {DataType: aws.String("String"), StringValue: aws.String(job.PropertyID)},
		},
	}
	switch {
	case contact.PushEndpoint != "":
		input.TargetArn = aws.String(contact.PushEndpoint)
	case s.config.PushTopicARN != "":
		input.TopicArn = aws.String(s.config.PushTopicARN)
	default:
		s.skip(job, "no push endpoint")
		return nil
	}
	_, err := s.sns.Publish(ctx, input)
	return err
}

func (s *AWSSink) skip(job models.NotificationJob, reason string) {
	s.logger.Warn("notification skipped", map[string]interface{}{
		"jobId":   job.ID,
		"userId":  job.UserID,
		"channel": string(job.Channel),
		"reason":  reason,
	})
}

// render builds the subject and plain text body of an alert.
func render(job models.NotificationJob) (string, string) {
	var subject string
	switch {
	case job.Reasons.Has(models.ReasonPriceDrop):
		subject = "Price drop on a home matching your saved search"
	case job.Reasons.Has(models.ReasonNewListing):
		subject = "New listing matches your saved search"
	case job.Reasons.Has(models.ReasonPriceIncrease):
		subject = "Price change on a home matching your saved search"
	default:
		subject = "Update on a home matching your saved search"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s.\n\n", subject)
	fmt.Fprintf(&b, "Property: %s\n", job.PropertyID)
	fmt.Fprintf(&b, "What changed: %s\n", describe(job.Reasons))
	fmt.Fprintf(&b, "Saved searches: %s\n", strings.Join(job.SavedSearchIDs, ", "))
	return subject, b.String()
}

func describe(reasons models.ReasonSet) string {
	parts := make([]string, len(reasons))
	for i, r := range reasons {
		parts[i] = strings.ToLower(strings.ReplaceAll(string(r), "_", " "))
	}
	return strings.Join(parts, ", ")
}
