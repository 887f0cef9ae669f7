// internal/transport/delivery/sink_test.go
package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	awsclients "listing-alerts/internal/common/aws"
	"listing-alerts/internal/common/config"
	apperrors "listing-alerts/internal/common/errors"
	"listing-alerts/internal/common/logger"
	"listing-alerts/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Mock Implementations
// ==========================

type MockSESService struct {
	SendEmailFunc func(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
	sent          []*ses.SendEmailInput
}

func (m *MockSESService) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	m.sent = append(m.sent, params)
	if m.SendEmailFunc != nil {
		return m.SendEmailFunc(ctx, params, optFns...)
	}
	return &ses.SendEmailOutput{MessageId: aws.String("ses-msg-123")}, nil
}

type MockSNSService struct {
	PublishFunc func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
	sent        []*sns.PublishInput
}

func (m *MockSNSService) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	m.sent = append(m.sent, params)
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, params, optFns...)
	}
	return &sns.PublishOutput{MessageId: aws.String("sns-msg-123")}, nil
}

type stubContacts struct {
	contacts map[string]models.Contact
	err      error
	lookups  int
}

func (s *stubContacts) Contact(_ context.Context, userID string) (models.Contact, error) {
	s.lookups++
	if s.err != nil {
		return models.Contact{}, s.err
	}
	return s.contacts[userID], nil
}

// ==========================
// Test Helper Functions
// ==========================

func createTestConfig() *Config {
	return &Config{
		FromEmail:    "alerts@example.com",
		PushTopicARN: "arn:aws:sns:us-east-1:123456789012:listing-alerts",
	}
}

func createTestSink(t *testing.T, sesMock *MockSESService, snsMock *MockSNSService, contacts ContactDirectory) *AWSSink {
	return NewAWSSink(createTestConfig(), &awsclients.Clients{SES: sesMock, SNS: snsMock}, contacts, logger.NewTestLogger(t))
}

func job(id, userID string, channel models.Channel, reasons ...models.AlertReason) models.NotificationJob {
	return models.NotificationJob{
		ID:             id,
		UserID:         userID,
		PropertyID:     "prop-1",
		SavedSearchIDs: []string{"s-1", "s-2"},
		Channel:        channel,
		Reasons:        models.NewReasonSet(reasons...),
		CreatedAt:      time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

// ==========================
// Core Functionality Tests
// ==========================

func TestAWSSink_Publish_EmailAndPush(t *testing.T) {
	sesMock, snsMock := &MockSESService{}, &MockSNSService{}
	contacts := &stubContacts{contacts: map[string]models.Contact{
		"user-1": {UserID: "user-1", Email: "buyer@example.com", PushEndpoint: "arn:aws:sns:us-east-1:123456789012:endpoint/GCM/app/abc"},
	}}
	sink := createTestSink(t, sesMock, snsMock, contacts)

	err := sink.Publish(context.Background(), []models.NotificationJob{
		job("job-1", "user-1", models.ChannelEmail, models.ReasonPriceDrop, models.ReasonAttributeUpdated),
		job("job-2", "user-1", models.ChannelPush, models.ReasonPriceDrop, models.ReasonAttributeUpdated),
	})
	require.NoError(t, err)

	require.Len(t, sesMock.sent, 1)
	email := sesMock.sent[0]
	assert.Equal(t, []string{"buyer@example.com"}, email.Destination.ToAddresses)
	assert.Equal(t, "alerts@example.com", *email.Source)
	assert.Equal(t, "Price drop on a home matching your saved search", *email.Message.Subject.Data)
	assert.Contains(t, *email.Message.Body.Text.Data, "What changed: attribute updated, price drop")
	assert.Contains(t, *email.Message.Body.Text.Data, "Saved searches: s-1, s-2")

	require.Len(t, snsMock.sent, 1)
	push := snsMock.sent[0]
	assert.Equal(t, "arn:aws:sns:us-east-1:123456789012:endpoint/GCM/app/abc", *push.TargetArn)
	assert.Nil(t, push.TopicArn)
	assert.Equal(t, "user-1", *push.MessageAttributes["userId"].StringValue)

	assert.Equal(t, 1, contacts.lookups, "contacts are looked up once per user and batch")
}

func TestAWSSink_Publish_Routing(t *testing.T) {
	tests := []struct {
		name           string
		contact        models.Contact
		config         func(c *Config)
		channel        models.Channel
		validateOutput func(t *testing.T, sesMock *MockSESService, snsMock *MockSNSService)
	}{
		{
			name:    "push falls back to the topic",
			contact: models.Contact{UserID: "user-1"},
			channel: models.ChannelPush,
			validateOutput: func(t *testing.T, _ *MockSESService, snsMock *MockSNSService) {
				require.Len(t, snsMock.sent, 1)
				assert.Equal(t, "arn:aws:sns:us-east-1:123456789012:listing-alerts", *snsMock.sent[0].TopicArn)
				assert.Nil(t, snsMock.sent[0].TargetArn)
			},
		},
		{
			name:    "push without endpoint or topic is skipped",
			contact: models.Contact{UserID: "user-1"},
			config:  func(c *Config) { c.PushTopicARN = "" },
			channel: models.ChannelPush,
			validateOutput: func(t *testing.T, _ *MockSESService, snsMock *MockSNSService) {
				assert.Empty(t, snsMock.sent)
			},
		},
		{
			name:    "email without address is skipped",
			contact: models.Contact{UserID: "user-1"},
			channel: models.ChannelEmail,
			validateOutput: func(t *testing.T, sesMock *MockSESService, _ *MockSNSService) {
				assert.Empty(t, sesMock.sent)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sesMock, snsMock := &MockSESService{}, &MockSNSService{}
			cfg := createTestConfig()
			if tt.config != nil {
				tt.config(cfg)
			}
			sink := NewAWSSink(cfg, &awsclients.Clients{SES: sesMock, SNS: snsMock},
				&stubContacts{contacts: map[string]models.Contact{"user-1": tt.contact}}, logger.NewTestLogger(t))

			err := sink.Publish(context.Background(), []models.NotificationJob{job("job-1", "user-1", tt.channel, models.ReasonNewListing)})
			require.NoError(t, err)
			tt.validateOutput(t, sesMock, snsMock)
		})
	}
}

// ==========================
// Error Handling Tests
// ==========================

func TestAWSSink_Publish_Errors(t *testing.T) {
	tests := []struct {
		name            string
		sesErr          error
		snsErr          error
		contactErr      error
		expectedChannel string
		expectedEmails  int
		expectedPushes  int
	}{
		{name: "ses failure", sesErr: errors.New("throttled"), expectedChannel: "EMAIL", expectedEmails: 1},
		{name: "sns failure", snsErr: errors.New("endpoint disabled"), expectedChannel: "PUSH", expectedEmails: 1, expectedPushes: 1},
		{name: "contact lookup failure", contactErr: errors.New("db down"), expectedChannel: "EMAIL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sesMock := &MockSESService{}
			if tt.sesErr != nil {
				sesMock.SendEmailFunc = func(context.Context, *ses.SendEmailInput, ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
					return nil, tt.sesErr
				}
			}
			snsMock := &MockSNSService{}
			if tt.snsErr != nil {
				snsMock.PublishFunc = func(context.Context, *sns.PublishInput, ...func(*sns.Options)) (*sns.PublishOutput, error) {
					return nil, tt.snsErr
				}
			}
			contacts := &stubContacts{
				contacts: map[string]models.Contact{"user-1": {UserID: "user-1", Email: "buyer@example.com"}},
				err:      tt.contactErr,
			}
			sink := createTestSink(t, sesMock, snsMock, contacts)

			err := sink.Publish(context.Background(), []models.NotificationJob{
				job("job-1", "user-1", models.ChannelEmail, models.ReasonNewListing),
				job("job-2", "user-1", models.ChannelPush, models.ReasonNewListing),
			})

			var stdErr *apperrors.StandardError
			require.True(t, errors.As(err, &stdErr))
			assert.Equal(t, apperrors.ErrCodeNotificationPublishFailed, stdErr.Code)
			assert.Equal(t, tt.expectedChannel, stdErr.Metadata["channel"])
			assert.True(t, stdErr.Retryable)
			assert.Len(t, sesMock.sent, tt.expectedEmails)
			assert.Len(t, snsMock.sent, tt.expectedPushes)
		})
	}
}

func TestRender(t *testing.T) {
	tests := []struct {
		reasons         []models.AlertReason
		expectedSubject string
	}{
		{[]models.AlertReason{models.ReasonNewListing}, "New listing matches your saved search"},
		{[]models.AlertReason{models.ReasonPriceDrop}, "Price drop on a home matching your saved search"},
		{[]models.AlertReason{models.ReasonPriceIncrease}, "Price change on a home matching your saved search"},
		{[]models.AlertReason{models.ReasonStatusChanged}, "Update on a home matching your saved search"},
	}

	for _, tt := range tests {
		t.Run(tt.expectedSubject, func(t *testing.T) {
			subject, body := render(job("job-1", "user-1", models.ChannelEmail, tt.reasons...))
			assert.Equal(t, tt.expectedSubject, subject)
			assert.Contains(t, body, "Property: prop-1")
		})
	}
}

func TestLoadConfig(t *testing.T) {
	var cfg config.NotificationConfig
	cfg.AWS.FromEmail = "alerts@example.com"
	cfg.AWS.PushTopicARN = "arn:topic"

	loaded := LoadConfig(cfg)
	assert.Equal(t, "alerts@example.com", loaded.FromEmail)
	assert.Equal(t, "arn:topic", loaded.PushTopicARN)
}
