package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"github.com/simaogato/wealthflow-automation/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockChannel is a mock implementation of Channel for testing
type MockChannel struct {
	mock.Mock
}

func (m *MockChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	return m.Called(name, kind, durable, autoDelete, internal, noWait, args).Error(0)
}

func (m *MockChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	return m.Called(ctx, exchange, key, mandatory, immediate, msg).Error(0)
}

func (m *MockChannel) Close() error {
	return m.Called().Error(0)
}

func TestNewPublisher_DeclaresExchange(t *testing.T) {
	ch := new(MockChannel)
	ch.On("ExchangeDeclare", "wealthflow.automation", "topic", true, false, false, false, amqp.Table(nil)).Return(nil)

	_, err := NewPublisher(ch, "wealthflow.automation", "wealthflow.automation.notification", nil)
	require.NoError(t, err)
	ch.AssertExpectations(t)
}

func TestNewPublisher_DeclareFails(t *testing.T) {
	ch := new(MockChannel)
	ch.On("ExchangeDeclare", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("access refused"))

	_, err := NewPublisher(ch, "x", "y", nil)
	assert.Error(t, err)
}

func TestPublisher_Emit(t *testing.T) {
	ch := new(MockChannel)
	ch.On("ExchangeDeclare", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	publisher, err := NewPublisher(ch, "wealthflow.automation", "wealthflow.automation.notification", nil)
	require.NoError(t, err)

	amount := decimal.RequireFromString("200.00")
	txID := uuid.New()
	notification := domain.Notification{
		ID:                   uuid.New(),
		UserID:               uuid.New(),
		Type:                 domain.NotificationAutomationSuccess,
		Title:                "Automation completed",
		Message:              "Moved 200.00 EUR to Emergency Savings",
		Amount:               &amount,
		RelatedTransactionID: &txID,
		CreatedAt:            time.Date(2026, 10, 12, 8, 0, 0, 0, time.UTC),
	}

	var published amqp.Publishing
	ch.On("PublishWithContext", mock.Anything, "wealthflow.automation", "wealthflow.automation.notification.success", false, false, mock.Anything).
		Run(func(args mock.Arguments) {
			published = args.Get(5).(amqp.Publishing)
		}).
		Return(nil)

	require.NoError(t, publisher.Emit(context.Background(), notification))

	assert.Equal(t, "application/json", published.ContentType)
	assert.Equal(t, amqp.Persistent, published.DeliveryMode)
	assert.Equal(t, notification.ID.String(), published.MessageId)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(published.Body, &body))
	assert.Equal(t, "AUTOMATION_SUCCESS", body["type"])
	assert.Equal(t, "200", body["amount"])
	assert.Equal(t, txID.String(), body["related_transaction_id"])
}

func TestPublisher_EmitFailureIsReturned(t *testing.T) {
	ch := new(MockChannel)
	ch.On("ExchangeDeclare", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	ch.On("PublishWithContext", mock.Anything, mock.Anything, "n.failed", mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("channel closed"))

	publisher, err := NewPublisher(ch, "x", "n", nil)
	require.NoError(t, err)

	err = publisher.Emit(context.Background(), domain.Notification{ID: uuid.New(), Type: domain.NotificationAutomationFailed})
	assert.Error(t, err)
}
