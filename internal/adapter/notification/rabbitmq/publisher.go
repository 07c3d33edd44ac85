package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/simaogato/wealthflow-automation/internal/domain"
	"github.com/simaogato/wealthflow-automation/internal/logging"
)

// Channel is the part of *amqp.Channel the publisher needs
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher implements domain.NotificationEmitter on a RabbitMQ topic exchange
type Publisher struct {
	channel    Channel
	exchange   string
	routingKey string
	logger     *zap.Logger
}

// notificationMessage is the JSON body of a published notification
type notificationMessage struct {
	ID                   string  `json:"id"`
	UserID               string  `json:"user_id"`
	Type                 string  `json:"type"`
	Title                string  `json:"title"`
	Message              string  `json:"message"`
	Amount               *string `json:"amount,omitempty"`
	RelatedTransactionID *string `json:"related_transaction_id,omitempty"`
	CreatedAt            string  `json:"created_at"`
}

// NewPublisher declares the exchange and returns a publisher on it
func NewPublisher(channel Channel, exchange, routingKey string, logger *zap.Logger) (*Publisher, error) {
	if err := channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	return &Publisher{
		channel:    channel,
		exchange:   exchange,
		routingKey: routingKey,
		logger:     logging.OrNop(logger).Named("rabbitmq"),
	}, nil
}

// Dial connects to the broker and opens the publisher channel.
// The returned close func closes the channel and the connection.
func Dial(url, exchange, routingKey string, logger *zap.Logger) (*Publisher, func() error, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}

	publisher, err := NewPublisher(ch, exchange, routingKey, logger)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, err
	}

	closeFn := func() error {
		_ = ch.Close()
		return conn.Close()
	}

	return publisher, closeFn, nil
}

// Emit publishes the notification as a persistent JSON message.
// The routing key is suffixed with the lower-cased notification type.
func (p *Publisher) Emit(ctx context.Context, notification domain.Notification) error {
	body, err := json.Marshal(toMessage(notification))
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	routingKey := p.routingKey + "." + routingSuffix(notification.Type)

	err = p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    notification.ID.String(),
		Timestamp:    notification.CreatedAt,
		Type:         string(notification.Type),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish notification %s: %w", notification.ID, err)
	}

	p.logger.Debug("notification published",
		zap.String("notification_id", notification.ID.String()),
		zap.String("routing_key", routingKey),
	)

	return nil
}

func toMessage(n domain.Notification) notificationMessage {
	msg := notificationMessage{
		ID:        n.ID.String(),
		UserID:    n.UserID.String(),
		Type:      string(n.Type),
		Title:     n.Title,
		Message:   n.Message,
		CreatedAt: n.CreatedAt.UTC().Format(time.RFC3339Nano),
	}

	if n.Amount != nil {
		amount := n.Amount.String()
		msg.Amount = &amount
	}
	if n.RelatedTransactionID != nil {
		related := n.RelatedTransactionID.String()
		msg.RelatedTransactionID = &related
	}

	return msg
}

func routingSuffix(t domain.NotificationType) string {
	switch t {
	case domain.NotificationAutomationSuccess:
		return "success"
	case domain.NotificationAutomationFailed:
		return "failed"
	default:
		return "other"
	}
}
