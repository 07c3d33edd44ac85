package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NotificationType represents the kind of user-visible event
type NotificationType string

const (
	NotificationAutomationSuccess NotificationType = "AUTOMATION_SUCCESS"
	NotificationAutomationFailed  NotificationType = "AUTOMATION_FAILED"
)

// notificationNamespace scopes deterministic notification IDs
var notificationNamespace = uuid.MustParse("6f1c52d4-3a8e-4f0b-9a51-2d7c0e9b4a11")

// Notification is a user-visible event derived from a ledger outcome
type Notification struct {
	ID                   uuid.UUID
	UserID               uuid.UUID
	Type                 NotificationType
	Title                string
	Message              string
	Amount               *decimal.Decimal // Optional
	RelatedTransactionID *uuid.UUID       // Optional
	CreatedAt            time.Time
}

// NotificationID derives a stable ID so consumers can drop redelivered events
func NotificationID(notificationType NotificationType, idempotencyKey string) uuid.UUID {
	return uuid.NewSHA1(notificationNamespace, []byte(string(notificationType)+"|"+idempotencyKey))
}
