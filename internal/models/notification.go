package models

import "time"

type NotificationType string

const (
	NotificationTabCreated      NotificationType = "TAB_CREATED"
	NotificationTabUpdated      NotificationType = "TAB_UPDATED"
	NotificationPaymentReceived NotificationType = "PAYMENT_RECEIVED"
	NotificationPaymentReminder NotificationType = "PAYMENT_REMINDER"
	NotificationTabSettled      NotificationType = "TAB_SETTLED"
)

// Notification is the payload published on a user's channel
type Notification struct {
	ID        string           `json:"id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	Data      map[string]any   `json:"data,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}

// Email is a queued outbound message
type Email struct {
	To       string         `json:"to"`
	Subject  string         `json:"subject"`
	Template string         `json:"template"`
	Data     map[string]any `json:"data,omitempty"`
}
