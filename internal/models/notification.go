package models

import "time"

type NotificationStatus string

const (
	NotificationSent      NotificationStatus = "sent"
	NotificationDelivered NotificationStatus = "delivered"
	NotificationRead      NotificationStatus = "read"
)

const (
	ItemStrategy = "Strategy"
	ItemOrder    = "Order"
	ItemScreener = "Screener"
)

// Notification привязана к сущности через (ItemType, ItemID).
type Notification struct {
	ID        int64
	EventID   string
	UserID    int64
	ItemType  string
	ItemID    int64
	Message   string
	Status    NotificationStatus
	CreatedAt time.Time
}

// APIConfiguration хранит ключи брокера пользователя.
type APIConfiguration struct {
	ID          int64
	UserID      int64
	APIName     string
	APIKey      string
	APISecret   string
	AccessToken string
}
