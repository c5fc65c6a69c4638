package service

import (
	"time"

	"rule_trader/internal/models"

	"github.com/bytedance/sonic"
)

// Event хранит уведомление в том виде, в котором оно уходит во внешние каналы.
type Event struct {
	EventID   string    `json:"event_id"`
	UserID    int64     `json:"user_id"`
	ItemType  string    `json:"item_type"`
	ItemID    int64     `json:"item_id"`
	Message   string    `json:"message"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

func NewEvent(n models.Notification) Event {
	created := n.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return Event{
		EventID:   n.EventID,
		UserID:    n.UserID,
		ItemType:  n.ItemType,
		ItemID:    n.ItemID,
		Message:   n.Message,
		Status:    string(n.Status),
		CreatedAt: created,
	}
}

func (e Event) Encode() ([]byte, error) {
	return sonic.Marshal(e)
}
