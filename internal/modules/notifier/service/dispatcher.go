package service

import (
	"context"

	"rule_trader/internal/models"
	"rule_trader/pkg/logger"

	"github.com/google/uuid"
)

type Store interface {
	Create(ctx context.Context, n *models.Notification) error
}

// Sink описывает внешний канал доставки. Ошибка одного канала не мешает остальным.
type Sink interface {
	Name() string
	Send(ctx context.Context, e Event) error
}

// Dispatcher сохраняет уведомление и раздает его по каналам.
type Dispatcher struct {
	store Store
	sinks []Sink
}

func NewDispatcher(store Store, sinks ...Sink) *Dispatcher {
	return &Dispatcher{store: store, sinks: sinks}
}

func (d *Dispatcher) Notify(ctx context.Context, n models.Notification) {
	if n.EventID == "" {
		n.EventID = uuid.NewString()
	}
	if n.Status == "" {
		n.Status = models.NotificationSent
	}
	if d.store != nil {
		if err := d.store.Create(ctx, &n); err != nil {
			logger.Error("notification %s user=%d: %v", n.EventID, n.UserID, err)
		}
	}

	e := NewEvent(n)
	for _, s := range d.sinks {
		if err := s.Send(ctx, e); err != nil {
			logger.Warn("notification %s: sink %s: %v", e.EventID, s.Name(), err)
		}
	}
}
