package orders

import (
	"context"
	"fmt"

	"rule_trader/internal/broker"
	"rule_trader/internal/models"

	"github.com/google/uuid"
)

const simulatedPrefix = "SIM-"

// simulateEntry исполняет entry сразу по цене заявки, брокер не вызывается.
func (s *Service) simulateEntry(ctx context.Context, o *models.Order) error {
	now := s.now()
	o.BrokerOrderID = simulatedPrefix + uuid.NewString()
	o.BrokerStatus = "COMPLETE"
	o.State = models.StateCompleted
	o.FilledQuantity = o.Quantity
	o.PendingQuantity = 0
	o.AveragePrice = o.Price
	o.OrderTimestamp = &now
	if err := s.orders.Update(ctx, o); err != nil {
		return err
	}
	s.notify(ctx, o, fmt.Sprintf("Simulating order for %s. Entry Price: %s", o.TradingSymbol, o.Price.StringFixed(2)))
	s.enqueueExitScan(o.ID)
	return nil
}

// simulateExit оставляет стоп лежать до выхода по правилу.
func (s *Service) simulateExit(ctx context.Context, o *models.Order) error {
	now := s.now()
	o.BrokerOrderID = simulatedPrefix + uuid.NewString()
	o.BrokerStatus = "TRIGGER PENDING"
	o.State = models.StateTriggerPending
	o.PendingQuantity = o.Quantity
	o.OrderTimestamp = &now
	return s.orders.Update(ctx, o)
}

// simulateModify применяет изменения локально; лимитный exit исполняется по своей цене.
func (s *Service) simulateModify(ctx context.Context, o *models.Order, changes broker.ModifyParams) error {
	applyChanges(o, changes)
	if o.Exit() && o.OrderType == models.OrderTypeLimit && !o.State.Terminal() {
		now := s.now()
		o.BrokerStatus = "COMPLETE"
		o.State = models.StateCompleted
		o.FilledQuantity = o.Quantity
		o.PendingQuantity = 0
		o.AveragePrice = o.Price
		o.ExchangeUpdateTimestamp = &now
	}
	return s.orders.Update(ctx, o)
}
