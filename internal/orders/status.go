package orders

import (
	"strings"

	"rule_trader/internal/broker"
	"rule_trader/internal/models"
)

var brokerStates = map[string]models.OrderState{
	"COMPLETE":        models.StateCompleted,
	"REJECTED":        models.StateRejected,
	"CANCELLED":       models.StateCancelled,
	"OPEN":            models.StateOpen,
	"TRIGGER PENDING": models.StateTriggerPending,
	"MODIFY PENDING":  models.StateModifyPendingAtExchange,
	"CANCEL PENDING":  models.StateCancellationPendingAtExchange,
	"OPEN PENDING":    models.StatePendingAtExchange,
}

// MapStatus переводит статус брокера в локальное состояние. Неизвестное: unknown.
func MapStatus(status string) models.OrderState {
	if s, ok := brokerStates[strings.ToUpper(strings.TrimSpace(status))]; ok {
		return s
	}
	return models.StateUnknown
}

// applySnapshot переносит последнюю запись истории брокера в заявку.
func applySnapshot(o *models.Order, s broker.Snapshot) {
	if s.OrderID != "" {
		o.BrokerOrderID = s.OrderID
	}
	o.ExchangeOrderID = s.ExchangeOrderID
	o.ParentOrderID = s.ParentOrderID
	o.BrokerStatus = s.Status
	o.State = MapStatus(s.Status)
	o.StatusMessage = s.StatusMessage
	o.StatusMessageRaw = s.StatusMessageRaw

	o.OrderTimestamp = s.OrderTimestamp.Ptr()
	o.ExchangeTimestamp = s.ExchangeTimestamp.Ptr()
	o.ExchangeUpdateTimestamp = s.ExchangeUpdateTimestamp.Ptr()

	if s.OrderType != "" {
		o.OrderType = s.OrderType
	}
	if s.Validity != "" {
		o.Validity = s.Validity
	}
	o.Price = s.Price
	o.TriggerPrice = s.TriggerPrice
	o.AveragePrice = s.AveragePrice
	o.Quantity = s.Quantity
	o.DisclosedQuantity = s.DisclosedQuantity
	o.FilledQuantity = s.FilledQuantity
	o.PendingQuantity = s.PendingQuantity
	o.CancelledQuantity = s.CancelledQuantity
}
