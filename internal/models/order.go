package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TradeAction int

const (
	TradeEntry TradeAction = 1
	TradeExit  TradeAction = 2
)

func (a TradeAction) String() string {
	if a == TradeExit {
		return "exit"
	}
	return "entry"
}

// OrderState это локальное состояние заявки.
type OrderState string

const (
	StatePendingAtExchange             OrderState = "pending_at_exchange"
	StateTriggerPending                OrderState = "trigger_pending"
	StateOpen                          OrderState = "open"
	StateModifyPendingAtExchange       OrderState = "modify_pending_at_exchange"
	StateCancellationPendingAtExchange OrderState = "cancellation_pending_at_exchange"
	StateCompleted                     OrderState = "completed"
	StateRejected                      OrderState = "rejected"
	StateCancelled                     OrderState = "cancelled"
	StateUnknown                       OrderState = "unknown"
)

func (s OrderState) Terminal() bool {
	return s == StateCompleted || s == StateRejected || s == StateCancelled
}

// Side как у брокера: "BUY"/"SELL".
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

const (
	OrderTypeMarket = "MARKET"
	OrderTypeLimit  = "LIMIT"
	OrderTypeSL     = "SL"
	OrderTypeSLM    = "SL-M"
)

// Статусы брокера, которые пишет сам движок при ошибке размещения.
const (
	BrokerStatusError  = "error"
	BrokerStatusFailed = "failed"
)

type Order struct {
	ID           int64
	UserID       int64
	StrategyID   int64
	InstrumentID int64
	TradeAction  TradeAction
	EntryOrderID int64 // только у exit

	BrokerOrderID    string
	ExchangeOrderID  string
	ParentOrderID    string
	BrokerStatus     string
	State            OrderState
	StatusMessage    string
	StatusMessageRaw string

	TradingSymbol     string
	Exchange          string
	Variety           string
	OrderType         string
	Product           string
	Validity          string
	ValidityTTL       int
	TransactionType   Side
	Quantity          int
	DisclosedQuantity int
	FilledQuantity    int
	PendingQuantity   int
	CancelledQuantity int

	QuoteLTP     decimal.Decimal
	Price        decimal.Decimal
	TriggerPrice decimal.Decimal
	AveragePrice decimal.Decimal

	OrderTimestamp          *time.Time
	ExchangeTimestamp       *time.Time
	ExchangeUpdateTimestamp *time.Time

	GUID        string
	Tag         string
	Meta        map[string]any
	Simulated   bool
	DiscardedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (o *Order) Entry() bool     { return o.TradeAction == TradeEntry }
func (o *Order) Exit() bool      { return o.TradeAction == TradeExit }
func (o *Order) Discarded() bool { return o.DiscardedAt != nil }

func (o *Order) PlacementFailed() bool {
	return o.BrokerStatus == BrokerStatusError || o.BrokerStatus == BrokerStatusFailed
}

// EntryPrice возвращает среднюю цену исполнения, если она есть, иначе цену заявки.
func (o *Order) EntryPrice() decimal.Decimal {
	if o.AveragePrice.IsPositive() {
		return o.AveragePrice
	}
	return o.Price
}
