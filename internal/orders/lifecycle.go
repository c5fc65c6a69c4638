// Package orders ведет пары entry/exit заявок: размещение, сверку с брокером,
// трейлинг стопа и разбор postback.
package orders

import (
	"context"
	"fmt"
	"time"

	"rule_trader/internal/broker"
	"rule_trader/internal/helper"
	"rule_trader/internal/indicator"
	"rule_trader/internal/models"
	"rule_trader/internal/rules"
	"rule_trader/internal/scheduler"
	"rule_trader/pkg/logger"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type Store interface {
	Get(ctx context.Context, id int64) (*models.Order, error)
	ActiveExitFor(ctx context.Context, entryID int64) (*models.Order, error)
	ByBrokerOrderID(ctx context.Context, userID int64, brokerOrderID string) (*models.Order, error)
	Create(ctx context.Context, o *models.Order) error
	Update(ctx context.Context, o *models.Order) error
	Discard(ctx context.Context, id int64, at time.Time) error
}

type Strategies interface {
	Get(ctx context.Context, id int64) (*models.Strategy, error)
	AppendClosedOrder(ctx context.Context, id, orderID int64) error
}

type Instruments interface {
	Get(ctx context.Context, id int64) (models.Instrument, error)
}

type Prices interface {
	LTP(ctx context.Context, inst models.Instrument) (decimal.Decimal, error)
}

// ExitMatcher проверяет exit-правило на одном инструменте.
type ExitMatcher interface {
	MatchIDs(ctx context.Context, prog *rules.Program, ids []int64) ([]int64, error)
}

type Notifier interface {
	Notify(ctx context.Context, n models.Notification)
}

type Enqueuer interface {
	EnqueueNow(key scheduler.Key, flags scheduler.Flags) error
}

// ResolverPrices берет ltp так же, как его видят правила.
type ResolverPrices struct {
	Resolver *indicator.Resolver
}

func (r ResolverPrices) LTP(ctx context.Context, inst models.Instrument) (decimal.Decimal, error) {
	return r.Resolver.Pass(ctx, inst).LTP()
}

type Deps struct {
	Orders      Store
	Strategies  Strategies
	Instruments Instruments
	Prices      Prices
	Brokers     broker.Factory
	Matcher     ExitMatcher
	Notifier    Notifier
	Jobs        Enqueuer
}

type Service struct {
	orders      Store
	strategies  Strategies
	instruments Instruments
	prices      Prices
	brokers     broker.Factory
	matcher     ExitMatcher
	notifier    Notifier
	jobs        Enqueuer
	pricing     Pricing
	now         func() time.Time
}

func NewService(d Deps, pricing Pricing) *Service {
	return &Service{
		orders:      d.Orders,
		strategies:  d.Strategies,
		instruments: d.Instruments,
		prices:      d.Prices,
		brokers:     d.Brokers,
		matcher:     d.Matcher,
		notifier:    d.Notifier,
		jobs:        d.Jobs,
		pricing:     pricing.withDefaults(),
		now:         time.Now,
	}
}

func (s *Service) Pricing() Pricing { return s.pricing }

// InitiateEntry создает и отправляет entry-заявку по совпавшему правилу.
// Отказ брокера не ошибка вызова: он записан в заявке, ошибка возвращается только для лога.
func (s *Service) InitiateEntry(ctx context.Context, st *models.Strategy, inst models.Instrument) (*models.Order, error) {
	ltp, err := s.prices.LTP(ctx, inst)
	if err != nil {
		return nil, errors.Wrapf(err, "ltp instrument=%d", inst.ID)
	}
	price := EntryPrice(ltp, inst.TickSize)

	o := &models.Order{
		UserID:          st.UserID,
		StrategyID:      st.ID,
		InstrumentID:    inst.ID,
		TradeAction:     models.TradeEntry,
		State:           models.StatePendingAtExchange,
		TradingSymbol:   inst.TradingSymbol,
		Exchange:        inst.Exchange,
		Variety:         s.pricing.Variety,
		OrderType:       s.pricing.EntryType,
		Product:         s.pricing.Product,
		Validity:        s.pricing.EntryValidity,
		TransactionType: models.SideBuy,
		Quantity:        s.pricing.Quantity,
		QuoteLTP:        ltp,
		Price:           price,
		TriggerPrice:    price,
		GUID:            uuid.NewString(),
		Tag:             helper.OrderTag(st.ID),
		Simulated:       st.OnlySimulate || s.pricing.SimulateAll,
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, err
	}

	if o.Simulated {
		return o, s.simulateEntry(ctx, o)
	}
	if err := s.place(ctx, o); err != nil {
		return o, err
	}
	s.notify(ctx, o, fmt.Sprintf("Placing order for %s. Entry Price: %s", o.TradingSymbol, o.Price.StringFixed(2)))
	// postback тоже поставит сверку; дубль отклонит планировщик
	s.enqueueExitScan(o.ID)
	return o, nil
}

// buildExit собирает начальную стоп-заявку на закрытие исполненного объема.
func (s *Service) buildExit(entry *models.Order) *models.Order {
	trigger, limit := s.pricing.StopPrices(entry.EntryPrice())
	return &models.Order{
		UserID:          entry.UserID,
		StrategyID:      entry.StrategyID,
		InstrumentID:    entry.InstrumentID,
		TradeAction:     models.TradeExit,
		EntryOrderID:    entry.ID,
		State:           models.StatePendingAtExchange,
		TradingSymbol:   entry.TradingSymbol,
		Exchange:        entry.Exchange,
		Variety:         entry.Variety,
		OrderType:       models.OrderTypeSL,
		Product:         entry.Product,
		Validity:        s.pricing.ExitValidity,
		TransactionType: entry.TransactionType.Opposite(),
		Quantity:        entry.FilledQuantity,
		Price:           limit,
		TriggerPrice:    trigger,
		GUID:            uuid.NewString(),
		Tag:             entry.Tag,
		Simulated:       entry.Simulated,
	}
}

func (s *Service) pushExit(ctx context.Context, o *models.Order) error {
	if o.Simulated {
		return s.simulateExit(ctx, o)
	}
	return s.place(ctx, o)
}

func placeParams(o *models.Order) broker.PlaceParams {
	return broker.PlaceParams{
		Variety:           o.Variety,
		Exchange:          o.Exchange,
		TradingSymbol:     o.TradingSymbol,
		TransactionType:   string(o.TransactionType),
		OrderType:         o.OrderType,
		Product:           o.Product,
		Validity:          o.Validity,
		ValidityTTL:       o.ValidityTTL,
		Quantity:          o.Quantity,
		DisclosedQuantity: o.DisclosedQuantity,
		Price:             o.Price,
		TriggerPrice:      o.TriggerPrice,
		Tag:               o.Tag,
	}
}

// place отправляет заявку брокеру. Отказ записывается в заявку как status error/failed.
func (s *Service) place(ctx context.Context, o *models.Order) error {
	b, err := s.brokers.ForUser(ctx, o.UserID)
	if err != nil {
		return s.placementFailed(ctx, o, models.BrokerStatusFailed, err.Error(), "")
	}
	resp, err := b.PlaceOrder(ctx, placeParams(o))
	switch {
	case err != nil:
		return s.placementFailed(ctx, o, models.BrokerStatusFailed, err.Error(), "")
	case !resp.OK():
		return s.placementFailed(ctx, o, models.BrokerStatusError, resp.Message, resp.ErrorType)
	}

	o.BrokerOrderID = resp.OrderID
	return s.orders.Update(ctx, o)
}

func (s *Service) placementFailed(ctx context.Context, o *models.Order, status, message, raw string) error {
	o.BrokerStatus = status
	o.StatusMessage = message
	o.StatusMessageRaw = raw
	if err := s.orders.Update(ctx, o); err != nil {
		logger.Error("order %d: save placement failure: %v", o.ID, err)
	}
	s.notify(ctx, o, fmt.Sprintf("Order for %s failed: %s", o.TradingSymbol, message))
	return errors.Errorf("place %s order %d: %s", o.TradeAction, o.ID, message)
}

// refresh подтягивает последнюю запись истории брокера.
func (s *Service) refresh(ctx context.Context, o *models.Order) error {
	if o.Simulated || o.BrokerOrderID == "" {
		return nil
	}
	b, err := s.brokers.ForUser(ctx, o.UserID)
	if err != nil {
		return err
	}
	return s.refreshWith(ctx, b, o)
}

func (s *Service) refreshWith(ctx context.Context, b broker.Broker, o *models.Order) error {
	history, err := b.OrderHistory(ctx, o.BrokerOrderID)
	if err != nil {
		return errors.Wrapf(err, "order %d history", o.ID)
	}
	if len(history) == 0 {
		return nil
	}
	applySnapshot(o, history[len(history)-1])
	return s.orders.Update(ctx, o)
}

// Modify меняет живую заявку. При отказе брокера из-за лимита модификаций
// заявка отменяется и заменяется новой exit-заявкой; тогда reinitiated=true.
func (s *Service) Modify(ctx context.Context, o *models.Order, changes broker.ModifyParams) (reinitiated bool, err error) {
	if changes.Empty() {
		return false, nil
	}
	if o.Simulated {
		return false, s.simulateModify(ctx, o, changes)
	}

	b, err := s.brokers.ForUser(ctx, o.UserID)
	if err != nil {
		return false, err
	}
	changes.Variety = o.Variety
	changes.OrderID = o.BrokerOrderID

	resp, err := b.ModifyOrder(ctx, changes)
	if err != nil {
		o.StatusMessage = err.Error()
		if uerr := s.orders.Update(ctx, o); uerr != nil {
			logger.Error("order %d: %v", o.ID, uerr)
		}
		return false, errors.Wrapf(err, "modify order %d", o.ID)
	}
	if resp.ModificationLimitExceeded() {
		logger.Info("order %d: modification limit reached, rolling exit", o.ID)
		return s.cancelAndReinitiate(ctx, b, o, changes)
	}
	if !resp.OK() {
		o.StatusMessage = resp.Message
		o.StatusMessageRaw = resp.ErrorType
		if uerr := s.orders.Update(ctx, o); uerr != nil {
			logger.Error("order %d: %v", o.ID, uerr)
		}
		return false, errors.Errorf("modify order %d rejected: %s", o.ID, resp.Message)
	}

	applyChanges(o, changes)
	if err := s.refreshWith(ctx, b, o); err != nil {
		logger.Warn("order %d: refresh after modify: %v", o.ID, err)
	}
	return false, s.orders.Update(ctx, o)
}

func applyChanges(o *models.Order, c broker.ModifyParams) {
	if c.Quantity != nil {
		o.Quantity = *c.Quantity
	}
	if c.Price != nil {
		o.Price = *c.Price
	}
	if c.TriggerPrice != nil {
		o.TriggerPrice = *c.TriggerPrice
	}
	if c.OrderType != "" {
		o.OrderType = c.OrderType
	}
	if c.Validity != "" {
		o.Validity = c.Validity
	}
}

func (s *Service) cancelAndReinitiate(ctx context.Context, b broker.Broker, exit *models.Order, changes broker.ModifyParams) (bool, error) {
	if err := s.refreshWith(ctx, b, exit); err != nil {
		return false, err
	}
	if exit.State != models.StateCancelled {
		resp, err := b.CancelOrder(ctx, broker.CancelParams{Variety: exit.Variety, OrderID: exit.BrokerOrderID})
		if err != nil {
			return false, errors.Wrapf(err, "cancel order %d", exit.ID)
		}
		if !resp.OK() {
			return false, errors.Errorf("cancel order %d rejected: %s", exit.ID, resp.Message)
		}
		if err := s.refreshWith(ctx, b, exit); err != nil {
			return false, err
		}
	}
	if exit.State != models.StateCancelled {
		logger.Warn("order %d: cancel not confirmed yet, state=%s", exit.ID, exit.State)
		return false, nil
	}
	return s.reinitiate(ctx, exit, changes)
}

// reinitiate убирает отмененный exit и ставит вместо него новый с теми
// параметрами стопа, которые не удалось применить.
func (s *Service) reinitiate(ctx context.Context, exit *models.Order, changes broker.ModifyParams) (bool, error) {
	entry, err := s.orders.Get(ctx, exit.EntryOrderID)
	if err != nil {
		return false, err
	}
	now := s.now()
	if err := s.orders.Discard(ctx, exit.ID, now); err != nil {
		return false, err
	}
	exit.DiscardedAt = &now

	next := s.buildExit(entry)
	applyChanges(next, changes)
	if err := s.orders.Create(ctx, next); err != nil {
		return false, err
	}
	if err := s.pushExit(ctx, next); err != nil {
		logger.Error("order %d: replacement exit: %v", entry.ID, err)
	}
	s.notify(ctx, next, fmt.Sprintf("Trailing stop re-initiated for %s", next.TradingSymbol))
	s.enqueueExitScan(entry.ID)
	return true, nil
}

// ExitAtCurrentPrice переводит exit в лимитку у текущей цены.
func (s *Service) ExitAtCurrentPrice(ctx context.Context, exit *models.Order) (bool, error) {
	if exit.Entry() || exit.State == models.StateCompleted || exit.State == models.StateCancelled {
		return false, nil
	}
	inst, err := s.instruments.Get(ctx, exit.InstrumentID)
	if err != nil {
		return false, err
	}
	ltp, err := s.prices.LTP(ctx, inst)
	if err != nil {
		return false, errors.Wrapf(err, "ltp instrument=%d", inst.ID)
	}
	price := s.pricing.ExitPrice(exit.TransactionType, ltp, inst.TickSize)

	reinitiated, err := s.Modify(ctx, exit, broker.ModifyParams{
		Price:        broker.Decimal(price),
		TriggerPrice: broker.Decimal(decimal.Zero),
		OrderType:    models.OrderTypeLimit,
	})
	if err != nil {
		return false, err
	}
	s.notify(ctx, exit, fmt.Sprintf("Exiting %s at %s", exit.TradingSymbol, price.StringFixed(2)))
	return reinitiated, nil
}

func (s *Service) notify(ctx context.Context, o *models.Order, msg string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, models.Notification{
		EventID:  uuid.NewString(),
		UserID:   o.UserID,
		ItemType: models.ItemOrder,
		ItemID:   o.ID,
		Message:  msg,
		Status:   models.NotificationSent,
	})
}

func (s *Service) enqueueExitScan(entryID int64) {
	if s.jobs == nil {
		return
	}
	err := s.jobs.EnqueueNow(scheduler.Key{Kind: scheduler.KindExitScan, ID: entryID}, scheduler.Flags{})
	if err != nil && !errors.Is(err, scheduler.ErrConflict) {
		logger.Error("enqueue exit scan entry=%d: %v", entryID, err)
	}
}
