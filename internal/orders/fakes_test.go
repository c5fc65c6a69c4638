package orders

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"rule_trader/internal/broker"
	"rule_trader/internal/models"
	"rule_trader/internal/rules"
	"rule_trader/internal/scheduler"

	"github.com/shopspring/decimal"
)

type memOrders struct {
	mu   sync.Mutex
	seq  int64
	rows map[int64]models.Order
}

func newMemOrders() *memOrders { return &memOrders{rows: make(map[int64]models.Order)} }

func (m *memOrders) Get(_ context.Context, id int64) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.rows[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &o, nil
}

func (m *memOrders) ActiveExitFor(_ context.Context, entryID int64) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for id, o := range m.rows {
		if o.Exit() && o.EntryOrderID == entryID && !o.Discarded() {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, models.ErrNotFound
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	o := m.rows[ids[0]]
	return &o, nil
}

func (m *memOrders) ByBrokerOrderID(_ context.Context, userID int64, brokerOrderID string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.rows {
		if o.UserID == userID && o.BrokerOrderID == brokerOrderID && !o.Discarded() {
			return &o, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *memOrders) Create(_ context.Context, o *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	o.ID = m.seq
	m.rows[o.ID] = *o
	return nil
}

func (m *memOrders) Update(_ context.Context, o *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[o.ID]; !ok {
		return models.ErrNotFound
	}
	m.rows[o.ID] = *o
	return nil
}

func (m *memOrders) Discard(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.rows[id]
	o.DiscardedAt = &at
	m.rows[id] = o
	return nil
}

func (m *memOrders) put(o models.Order) *models.Order {
	_ = m.Create(context.Background(), &o)
	return &o
}

func (m *memOrders) row(id int64) models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[id]
}

type memStrategies struct {
	mu     sync.Mutex
	st     models.Strategy
	closed []int64
}

func (m *memStrategies) Get(_ context.Context, id int64) (*models.Strategy, error) {
	if id != m.st.ID {
		return nil, models.ErrNotFound
	}
	cp := m.st
	return &cp, nil
}

func (m *memStrategies) AppendClosedOrder(_ context.Context, _, orderID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = append(m.closed, orderID)
	return nil
}

type fixedInstruments map[int64]models.Instrument

func (f fixedInstruments) Get(_ context.Context, id int64) (models.Instrument, error) {
	inst, ok := f[id]
	if !ok {
		return models.Instrument{}, models.ErrNotFound
	}
	return inst, nil
}

type fixedPrices map[int64]decimal.Decimal

func (f fixedPrices) LTP(_ context.Context, inst models.Instrument) (decimal.Decimal, error) {
	return f[inst.ID], nil
}

type fakeMatcher struct{ match bool }

func (f *fakeMatcher) MatchIDs(_ context.Context, _ *rules.Program, ids []int64) ([]int64, error) {
	if f.match {
		return ids, nil
	}
	return nil, nil
}

type notes struct {
	mu   sync.Mutex
	msgs []string
}

func (n *notes) Notify(_ context.Context, note models.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, note.Message)
}

type jobs struct {
	mu   sync.Mutex
	keys []scheduler.Key
}

func (j *jobs) EnqueueNow(key scheduler.Key, _ scheduler.Flags) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.keys = append(j.keys, key)
	return nil
}

// fakeBroker держит книгу заявок, так что история отражает модификации.
type fakeBroker struct {
	mu          sync.Mutex
	seq         int
	book        map[string]*broker.Snapshot
	placeStatus string
	placeResp   *broker.Response
	placeErr    error
	modifyResp  *broker.Response
	calls       []string
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{book: make(map[string]*broker.Snapshot), placeStatus: "TRIGGER PENDING"}
}

func (b *fakeBroker) PlaceOrder(_ context.Context, p broker.PlaceParams) (broker.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, "place")
	if b.placeErr != nil {
		return broker.Response{}, b.placeErr
	}
	if b.placeResp != nil {
		return *b.placeResp, nil
	}
	b.seq++
	id := fmt.Sprintf("B%d", b.seq)
	b.book[id] = &broker.Snapshot{
		OrderID:         id,
		Status:          b.placeStatus,
		OrderType:       p.OrderType,
		Validity:        p.Validity,
		TransactionType: p.TransactionType,
		Quantity:        p.Quantity,
		PendingQuantity: p.Quantity,
		Price:           p.Price,
		TriggerPrice:    p.TriggerPrice,
	}
	return broker.Response{Status: broker.StatusSuccess, OrderID: id}, nil
}

func (b *fakeBroker) ModifyOrder(_ context.Context, p broker.ModifyParams) (broker.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, "modify")
	if b.modifyResp != nil {
		return *b.modifyResp, nil
	}
	snap, ok := b.book[p.OrderID]
	if !ok {
		return broker.Response{Status: broker.StatusError, Message: "order not found"}, nil
	}
	if p.Quantity != nil {
		snap.Quantity = *p.Quantity
	}
	if p.Price != nil {
		snap.Price = *p.Price
	}
	if p.TriggerPrice != nil {
		snap.TriggerPrice = *p.TriggerPrice
	}
	if p.OrderType != "" {
		snap.OrderType = p.OrderType
	}
	return broker.Response{Status: broker.StatusSuccess, OrderID: p.OrderID}, nil
}

func (b *fakeBroker) CancelOrder(_ context.Context, p broker.CancelParams) (broker.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, "cancel")
	if snap, ok := b.book[p.OrderID]; ok {
		snap.Status = "CANCELLED"
	}
	return broker.Response{Status: broker.StatusSuccess, OrderID: p.OrderID}, nil
}

func (b *fakeBroker) OrderHistory(_ context.Context, orderID string) ([]broker.Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, "history")
	snap, ok := b.book[orderID]
	if !ok {
		return nil, nil
	}
	return []broker.Snapshot{*snap}, nil
}

func (b *fakeBroker) called(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		if c == name {
			n++
		}
	}
	return n
}

type fakeFactory struct {
	b   *fakeBroker
	err error
}

func (f fakeFactory) ForUser(context.Context, int64) (broker.Broker, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.b, nil
}

type harness struct {
	svc        *Service
	orders     *memOrders
	strategies *memStrategies
	broker     *fakeBroker
	matcher    *fakeMatcher
	notes      *notes
	jobs       *jobs
	factory    *fakeFactory
	inst       models.Instrument
}

var testNow = time.Date(2026, 10, 19, 10, 30, 0, 0, time.UTC)

func newHarness(t *testing.T, simulate bool) *harness {
	t.Helper()
	inst := models.Instrument{
		ID:            10,
		TradingSymbol: "INFY",
		Exchange:      "NSE",
		ExchangeToken: "408065",
		TickSize:      decimal.RequireFromString("0.05"),
		LotSize:       1,
	}
	h := &harness{
		orders: newMemOrders(),
		strategies: &memStrategies{st: models.Strategy{
			ID: 7, UserID: 3, Name: "breakout", Kind: models.SourceInstrumentBased,
			EntryRule: "ltp > 1", ExitRule: "ltp < 1", OnlySimulate: simulate,
		}},
		broker:  newFakeBroker(),
		matcher: &fakeMatcher{},
		notes:   &notes{},
		jobs:    &jobs{},
		inst:    inst,
	}
	h.factory = &fakeFactory{b: h.broker}
	h.svc = NewService(Deps{
		Orders:      h.orders,
		Strategies:  h.strategies,
		Instruments: fixedInstruments{inst.ID: inst},
		Prices:      fixedPrices{inst.ID: decimal.NewFromInt(1500)},
		Brokers:     h.factory,
		Matcher:     h.matcher,
		Notifier:    h.notes,
		Jobs:        h.jobs,
	}, DefaultPricing())
	h.svc.now = func() time.Time { return testNow }
	return h
}

// filledEntry кладет исполненный live entry, который брокер тоже знает.
func (h *harness) filledEntry() *models.Order {
	e := h.orders.put(models.Order{
		UserID: 3, StrategyID: 7, InstrumentID: h.inst.ID, TradeAction: models.TradeEntry,
		BrokerOrderID: "E1", BrokerStatus: "COMPLETE", State: models.StateCompleted,
		TradingSymbol: "INFY", Exchange: "NSE", Variety: "regular", OrderType: models.OrderTypeSL,
		Product: "MIS", Validity: "IOC", TransactionType: models.SideBuy,
		Quantity: 1, FilledQuantity: 1,
		Price: decimal.RequireFromString("100"), AveragePrice: decimal.RequireFromString("100.4"),
	})
	h.broker.book["E1"] = &broker.Snapshot{OrderID: "E1", Status: "COMPLETE", Quantity: 1, FilledQuantity: 1,
		Price: e.Price, AveragePrice: e.AveragePrice, OrderType: e.OrderType, Validity: e.Validity}
	return e
}
