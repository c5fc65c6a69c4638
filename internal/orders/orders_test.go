package orders

import (
	"context"
	"fmt"
	"testing"

	"rule_trader/internal/broker"
	"rule_trader/internal/models"
	"rule_trader/internal/scheduler"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDec(t *testing.T, want string, got decimal.Decimal, msg ...any) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), append([]any{"want %s got %s", want, got.String()}, msg...)...)
}

func TestMapStatus(t *testing.T) {
	tests := []struct {
		in   string
		want models.OrderState
	}{
		{"COMPLETE", models.StateCompleted},
		{"complete", models.StateCompleted},
		{"REJECTED", models.StateRejected},
		{"CANCELLED", models.StateCancelled},
		{"OPEN", models.StateOpen},
		{"trigger pending", models.StateTriggerPending},
		{"MODIFY PENDING", models.StateModifyPendingAtExchange},
		{"CANCEL PENDING", models.StateCancellationPendingAtExchange},
		{"OPEN PENDING", models.StatePendingAtExchange},
		{"VALIDATION PENDING", models.StateUnknown},
		{"", models.StateUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MapStatus(tt.in), tt.in)
	}
}

func TestPricing(t *testing.T) {
	p := DefaultPricing()

	trigger, limit := p.StopPrices(dec("100.4"))
	assertDec(t, "99", trigger)
	assertDec(t, "92", limit)

	trigger, limit = p.StopPrices(dec("250"))
	assertDec(t, "248", trigger)
	assertDec(t, "230", limit)

	tick := dec("0.05")
	assertDec(t, "99.9", p.ExitPrice(models.SideSell, dec("100"), tick))
	assertDec(t, "100.1", p.ExitPrice(models.SideBuy, dec("100"), tick))
	assertDec(t, "1", p.ExitPrice(models.SideSell, dec("0.05"), tick))

	assertDec(t, "1500.05", EntryPrice(dec("1500"), tick))
}

func TestModificationLimitExceeded(t *testing.T) {
	r := broker.Response{Status: broker.StatusError, Message: "Maximum allowed order modifications exceeded."}
	assert.True(t, r.ModificationLimitExceeded())
	r.Message = "Insufficient funds"
	assert.False(t, r.ModificationLimitExceeded())
	assert.False(t, broker.Response{Status: broker.StatusSuccess, Message: "maximum allowed order modifications exceeded"}.ModificationLimitExceeded())
}

func TestInitiateEntry_Live(t *testing.T) {
	h := newHarness(t, false)
	st, _ := h.strategies.Get(context.Background(), 7)

	o, err := h.svc.InitiateEntry(context.Background(), st, h.inst)
	require.NoError(t, err)

	got := h.orders.row(o.ID)
	assert.Equal(t, "B1", got.BrokerOrderID)
	assert.Equal(t, models.SideBuy, got.TransactionType)
	assert.Equal(t, models.OrderTypeSL, got.OrderType)
	assert.Equal(t, "IOC", got.Validity)
	assert.Equal(t, "MIS", got.Product)
	assert.Equal(t, "regular", got.Variety)
	assert.Equal(t, 1, got.Quantity)
	assertDec(t, "1500.05", got.Price)
	assertDec(t, "1500.05", got.TriggerPrice)
	assertDec(t, "1500", got.QuoteLTP)
	assert.False(t, got.Simulated)

	assert.Equal(t, []string{"Placing order for INFY. Entry Price: 1500.05"}, h.notes.msgs)
	assert.Equal(t, []scheduler.Key{{Kind: scheduler.KindExitScan, ID: o.ID}}, h.jobs.keys)
}

func TestInitiateEntry_PlacementFailures(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(h *harness)
		wantStatus string
		wantMsg    string
	}{
		{
			name: "api rejection",
			setup: func(h *harness) {
				h.broker.placeResp = &broker.Response{Status: broker.StatusError, Message: "Insufficient funds", ErrorType: "MarginException"}
			},
			wantStatus: models.BrokerStatusError,
			wantMsg:    "Insufficient funds",
		},
		{
			name:       "transport",
			setup:      func(h *harness) { h.broker.placeErr = errors.New("dial tcp: i/o timeout") },
			wantStatus: models.BrokerStatusFailed,
			wantMsg:    "dial tcp: i/o timeout",
		},
		{
			name:       "missing configuration",
			setup:      func(h *harness) { h.factory.err = broker.ErrMissingConfiguration },
			wantStatus: models.BrokerStatusFailed,
			wantMsg:    broker.ErrMissingConfiguration.Error(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, false)
			tt.setup(h)
			st, _ := h.strategies.Get(context.Background(), 7)

			o, err := h.svc.InitiateEntry(context.Background(), st, h.inst)
			require.Error(t, err)
			require.NotNil(t, o)

			got := h.orders.row(o.ID)
			assert.Equal(t, tt.wantStatus, got.BrokerStatus)
			assert.Equal(t, tt.wantMsg, got.StatusMessage)
			assert.True(t, got.PlacementFailed())
			assert.Equal(t, []string{fmt.Sprintf("Order for INFY failed: %s", tt.wantMsg)}, h.notes.msgs)
			assert.Empty(t, h.jobs.keys)
		})
	}
}

func TestInitiateEntry_SimulateAllOverridesStrategy(t *testing.T) {
	h := newHarness(t, false)
	h.svc.pricing.SimulateAll = true
	h.factory.err = errors.New("broker must not be used")
	st, _ := h.strategies.Get(context.Background(), 7)

	o, err := h.svc.InitiateEntry(context.Background(), st, h.inst)
	require.NoError(t, err)

	got := h.orders.row(o.ID)
	assert.True(t, got.Simulated)
	assert.Equal(t, models.StateCompleted, got.State)
	assert.Empty(t, h.broker.calls)
}

func TestInitiateEntry_Simulated(t *testing.T) {
	h := newHarness(t, true)
	h.factory.err = errors.New("broker must not be used")
	st, _ := h.strategies.Get(context.Background(), 7)

	o, err := h.svc.InitiateEntry(context.Background(), st, h.inst)
	require.NoError(t, err)

	got := h.orders.row(o.ID)
	assert.True(t, got.Simulated)
	assert.Contains(t, got.BrokerOrderID, "SIM-")
	assert.Equal(t, models.StateCompleted, got.State)
	assert.Equal(t, 1, got.FilledQuantity)
	assertDec(t, "1500.05", got.AveragePrice)
	assert.Empty(t, h.broker.calls)
	assert.Equal(t, []string{"Simulating order for INFY. Entry Price: 1500.05"}, h.notes.msgs)
	assert.Equal(t, []scheduler.Key{{Kind: scheduler.KindExitScan, ID: o.ID}}, h.jobs.keys)
}

func TestReconcile_CreatesExitAndWaits(t *testing.T) {
	h := newHarness(t, false)
	entry := h.filledEntry()

	retry, err := h.svc.Reconcile(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.True(t, retry)

	exit, err := h.orders.ActiveExitFor(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SideSell, exit.TransactionType)
	assert.Equal(t, models.OrderTypeSL, exit.OrderType)
	assert.Equal(t, "DAY", exit.Validity)
	assert.Equal(t, 1, exit.Quantity)
	assertDec(t, "99", exit.TriggerPrice)
	assertDec(t, "92", exit.Price)
	assert.Equal(t, "B1", exit.BrokerOrderID)

	retry, err = h.svc.Reconcile(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.True(t, retry)
	assert.Equal(t, 1, h.broker.called("place"), "exit is placed once")
}

func TestReconcile_UnfilledEntry(t *testing.T) {
	h := newHarness(t, false)
	entry := h.orders.put(models.Order{
		UserID: 3, StrategyID: 7, InstrumentID: h.inst.ID, TradeAction: models.TradeEntry,
		BrokerOrderID: "E9", State: models.StatePendingAtExchange, TransactionType: models.SideBuy, Quantity: 1,
	})
	h.broker.book["E9"] = &broker.Snapshot{OrderID: "E9", Status: "OPEN", Quantity: 1, PendingQuantity: 1}

	retry, err := h.svc.Reconcile(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.True(t, retry)
	assert.Equal(t, models.StateOpen, h.orders.row(entry.ID).State)

	h.broker.book["E9"].Status = "CANCELLED"
	retry, err = h.svc.Reconcile(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.False(t, retry, "cancelled without fill, nothing to exit")
	_, err = h.orders.ActiveExitFor(context.Background(), entry.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestReconcile_ExitRuleMatchExitsAtMarket(t *testing.T) {
	h := newHarness(t, false)
	entry := h.filledEntry()
	_, err := h.svc.Reconcile(context.Background(), entry.ID)
	require.NoError(t, err)

	h.matcher.match = true
	retry, err := h.svc.Reconcile(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.False(t, retry)

	exit, err := h.orders.ActiveExitFor(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderTypeLimit, exit.OrderType)
	assertDec(t, "1499.9", exit.Price)
	assertDec(t, "0", exit.TriggerPrice)
	assert.Contains(t, h.notes.msgs, "Exiting INFY at 1499.90")
}

func TestReconcile_ModificationLimitRollsExit(t *testing.T) {
	h := newHarness(t, false)
	entry := h.filledEntry()
	_, err := h.svc.Reconcile(context.Background(), entry.ID)
	require.NoError(t, err)
	first, err := h.orders.ActiveExitFor(context.Background(), entry.ID)
	require.NoError(t, err)

	h.matcher.match = true
	h.broker.modifyResp = &broker.Response{Status: broker.StatusError, Message: "Maximum allowed order modifications exceeded", ErrorType: "InputException"}

	retry, err := h.svc.Reconcile(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.True(t, retry, "replacement must be monitored")
	assert.Equal(t, 1, h.broker.called("cancel"))

	old := h.orders.row(first.ID)
	assert.True(t, old.Discarded())
	assert.Equal(t, models.StateCancelled, old.State)

	next, err := h.orders.ActiveExitFor(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, next.ID)
	assert.Equal(t, "B2", next.BrokerOrderID)
	assert.Equal(t, models.OrderTypeLimit, next.OrderType)
	assertDec(t, "1499.9", next.Price)
	assertDec(t, "0", next.TriggerPrice)
	assert.Equal(t, 1, next.Quantity)
	assert.Contains(t, h.notes.msgs, "Trailing stop re-initiated for INFY")
}

func TestReconcile_TerminalExitStops(t *testing.T) {
	h := newHarness(t, false)
	entry := h.filledEntry()
	exit := h.orders.put(models.Order{
		UserID: 3, StrategyID: 7, InstrumentID: h.inst.ID, TradeAction: models.TradeExit, EntryOrderID: entry.ID,
		BrokerOrderID: "X1", State: models.StateCompleted, TransactionType: models.SideSell, Quantity: 1,
	})

	retry, err := h.svc.Reconcile(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.False(t, retry)
	assert.Equal(t, []int64{exit.ID}, h.strategies.closed)
	assert.Empty(t, h.broker.calls)
}

func TestReconcile_FailedExitIsRetried(t *testing.T) {
	h := newHarness(t, false)
	entry := h.filledEntry()
	h.broker.placeResp = &broker.Response{Status: broker.StatusError, Message: "RMS rejected"}

	retry, err := h.svc.Reconcile(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.True(t, retry)
	failed, err := h.orders.ActiveExitFor(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.True(t, failed.PlacementFailed())

	h.broker.placeResp = nil
	retry, err = h.svc.Reconcile(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.True(t, retry)
	discarded := h.orders.row(failed.ID)
	assert.True(t, discarded.Discarded())

	_, err = h.svc.Reconcile(context.Background(), entry.ID)
	require.NoError(t, err)
	next, err := h.orders.ActiveExitFor(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.False(t, next.PlacementFailed())
	assert.NotEmpty(t, next.BrokerOrderID)
}

func TestReconcile_SimulatedRoundTrip(t *testing.T) {
	h := newHarness(t, true)
	h.factory.err = errors.New("broker must not be used")
	st, _ := h.strategies.Get(context.Background(), 7)
	entry, err := h.svc.InitiateEntry(context.Background(), st, h.inst)
	require.NoError(t, err)

	retry, err := h.svc.Reconcile(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.True(t, retry)
	exit, err := h.orders.ActiveExitFor(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateTriggerPending, exit.State)
	assert.True(t, exit.Simulated)

	h.matcher.match = true
	retry, err = h.svc.Reconcile(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.False(t, retry)

	done := h.orders.row(exit.ID)
	assert.Equal(t, models.StateCompleted, done.State)
	assertDec(t, "1499.9", done.AveragePrice)
	assert.Equal(t, []int64{exit.ID}, h.strategies.closed)
	assert.Empty(t, h.broker.calls)
}

func TestReconcile_MissingEntry(t *testing.T) {
	h := newHarness(t, false)
	retry, err := h.svc.Reconcile(context.Background(), 404)
	require.NoError(t, err)
	assert.False(t, retry)
}

func TestExitAtCurrentPrice_SkipsEntryAndClosedOrders(t *testing.T) {
	h := newHarness(t, false)
	entry := h.filledEntry()

	reinit, err := h.svc.ExitAtCurrentPrice(context.Background(), entry)
	require.NoError(t, err)
	assert.False(t, reinit)

	cancelled := &models.Order{TradeAction: models.TradeExit, State: models.StateCancelled}
	_, err = h.svc.ExitAtCurrentPrice(context.Background(), cancelled)
	require.NoError(t, err)
	assert.Empty(t, h.broker.calls)
}
