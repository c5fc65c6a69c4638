package orders

import (
	"rule_trader/internal/helper"
	"rule_trader/internal/models"

	"github.com/shopspring/decimal"
)

// Pricing хранит параметры заявок из конфига.
type Pricing struct {
	Quantity      int
	Variety       string
	EntryType     string
	Product       string
	EntryValidity string
	ExitValidity  string

	StopPct       decimal.Decimal // отступ триггера от цены входа
	LimitPct      decimal.Decimal // отступ лимита от триггера
	ExitTickSteps int64           // сколько тиков от ltp при выходе по рынку

	SimulateAll bool // брокер не вызывается ни для одной стратегии
}

func DefaultPricing() Pricing {
	return Pricing{
		Quantity:      1,
		Variety:       "regular",
		EntryType:     models.OrderTypeSL,
		Product:       "MIS",
		EntryValidity: "IOC",
		ExitValidity:  "DAY",
		StopPct:       decimal.RequireFromString("0.01"),
		LimitPct:      decimal.RequireFromString("0.07"),
		ExitTickSteps: 2,
	}
}

func (p Pricing) withDefaults() Pricing {
	def := DefaultPricing()
	if p.Quantity <= 0 {
		p.Quantity = def.Quantity
	}
	if p.Variety == "" {
		p.Variety = def.Variety
	}
	if p.EntryType == "" {
		p.EntryType = def.EntryType
	}
	if p.Product == "" {
		p.Product = def.Product
	}
	if p.EntryValidity == "" {
		p.EntryValidity = def.EntryValidity
	}
	if p.ExitValidity == "" {
		p.ExitValidity = def.ExitValidity
	}
	if p.StopPct.IsZero() {
		p.StopPct = def.StopPct
	}
	if p.LimitPct.IsZero() {
		p.LimitPct = def.LimitPct
	}
	if p.ExitTickSteps <= 0 {
		p.ExitTickSteps = def.ExitTickSteps
	}
	return p
}

// EntryPrice ставит вход на тик выше ltp, цена и триггер совпадают.
func EntryPrice(ltp, tick decimal.Decimal) decimal.Decimal {
	return ltp.Add(tick)
}

// StopPrices считает начальный стоп для exit-заявки: триггер от округленной
// цены входа, лимит от неокругленного триггера, оба округляются до целого.
func (p Pricing) StopPrices(entryPrice decimal.Decimal) (trigger, limit decimal.Decimal) {
	t := helper.RoundPrice(entryPrice).Sub(entryPrice.Mul(p.StopPct))
	l := t.Sub(t.Mul(p.LimitPct))
	return helper.RoundPrice(t), helper.RoundPrice(l)
}

// ExitPrice считает цену лимитки для немедленного выхода. Цена не бывает меньше 1.
func (p Pricing) ExitPrice(side models.Side, ltp, tick decimal.Decimal) decimal.Decimal {
	buffer := tick.Mul(decimal.NewFromInt(p.ExitTickSteps))
	price := ltp.Add(buffer)
	if side == models.SideSell {
		price = ltp.Sub(buffer)
	}
	if !price.IsPositive() {
		return decimal.NewFromInt(1)
	}
	return price
}
