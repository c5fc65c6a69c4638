package indicator

import (
	"context"
	"fmt"
	"time"

	"rule_trader/internal/models"
	"rule_trader/internal/rules"
	"rule_trader/pkg/logger"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// ErrDataUnavailable значит, что свечи так далеко назад нет.
var ErrDataUnavailable = errors.New("indicator data unavailable")

// CandleStore отдает свечу на back позиций раньше последней (0: последняя).
type CandleStore interface {
	NthLatest(ctx context.Context, instrumentID int64, unit models.Unit, interval, back int) (models.Candle, bool, error)
}

// PriceCache отдает последние цены, кеш наполняет внешний фид.
type PriceCache interface {
	LTP(ctx context.Context, exchangeToken string) (decimal.Decimal, bool, error)
}

type Resolver struct {
	candles CandleStore
	prices  PriceCache
	hours   MarketHours
	now     func() time.Time
}

func NewResolver(candles CandleStore, prices PriceCache, hours MarketHours) *Resolver {
	return &Resolver{
		candles: candles,
		prices:  prices,
		hours:   hours,
		now:     time.Now,
	}
}

// WithClock подменяет часы, нужно для тестов и dry-run.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	cp := *r
	cp.now = now
	return &cp
}

func (r *Resolver) Hours() MarketHours { return r.hours }

// Pass открывает один проход вычисления: один инструмент, одно правило.
// Мемо живет ровно столько, сколько Pass.
func (r *Resolver) Pass(ctx context.Context, inst models.Instrument) *Pass {
	return &Pass{
		ctx:  ctx,
		r:    r,
		inst: inst,
		at:   r.hours.In(r.now()),
		memo: make(map[string]models.Candle),
	}
}

type Pass struct {
	ctx  context.Context
	r    *Resolver
	inst models.Instrument
	at   time.Time
	memo map[string]models.Candle

	ltp     *decimal.Decimal
	queries int
}

var _ rules.Env = (*Pass)(nil)

func memoKey(instrumentID int64, unit models.Unit, interval, back int) string {
	return fmt.Sprintf("%d_%s_%d_%d", instrumentID, unit, interval, back)
}

func (p *Pass) candle(unit models.Unit, interval, back int) (models.Candle, error) {
	key := memoKey(p.inst.ID, unit, interval, back)
	if c, ok := p.memo[key]; ok {
		return c, nil
	}
	p.queries++
	c, found, err := p.r.candles.NthLatest(p.ctx, p.inst.ID, unit, interval, back)
	if err != nil {
		return models.Candle{}, errors.Wrapf(err, "candle %s", key)
	}
	if !found {
		return models.Candle{}, errors.Wrapf(ErrDataUnavailable, "instrument=%d unit=%s interval=%d back=%d", p.inst.ID, unit, interval, back)
	}
	p.memo[key] = c
	return c, nil
}

func (p *Pass) Candle(field rules.Field, unit models.Unit, interval, back int) (decimal.Decimal, error) {
	c, err := p.candle(unit, interval, back)
	if err != nil {
		return decimal.Zero, err
	}
	switch field {
	case rules.FieldOpen:
		return c.Open, nil
	case rules.FieldHigh:
		return c.High, nil
	case rules.FieldLow:
		return c.Low, nil
	case rules.FieldClose:
		return c.Close, nil
	case rules.FieldVolume:
		return decimal.NewFromInt(c.Volume), nil
	}
	return decimal.Zero, errors.Errorf("unknown field %q", field)
}

// LTP в торговые часы берется из кеша, иначе или при промахе это последнее дневное закрытие.
func (p *Pass) LTP() (decimal.Decimal, error) {
	if p.ltp != nil {
		return *p.ltp, nil
	}
	v, err := p.resolveLTP()
	if err != nil {
		return decimal.Zero, err
	}
	p.ltp = &v
	return v, nil
}

func (p *Pass) resolveLTP() (decimal.Decimal, error) {
	if p.r.hours.IsOpen(p.at) && p.r.prices != nil && p.inst.ExchangeToken != "" {
		v, ok, err := p.r.prices.LTP(p.ctx, p.inst.ExchangeToken)
		switch {
		case err != nil:
			logger.Warn("ltp cache instrument=%d token=%s: %v", p.inst.ID, p.inst.ExchangeToken, err)
		case ok:
			return v, nil
		}
	}
	return p.lastDailyClose()
}

func (p *Pass) lastDailyClose() (decimal.Decimal, error) {
	c, err := p.candle(models.UnitDay, 1, 0)
	if err == nil {
		return c.Close, nil
	}
	if errors.Is(err, ErrDataUnavailable) && p.inst.LTP.IsPositive() {
		return p.inst.LTP, nil
	}
	return decimal.Zero, err
}

// PrevClose возвращает закрытие предыдущего дня.
func (p *Pass) PrevClose() (decimal.Decimal, error) {
	if p.inst.PreviousDayLTP.IsPositive() {
		return p.inst.PreviousDayLTP, nil
	}
	c, err := p.candle(models.UnitDay, 1, 1)
	if err != nil {
		return decimal.Zero, err
	}
	return c.Close, nil
}

func (p *Pass) Now() time.Time { return p.at }

func (p *Pass) Instrument() models.Instrument { return p.inst }

// Queries считает, сколько раз проход реально сходил в хранилище свечей.
func (p *Pass) Queries() int { return p.queries }
