package service

import (
	"context"
	"strings"

	"rule_trader/internal/indicator"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// getter это часть redis.Cmdable, которой хватает кешу цен.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// Prices читает последние цены, которые пишет внешний маркет-фид: GET <exchange_token> → "1234.5".
type Prices struct {
	rdb getter
}

var _ indicator.PriceCache = (*Prices)(nil)

func NewPrices(rdb getter) *Prices {
	return &Prices{rdb: rdb}
}

// LTP не считает ошибкой промах и пустое или нулевое значение, резолвер тогда уйдет на дневную свечу.
func (p *Prices) LTP(ctx context.Context, exchangeToken string) (decimal.Decimal, bool, error) {
	raw, err := p.rdb.Get(ctx, exchangeToken).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, errors.Wrapf(err, "redis get %s", exchangeToken)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, false, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, errors.Wrapf(err, "ltp %s: %q", exchangeToken, raw)
	}
	if !v.IsPositive() {
		return decimal.Zero, false, nil
	}
	return v, true, nil
}
