package helper

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RoundPrice округляет до целого, половину от нуля.
func RoundPrice(px decimal.Decimal) decimal.Decimal { return px.Round(0) }

func RoundDownToTick(px, tick decimal.Decimal) decimal.Decimal {
	if !tick.IsPositive() {
		return px
	}
	return px.Div(tick).Floor().Mul(tick)
}

func RoundUpToTick(px, tick decimal.Decimal) decimal.Decimal {
	if !tick.IsPositive() {
		return px
	}
	return px.Div(tick).Ceil().Mul(tick)
}

// NextMinute возвращает начало следующей минуты.
func NextMinute(t time.Time) time.Time {
	return t.Truncate(time.Minute).Add(time.Minute)
}

// OrderTag собирает тег заявки у брокера, не длиннее 20 символов.
func OrderTag(strategyID int64) string {
	tag := fmt.Sprintf("rt-s%d", strategyID)
	if len(tag) > 20 {
		tag = tag[:20]
	}
	return tag
}
