package rules

import (
	"fmt"
	"time"

	"rule_trader/internal/models"

	"github.com/shopspring/decimal"
)

type Kind int

const (
	KindNumber Kind = iota + 1
	KindBool
	KindTime
	KindUnit
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	case KindUnit:
		return "unit"
	}
	return "unknown"
}

type Value struct {
	Kind Kind
	Num  decimal.Decimal
	Bool bool
	Time time.Time
	Unit models.Unit
}

func numberValue(d decimal.Decimal) Value { return Value{Kind: KindNumber, Num: d} }
func boolValue(b bool) Value              { return Value{Kind: KindBool, Bool: b} }
func timeValue(t time.Time) Value         { return Value{Kind: KindTime, Time: t} }
func unitValue(u models.Unit) Value       { return Value{Kind: KindUnit, Unit: u} }

func (v Value) String() string {
	switch v.Kind {
	case KindNumber:
		return v.Num.String()
	case KindBool:
		return fmt.Sprint(v.Bool)
	case KindTime:
		return v.Time.Format(time.RFC3339)
	case KindUnit:
		return string(v.Unit)
	}
	return "<nil>"
}
