package rules

import (
	"time"

	"rule_trader/internal/models"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type Field string

const (
	FieldOpen   Field = "open"
	FieldHigh   Field = "high"
	FieldLow    Field = "low"
	FieldClose  Field = "close"
	FieldVolume Field = "volume"
)

// Env содержит все, что правило может увидеть снаружи. Других возможностей у правила нет.
type Env interface {
	Candle(field Field, unit models.Unit, interval, back int) (decimal.Decimal, error)
	LTP() (decimal.Decimal, error)
	PrevClose() (decimal.Decimal, error)
	Now() time.Time
}

const maxCandlesBack = 5000

type function struct {
	min, max int // max < 0: без ограничения
	argKind  func(i int) Kind
	result   Kind
	call     func(env Env, args []Value) (Value, error)
}

func (f *function) bare() bool { return f.min == 0 }

func numbers(int) Kind { return KindNumber }

func candleArgs(i int) Kind {
	if i == 0 {
		return KindUnit
	}
	return KindNumber
}

func candleFunc(field Field) *function {
	return &function{
		min:     2,
		max:     3,
		argKind: candleArgs,
		result:  KindNumber,
		call: func(env Env, args []Value) (Value, error) {
			interval, err := intArg(args[1], 1, 1<<16)
			if err != nil {
				return Value{}, errors.Wrapf(err, "%s interval", field)
			}
			back := 0
			if len(args) > 2 {
				back, err = intArg(args[2], 0, maxCandlesBack)
				if err != nil {
					return Value{}, errors.Wrapf(err, "%s candles back", field)
				}
			}
			d, err := env.Candle(field, args[0].Unit, interval, back)
			if err != nil {
				return Value{}, err
			}
			return numberValue(d), nil
		},
	}
}

var functions = map[string]*function{
	"open":   candleFunc(FieldOpen),
	"high":   candleFunc(FieldHigh),
	"low":    candleFunc(FieldLow),
	"close":  candleFunc(FieldClose),
	"volume": candleFunc(FieldVolume),
	"ltp": {
		result: KindNumber,
		call: func(env Env, _ []Value) (Value, error) {
			d, err := env.LTP()
			return numberValue(d), err
		},
	},
	"prev_close": {
		result: KindNumber,
		call: func(env Env, _ []Value) (Value, error) {
			d, err := env.PrevClose()
			return numberValue(d), err
		},
	},
	"current_time": {
		result: KindTime,
		call: func(env Env, _ []Value) (Value, error) {
			return timeValue(env.Now()), nil
		},
	},
	"parse_time": {
		min:     2,
		max:     3,
		argKind: numbers,
		result:  KindTime,
		call: func(env Env, args []Value) (Value, error) {
			h, err := intArg(args[0], 0, 23)
			if err != nil {
				return Value{}, errors.Wrap(err, "parse_time hour")
			}
			m, err := intArg(args[1], 0, 59)
			if err != nil {
				return Value{}, errors.Wrap(err, "parse_time minute")
			}
			s := 0
			if len(args) > 2 {
				if s, err = intArg(args[2], 0, 59); err != nil {
					return Value{}, errors.Wrap(err, "parse_time second")
				}
			}
			now := env.Now()
			return timeValue(time.Date(now.Year(), now.Month(), now.Day(), h, m, s, 0, now.Location())), nil
		},
	},
	"abs": {
		min:     1,
		max:     1,
		argKind: numbers,
		result:  KindNumber,
		call: func(_ Env, args []Value) (Value, error) {
			return numberValue(args[0].Num.Abs()), nil
		},
	},
	"min": {
		min:     1,
		max:     -1,
		argKind: numbers,
		result:  KindNumber,
		call: func(_ Env, args []Value) (Value, error) {
			out := args[0].Num
			for _, a := range args[1:] {
				if a.Num.LessThan(out) {
					out = a.Num
				}
			}
			return numberValue(out), nil
		},
	},
	"max": {
		min:     1,
		max:     -1,
		argKind: numbers,
		result:  KindNumber,
		call: func(_ Env, args []Value) (Value, error) {
			out := args[0].Num
			for _, a := range args[1:] {
				if a.Num.GreaterThan(out) {
					out = a.Num
				}
			}
			return numberValue(out), nil
		},
	},
	"round": {
		min:     1,
		max:     2,
		argKind: numbers,
		result:  KindNumber,
		call: func(_ Env, args []Value) (Value, error) {
			places := 0
			if len(args) > 1 {
				var err error
				if places, err = intArg(args[1], 0, 8); err != nil {
					return Value{}, errors.Wrap(err, "round places")
				}
			}
			return numberValue(args[0].Num.Round(int32(places))), nil
		},
	},
}

func intArg(v Value, lo, hi int) (int, error) {
	if !v.Num.IsInteger() {
		return 0, errors.Wrapf(ErrInvalidRule, "%s is not an integer", v.Num)
	}
	n := v.Num.IntPart()
	if n < int64(lo) || n > int64(hi) {
		return 0, errors.Wrapf(ErrInvalidRule, "%d out of range [%d, %d]", n, lo, hi)
	}
	return int(n), nil
}

// Functions возвращает имена доступных функций, для сообщений об ошибках и API.
func Functions() []string {
	out := make([]string, 0, len(functions))
	for name := range functions {
		out = append(out, name)
	}
	return out
}
