package rules

import (
	"rule_trader/internal/models"

	"github.com/pkg/errors"
)

func eval(n Node, env Env) (Value, error) {
	switch n := n.(type) {
	case *NumberLit:
		return numberValue(n.Value), nil
	case *BoolLit:
		return boolValue(n.Value), nil
	case *UnitLit:
		u, err := models.ParseUnit(n.Text)
		if err != nil {
			return Value{}, errors.Wrap(ErrInvalidRule, err.Error())
		}
		return unitValue(u), nil
	case *Unary:
		x, err := eval(n.X, env)
		if err != nil {
			return Value{}, err
		}
		if n.Op == "!" {
			return boolValue(!x.Bool), nil
		}
		return numberValue(x.Num.Neg()), nil
	case *Binary:
		return evalBinary(n, env)
	case *Call:
		args := make([]Value, len(n.Args))
		for i, a := range n.Args {
			v, err := eval(a, env)
			if err != nil {
				return Value{}, err
			}
			args[i] = v
		}
		v, err := n.fn.call(env, args)
		if err != nil {
			return Value{}, errors.Wrap(err, n.Name)
		}
		return v, nil
	}
	return Value{}, errors.Wrapf(ErrInvalidRule, "unsupported node %T", n)
}

func evalBinary(n *Binary, env Env) (Value, error) {
	l, err := eval(n.L, env)
	if err != nil {
		return Value{}, err
	}
	// короткое замыкание: правая часть не вычисляется и не ходит в хранилище
	switch n.Op {
	case "&&":
		if !l.Bool {
			return boolValue(false), nil
		}
	case "||":
		if l.Bool {
			return boolValue(true), nil
		}
	}
	r, err := eval(n.R, env)
	if err != nil {
		return Value{}, err
	}

	switch n.Op {
	case "&&", "||":
		return boolValue(r.Bool), nil
	case "+":
		return numberValue(l.Num.Add(r.Num)), nil
	case "-":
		return numberValue(l.Num.Sub(r.Num)), nil
	case "*":
		return numberValue(l.Num.Mul(r.Num)), nil
	case "/":
		if r.Num.IsZero() {
			return Value{}, errors.Wrapf(ErrEvaluation, "division by zero at %d", n.pos)
		}
		return numberValue(l.Num.Div(r.Num)), nil
	case "==":
		return boolValue(equal(l, r)), nil
	case "!=":
		return boolValue(!equal(l, r)), nil
	}

	c := compare(l, r)
	switch n.Op {
	case "<":
		return boolValue(c < 0), nil
	case "<=":
		return boolValue(c <= 0), nil
	case ">":
		return boolValue(c > 0), nil
	case ">=":
		return boolValue(c >= 0), nil
	}
	return Value{}, errors.Wrapf(ErrInvalidRule, "unknown operator %s", n.Op)
}

func equal(l, r Value) bool {
	switch l.Kind {
	case KindNumber:
		return l.Num.Equal(r.Num)
	case KindBool:
		return l.Bool == r.Bool
	case KindTime:
		return l.Time.Equal(r.Time)
	}
	return false
}

func compare(l, r Value) int {
	if l.Kind == KindTime {
		return l.Time.Compare(r.Time)
	}
	return l.Num.Cmp(r.Num)
}
