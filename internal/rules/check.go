package rules

import (
	"rule_trader/internal/models"
)

// typeOf статически выводит тип узла. Все функции имеют фиксированный тип результата,
// поэтому любая ошибка типов находится до первого вычисления.
func typeOf(n Node) (Kind, error) {
	switch n := n.(type) {
	case *NumberLit:
		return KindNumber, nil
	case *BoolLit:
		return KindBool, nil
	case *UnitLit:
		if _, err := models.ParseUnit(n.Text); err != nil {
			return 0, syntaxErr(n.pos, "unknown unit %q", n.Text)
		}
		return KindUnit, nil
	case *Unary:
		k, err := typeOf(n.X)
		if err != nil {
			return 0, err
		}
		want := KindNumber
		if n.Op == "!" {
			want = KindBool
		}
		if k != want {
			return 0, syntaxErr(n.pos, "operator %s expects %s, got %s", n.Op, want, k)
		}
		return k, nil
	case *Binary:
		l, err := typeOf(n.L)
		if err != nil {
			return 0, err
		}
		r, err := typeOf(n.R)
		if err != nil {
			return 0, err
		}
		return binaryType(n, l, r)
	case *Call:
		for i, a := range n.Args {
			k, err := typeOf(a)
			if err != nil {
				return 0, err
			}
			if want := n.fn.argKind(i); k != want {
				return 0, syntaxErr(a.Pos(), "%s: argument %d must be %s, got %s", n.Name, i+1, want, k)
			}
		}
		return n.fn.result, nil
	}
	return 0, syntaxErr(n.Pos(), "unsupported expression")
}

func binaryType(n *Binary, l, r Kind) (Kind, error) {
	switch n.Op {
	case "&&", "||":
		if l != KindBool || r != KindBool {
			return 0, syntaxErr(n.pos, "operator %s expects bool operands, got %s and %s", n.Op, l, r)
		}
		return KindBool, nil
	case "+", "-", "*", "/":
		if l != KindNumber || r != KindNumber {
			return 0, syntaxErr(n.pos, "operator %s expects numbers, got %s and %s", n.Op, l, r)
		}
		return KindNumber, nil
	case "<", "<=", ">", ">=":
		if l != r || (l != KindNumber && l != KindTime) {
			return 0, syntaxErr(n.pos, "cannot compare %s %s %s", l, n.Op, r)
		}
		return KindBool, nil
	case "==", "!=":
		if l != r || l == KindUnit {
			return 0, syntaxErr(n.pos, "cannot compare %s %s %s", l, n.Op, r)
		}
		return KindBool, nil
	}
	return 0, syntaxErr(n.pos, "unknown operator %s", n.Op)
}
