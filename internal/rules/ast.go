package rules

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Node это узел дерева разбора. Вычисляется только через Program.Eval.
type Node interface {
	Pos() int
	String() string
}

type NumberLit struct {
	pos   int
	Value decimal.Decimal
}

type BoolLit struct {
	pos   int
	Value bool
}

// UnitLit хранит единицу таймфрейма, например day или "minute".
type UnitLit struct {
	pos  int
	Text string
}

type Unary struct {
	pos int
	Op  string
	X   Node
}

type Binary struct {
	pos  int
	Op   string
	L, R Node
}

type Call struct {
	pos  int
	Name string
	Args []Node
	fn   *function
}

func (n *NumberLit) Pos() int { return n.pos }
func (n *BoolLit) Pos() int   { return n.pos }
func (n *UnitLit) Pos() int   { return n.pos }
func (n *Unary) Pos() int     { return n.pos }
func (n *Binary) Pos() int    { return n.pos }
func (n *Call) Pos() int      { return n.pos }

func (n *NumberLit) String() string { return n.Value.String() }

func (n *BoolLit) String() string {
	if n.Value {
		return "true"
	}
	return "false"
}

func (n *UnitLit) String() string { return n.Text }
func (n *Unary) String() string   { return "(" + n.Op + n.X.String() + ")" }

func (n *Binary) String() string {
	return "(" + n.L.String() + " " + n.Op + " " + n.R.String() + ")"
}

func (n *Call) String() string {
	args := make([]string, len(n.Args))
	for i, a := range n.Args {
		args[i] = a.String()
	}
	return n.Name + "(" + strings.Join(args, ", ") + ")"
}
