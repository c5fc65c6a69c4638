package rules

import (
	"strings"

	"rule_trader/internal/models"

	"github.com/shopspring/decimal"
)

type parser struct {
	toks []token
	i    int
}

// Уровни приоритета бинарных операторов, от слабого к сильному.
var precedence = [][]string{
	{"||"},
	{"&&"},
	{"==", "!="},
	{"<", "<=", ">", ">="},
	{"+", "-"},
	{"*", "/"},
}

func parse(src string) (Node, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	n, err := p.binary(0)
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, syntaxErr(t.pos, "unexpected %q", t.text)
	}
	return n, nil
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *parser) binary(level int) (Node, error) {
	if level == len(precedence) {
		return p.unary()
	}
	left, err := p.binary(level + 1)
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokOp || !oneOf(t.text, precedence[level]) {
			return left, nil
		}
		p.next()
		right, err := p.binary(level + 1)
		if err != nil {
			return nil, err
		}
		left = &Binary{pos: t.pos, Op: t.text, L: left, R: right}
	}
}

func (p *parser) unary() (Node, error) {
	t := p.peek()
	if t.kind == tokOp && (t.text == "-" || t.text == "!") {
		p.next()
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &Unary{pos: t.pos, Op: t.text, X: x}, nil
	}
	return p.primary()
}

func (p *parser) primary() (Node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		d, err := decimal.NewFromString(t.text)
		if err != nil {
			return nil, syntaxErr(t.pos, "bad number %q", t.text)
		}
		return &NumberLit{pos: t.pos, Value: d}, nil
	case tokString:
		return &UnitLit{pos: t.pos, Text: t.text}, nil
	case tokLParen:
		n, err := p.binary(0)
		if err != nil {
			return nil, err
		}
		if c := p.next(); c.kind != tokRParen {
			return nil, syntaxErr(c.pos, "expected ')'")
		}
		return n, nil
	case tokIdent:
		return p.ident(t)
	case tokEOF:
		return nil, syntaxErr(t.pos, "unexpected end of rule")
	}
	return nil, syntaxErr(t.pos, "unexpected %q", t.text)
}

func (p *parser) ident(t token) (Node, error) {
	switch t.text {
	case "true":
		return &BoolLit{pos: t.pos, Value: true}, nil
	case "false":
		return &BoolLit{pos: t.pos, Value: false}, nil
	}

	fn, isFunc := functions[t.text]
	if p.peek().kind != tokLParen {
		if isFunc && fn.bare() {
			return &Call{pos: t.pos, Name: t.text, fn: fn}, nil
		}
		if _, err := models.ParseUnit(t.text); err == nil {
			return &UnitLit{pos: t.pos, Text: t.text}, nil
		}
		return nil, syntaxErr(t.pos, "unknown identifier %q", t.text)
	}
	if !isFunc {
		return nil, syntaxErr(t.pos, "unknown function %q", t.text)
	}

	p.next() // (
	var args []Node
	if p.peek().kind != tokRParen {
		for {
			a, err := p.binary(0)
			if err != nil {
				return nil, err
			}
			args = append(args, a)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
	}
	if c := p.next(); c.kind != tokRParen {
		return nil, syntaxErr(c.pos, "expected ')' after arguments of %s", t.text)
	}
	if len(args) < fn.min || (fn.max >= 0 && len(args) > fn.max) {
		return nil, syntaxErr(t.pos, "%s: wrong number of arguments (%d)", t.text, len(args))
	}
	return &Call{pos: t.pos, Name: t.text, Args: args, fn: fn}, nil
}

func oneOf(s string, set []string) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}

// normalize приводит правило к виду без переносов строк, как его хранит UI.
func normalize(src string) string {
	return strings.Join(strings.Fields(src), " ")
}
