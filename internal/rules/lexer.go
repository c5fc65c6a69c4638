package rules

import (
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokIdent
	tokString
	tokLParen
	tokRParen
	tokComma
	tokOp
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

var keywordOps = map[string]string{
	"and": "&&",
	"or":  "||",
	"not": "!",
}

// lex разбивает текст правила на токены. Все, что не входит в грамматику, считается ошибкой.
func lex(src string) ([]token, error) {
	var (
		out []token
		i   int
	)
	rs := []rune(src)
	for i < len(rs) {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case unicode.IsDigit(r) || (r == '.' && i+1 < len(rs) && unicode.IsDigit(rs[i+1])):
			start := i
			dot := false
			for i < len(rs) && (unicode.IsDigit(rs[i]) || (rs[i] == '.' && !dot) || rs[i] == '_') {
				if rs[i] == '.' {
					// 1.round не поддерживаем, точка должна быть частью числа
					if i+1 >= len(rs) || !unicode.IsDigit(rs[i+1]) {
						return nil, syntaxErr(i, "unexpected '.'")
					}
					dot = true
				}
				i++
			}
			out = append(out, token{kind: tokNumber, text: strings.ReplaceAll(string(rs[start:i]), "_", ""), pos: start})
		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(rs) && (unicode.IsLetter(rs[i]) || unicode.IsDigit(rs[i]) || rs[i] == '_') {
				i++
			}
			word := string(rs[start:i])
			if op, ok := keywordOps[word]; ok {
				out = append(out, token{kind: tokOp, text: op, pos: start})
				continue
			}
			out = append(out, token{kind: tokIdent, text: word, pos: start})
		case r == '"' || r == '\'':
			start := i
			i++
			for i < len(rs) && rs[i] != r {
				i++
			}
			if i >= len(rs) {
				return nil, syntaxErr(start, "unterminated string")
			}
			out = append(out, token{kind: tokString, text: string(rs[start+1 : i]), pos: start})
			i++
		case r == '(':
			out = append(out, token{kind: tokLParen, text: "(", pos: i})
			i++
		case r == ')':
			out = append(out, token{kind: tokRParen, text: ")", pos: i})
			i++
		case r == ',':
			out = append(out, token{kind: tokComma, text: ",", pos: i})
			i++
		default:
			op, n := matchOp(rs[i:])
			if n == 0 {
				return nil, syntaxErr(i, "unexpected character %q", r)
			}
			out = append(out, token{kind: tokOp, text: op, pos: i})
			i += n
		}
	}
	out = append(out, token{kind: tokEOF, pos: len(rs)})
	return out, nil
}

func matchOp(rs []rune) (string, int) {
	if len(rs) >= 2 {
		switch two := string(rs[:2]); two {
		case "<=", ">=", "==", "!=", "&&", "||":
			return two, 2
		}
	}
	switch rs[0] {
	case '+', '-', '*', '/', '<', '>', '!':
		return string(rs[0]), 1
	}
	return "", 0
}
