package rules

import (
	"strings"

	"github.com/pkg/errors"
)

// Program хранит разобранное и проверенное правило. Безопасно для повторного использования
// между инструментами и горутинами: состояние вычисления живет в Env.
type Program struct {
	source string
	root   Node
}

// Compile прогоняет guard, разбор и проверку типов. Результат правила обязан быть bool.
func Compile(src string) (*Program, error) {
	if strings.TrimSpace(src) == "" {
		return nil, errors.Wrap(ErrInvalidRule, "rule is empty")
	}
	if err := Guard(src); err != nil {
		return nil, err
	}
	root, err := parse(src)
	if err != nil {
		return nil, err
	}
	k, err := typeOf(root)
	if err != nil {
		return nil, err
	}
	if k != KindBool {
		return nil, errors.Wrapf(ErrInvalidRule, "rule must be a condition, got %s", k)
	}
	return &Program{source: normalize(src), root: root}, nil
}

func (p *Program) Source() string { return p.source }

// String печатает каноничную форму со скобками для логов.
func (p *Program) String() string { return p.root.String() }

// Eval вычисляет правило. Ошибки данных (нет свечи и т.п.) приходят из Env как есть.
func (p *Program) Eval(env Env) (bool, error) {
	v, err := eval(p.root, env)
	if err != nil {
		return false, err
	}
	return v.Bool, nil
}

// Evaluate компилирует и сразу вычисляет правило.
func Evaluate(src string, env Env) (bool, error) {
	p, err := Compile(src)
	if err != nil {
		return false, err
	}
	return p.Eval(env)
}
