package rules

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrDangerousPattern значит, что текст правила содержит запрещенную конструкцию.
	ErrDangerousPattern = errors.New("rule contains a dangerous pattern")
	// ErrInvalidRule значит, что правило не разбирается, не проходит проверку типов или не возвращает bool.
	ErrInvalidRule = errors.New("rule is invalid")
	// ErrEvaluation возникает во время вычисления и зависит от данных, например деление на ноль.
	ErrEvaluation = errors.New("rule evaluation failed")
)

// SyntaxError указывает позицию в тексте правила.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s at %d: %s", ErrInvalidRule, e.Pos, e.Msg)
}

func (e *SyntaxError) Unwrap() error { return ErrInvalidRule }

func syntaxErr(pos int, format string, args ...any) error {
	return &SyntaxError{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}
