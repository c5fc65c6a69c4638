package ruleeval

import (
	"context"

	"rule_trader/internal/indicator"
	"rule_trader/internal/models"
	"rule_trader/internal/rules"
	"rule_trader/pkg/logger"

	"github.com/pkg/errors"
)

const (
	KindDangerousPattern = "dangerous_pattern"
	KindInvalidRule      = "invalid_rule"
)

// ValidationError видит пользователь при сохранении правила.
type ValidationError struct {
	Field string
	Kind  string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Err.Error()
	}
	return e.Field + ": " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Validate прогоняет guard, разбор, проверку типов и пробный прогон на эталонном инструменте
// в откатываемой транзакции.
func (e *Evaluator) Validate(ctx context.Context, field, text string) error {
	prog, err := rules.Compile(text)
	if err != nil {
		return classify(field, err)
	}

	inst, err := e.instruments.ByExchangeToken(ctx, e.cfg.SampleExchangeToken)
	if errors.Is(err, models.ErrNotFound) {
		logger.Warn("rule dry run skipped: sample instrument %s not found", e.cfg.SampleExchangeToken)
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "load sample instrument")
	}

	var evalErr error
	err = e.tx.RunRollback(ctx, func(ctxTx context.Context) error {
		_, evalErr = prog.Eval(e.resolver.Pass(ctxTx, inst))
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "dry run")
	}
	if evalErr != nil && !errors.Is(evalErr, indicator.ErrDataUnavailable) {
		return &ValidationError{Field: field, Kind: KindInvalidRule, Err: errors.Wrap(rules.ErrInvalidRule, evalErr.Error())}
	}
	return nil
}

func classify(field string, err error) error {
	kind := KindInvalidRule
	if errors.Is(err, rules.ErrDangerousPattern) {
		kind = KindDangerousPattern
	}
	return &ValidationError{Field: field, Kind: kind, Err: err}
}

// ValidateStrategy проверяет оба правила стратегии перед сохранением.
func (e *Evaluator) ValidateStrategy(ctx context.Context, st *models.Strategy) error {
	if err := st.CheckRules(); err != nil {
		return &ValidationError{Kind: KindInvalidRule, Err: err}
	}
	if err := e.Validate(ctx, "entry_rule", st.EntryRule); err != nil {
		return err
	}
	return e.Validate(ctx, "exit_rule", st.ExitRule)
}
