package ruleeval

import (
	"context"

	"rule_trader/internal/indicator"
	"rule_trader/internal/models"
	"rule_trader/internal/rules"
	"rule_trader/pkg/logger"

	"github.com/pkg/errors"
)

const DefaultBatchSize = 100

// TxRunner открывает транзакцию, которая всегда откатывается.
type TxRunner interface {
	RunRollback(ctx context.Context, fn func(ctxTx context.Context) error) error
}

type Instruments interface {
	Batch(ctx context.Context, afterID int64, limit int) ([]models.Instrument, error)
	ByIDs(ctx context.Context, ids []int64) ([]models.Instrument, error)
	ByExchangeToken(ctx context.Context, token string) (models.Instrument, error)
}

type Config struct {
	BatchSize           int
	SampleExchangeToken string
}

// Evaluator прогоняет правило по набору инструментов. Каждый батч идет в отдельной
// транзакции с откатом, так что вычисление правила ничего не может записать.
type Evaluator struct {
	tx          TxRunner
	instruments Instruments
	resolver    *indicator.Resolver
	cfg         Config
}

func New(tx TxRunner, instruments Instruments, resolver *indicator.Resolver, cfg Config) *Evaluator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Evaluator{tx: tx, instruments: instruments, resolver: resolver, cfg: cfg}
}

// MatchIDs для стратегий: любая ошибка вычисления по инструменту означает «не совпало».
// Порядок результата совпадает с порядком id.
func (e *Evaluator) MatchIDs(ctx context.Context, prog *rules.Program, ids []int64) ([]int64, error) {
	var matched []int64
	for start := 0; start < len(ids); start += e.cfg.BatchSize {
		end := min(start+e.cfg.BatchSize, len(ids))
		chunk := ids[start:end]
		err := e.tx.RunRollback(ctx, func(ctxTx context.Context) error {
			insts, err := e.instruments.ByIDs(ctxTx, chunk)
			if err != nil {
				return err
			}
			byID := make(map[int64]models.Instrument, len(insts))
			for _, inst := range insts {
				byID[inst.ID] = inst
			}
			for _, id := range chunk {
				inst, ok := byID[id]
				if !ok {
					logger.Warn("rule eval: instrument=%d not found", id)
					continue
				}
				ok, err := prog.Eval(e.resolver.Pass(ctxTx, inst))
				if err != nil {
					logger.Info("rule invalid for instrument=%d rule=%q: %v", id, prog.Source(), err)
					continue
				}
				if ok {
					matched = append(matched, id)
				}
			}
			return nil
		})
		if err != nil {
			return matched, errors.Wrap(err, "evaluate batch")
		}
	}
	return matched, nil
}

// MatchAll для скринера обходит весь справочник батчами. Нехватка данных значит «не совпало»,
// а ошибка самого правила или хранилища прерывает весь скан.
func (e *Evaluator) MatchAll(ctx context.Context, prog *rules.Program) ([]int64, error) {
	var (
		matched []int64
		afterID int64
	)
	for {
		var n int
		err := e.tx.RunRollback(ctx, func(ctxTx context.Context) error {
			insts, err := e.instruments.Batch(ctxTx, afterID, e.cfg.BatchSize)
			if err != nil {
				return err
			}
			n = len(insts)
			for _, inst := range insts {
				afterID = inst.ID
				ok, err := prog.Eval(e.resolver.Pass(ctxTx, inst))
				switch {
				case err == nil:
				case errors.Is(err, indicator.ErrDataUnavailable), errors.Is(err, rules.ErrEvaluation):
					continue
				default:
					return errors.Wrapf(err, "instrument=%d", inst.ID)
				}
				if ok {
					matched = append(matched, inst.ID)
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		if n < e.cfg.BatchSize {
			return matched, nil
		}
	}
}
