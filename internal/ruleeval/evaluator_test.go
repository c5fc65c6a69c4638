package ruleeval

import (
	"context"
	"testing"
	"time"

	"rule_trader/internal/indicator"
	"rule_trader/internal/models"
	"rule_trader/internal/rules"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rollbackTx struct{ runs int }

func (r *rollbackTx) RunRollback(ctx context.Context, fn func(ctxTx context.Context) error) error {
	r.runs++
	return fn(ctx)
}

type memInstruments struct {
	list []models.Instrument
	err  error
}

func (m *memInstruments) Batch(_ context.Context, afterID int64, limit int) ([]models.Instrument, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []models.Instrument
	for _, i := range m.list {
		if i.ID > afterID && len(out) < limit {
			out = append(out, i)
		}
	}
	return out, nil
}

func (m *memInstruments) ByIDs(_ context.Context, ids []int64) ([]models.Instrument, error) {
	var out []models.Instrument
	for _, i := range m.list {
		for _, id := range ids {
			if i.ID == id {
				out = append(out, i)
			}
		}
	}
	return out, nil
}

func (m *memInstruments) ByExchangeToken(_ context.Context, token string) (models.Instrument, error) {
	for _, i := range m.list {
		if i.ExchangeToken == token {
			return i, nil
		}
	}
	return models.Instrument{}, models.ErrNotFound
}

// closes отображает instrument id в последнее дневное закрытие, без ключа данных нет.
type closes map[int64]int64

func (c closes) NthLatest(_ context.Context, id int64, _ models.Unit, _ int, back int) (models.Candle, bool, error) {
	v, ok := c[id]
	if !ok || back > 0 {
		return models.Candle{}, false, nil
	}
	return models.Candle{Close: decimal.NewFromInt(v)}, true, nil
}

func newEvaluator(batch int, data closes, insts ...models.Instrument) (*Evaluator, *rollbackTx) {
	tx := &rollbackTx{}
	hours := indicator.MarketHours{Location: time.UTC, OpenHour: 9, OpenMinute: 15, CloseHour: 15, CloseMinute: 30}
	r := indicator.NewResolver(data, nil, hours)
	return New(tx, &memInstruments{list: insts}, r, Config{BatchSize: batch, SampleExchangeToken: "2885"}), tx
}

func instruments(n int) []models.Instrument {
	out := make([]models.Instrument, n)
	for i := range out {
		out[i] = models.Instrument{ID: int64(i + 1), ExchangeToken: decimal.NewFromInt(int64(2884 + i)).String()}
	}
	return out
}

func TestMatchIDs(t *testing.T) {
	ev, tx := newEvaluator(2, closes{1: 150, 2: 90, 3: 101, 5: 200}, instruments(5)...)
	prog, err := rules.Compile("close(day, 1, 0) > 100")
	require.NoError(t, err)

	got, err := ev.MatchIDs(context.Background(), prog, []int64{1, 2, 3, 4, 5})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 5}, got)
	assert.Equal(t, 3, tx.runs)
}

func TestMatchAll(t *testing.T) {
	ev, tx := newEvaluator(2, closes{1: 150, 2: 90, 3: 101, 4: 100}, instruments(4)...)
	prog, err := rules.Compile("close(day, 1, 0) > 100")
	require.NoError(t, err)

	first, err := ev.MatchAll(context.Background(), prog)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 3}, first)
	assert.Equal(t, 3, tx.runs) // 2 + 2 + пустой

	second, err := ev.MatchAll(context.Background(), prog)
	require.NoError(t, err)
	assert.ElementsMatch(t, first, second)
}

func TestMatchAll_AbortsOnRuleError(t *testing.T) {
	ev, _ := newEvaluator(10, closes{1: 150, 2: 151}, instruments(2)...)
	prog, err := rules.Compile("close(day, 1, ltp / 300) > 1")
	require.NoError(t, err)

	_, err = ev.MatchAll(context.Background(), prog)
	assert.ErrorIs(t, err, rules.ErrInvalidRule)
}

func TestMatchAll_AbortsOnStoreError(t *testing.T) {
	ev, _ := newEvaluator(10, closes{})
	ev.instruments = &memInstruments{err: errors.New("db down")}
	prog, err := rules.Compile("ltp > 1")
	require.NoError(t, err)

	_, err = ev.MatchAll(context.Background(), prog)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	ev, tx := newEvaluator(10, closes{2: 150}, instruments(3)...)
	ctx := context.Background()

	var verr *ValidationError
	err := ev.Validate(ctx, "entry_rule", "File.delete('x')")
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, KindDangerousPattern, verr.Kind)
	assert.Equal(t, "entry_rule", verr.Field)
	assert.Zero(t, tx.runs, "dangerous rule must never run")

	err = ev.Validate(ctx, "entry_rule", "close(day, 1, 0) >")
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, KindInvalidRule, verr.Kind)

	// эталонный инструмент 2885: id 2, у него close = 150
	err = ev.Validate(ctx, "exit_rule", "ltp / (close(day, 1, 0) - 150) > 1")
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, KindInvalidRule, verr.Kind)
	assert.ErrorIs(t, err, rules.ErrInvalidRule)

	require.NoError(t, ev.Validate(ctx, "entry_rule", "close(day, 1, 0) > 100"))
	require.NoError(t, ev.Validate(ctx, "entry_rule", "close(day, 1, 5) > 100"), "missing history is not a rule defect")
}

func TestValidateStrategy(t *testing.T) {
	ev, _ := newEvaluator(10, closes{2: 150}, instruments(3)...)
	st := &models.Strategy{Kind: models.SourceRuleBased, EntryRule: "close(day,1,0) > 100", ExitRule: "system('x')"}

	var verr *ValidationError
	err := ev.ValidateStrategy(context.Background(), st)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "exit_rule", verr.Field)
	assert.Equal(t, KindDangerousPattern, verr.Kind)

	st.ExitRule = ""
	require.ErrorAs(t, ev.ValidateStrategy(context.Background(), st), &verr)
	assert.ErrorIs(t, verr, models.ErrEmptyRule)
}
