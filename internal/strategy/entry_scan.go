package strategy

import (
	"context"

	"rule_trader/internal/helper"
	"rule_trader/internal/models"
	"rule_trader/internal/rules"
	"rule_trader/internal/scheduler"
	"rule_trader/pkg/logger"
	"rule_trader/pkg/tracing"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
)

// HandleEntryScan выполняет один цикл входа стратегии. Следующий запуск в начале следующей минуты.
// Ошибка внутри цикла пишется в лог, и цикл больше не ставится: его вернет ежедневный старт
// или повторный deploy.
func (s *Service) HandleEntryScan(ctx context.Context, job scheduler.Job) (next scheduler.Next, err error) {
	span, ctx := tracing.StartSpan(ctx, "strategy.entry_scan", opentracing.Tags{
		"strategy.id": job.ID,
		"kickoff":     job.Flags.Kickoff,
	})
	defer func() { tracing.Finish(span, err) }()

	st, err := s.store.Get(ctx, job.ID)
	if errors.Is(err, models.ErrNotFound) {
		logger.Warn("entry scan: strategy %d not found", job.ID)
		return scheduler.Stop(), nil
	}
	if err != nil {
		logger.Error("entry scan: strategy %d: %v", job.ID, err)
		return scheduler.Stop(), nil
	}
	if !st.Deployed {
		return scheduler.Stop(), nil
	}

	if job.Flags.Kickoff && st.ScreenerBased() {
		if err := s.refreshCandidates(ctx, st); err != nil {
			logger.Error("entry scan: %v", err)
			return scheduler.Stop(), nil
		}
	}

	if st.DistinctEntered() >= st.DailyMaxEntries {
		logger.Info("strategy %d: daily max entries %d reached", st.ID, st.DailyMaxEntries)
		st.ResetDaily()
		if err := s.store.SaveProgress(ctx, st); err != nil {
			logger.Error("entry scan: strategy %d reset: %v", st.ID, err)
		}
		return scheduler.Stop(), nil
	}

	candidates, err := s.candidates(ctx, st)
	if err != nil {
		logger.Error("entry scan: strategy %d candidates: %v", st.ID, err)
		return scheduler.Stop(), nil
	}
	if len(candidates) == 0 {
		logger.Info("strategy %d: no candidates left", st.ID)
		return scheduler.Stop(), nil
	}

	prog, err := rules.Compile(st.EntryRule)
	if err != nil {
		logger.Error("entry scan: strategy %d entry rule: %v", st.ID, err)
		return scheduler.Stop(), nil
	}
	matched, err := s.matcher.MatchIDs(ctx, prog, candidates)
	if err != nil {
		logger.Error("entry scan: strategy %d: %v", st.ID, err)
		return scheduler.Stop(), nil
	}

	// лимит проверяется только в начале цикла, все совпавшие в этом цикле входят
	saved := true
	for _, id := range matched {
		st.EnteredInstrumentIDs = append(st.EnteredInstrumentIDs, id)
		if err := s.store.SaveProgress(ctx, st); err != nil {
			logger.Error("strategy %d: save entered instrument %d: %v", st.ID, id, err)
			st.EnteredInstrumentIDs = st.EnteredInstrumentIDs[:len(st.EnteredInstrumentIDs)-1]
			saved = false
			continue
		}
		s.initiate(ctx, st, id)
	}
	if !saved {
		return scheduler.Stop(), nil
	}
	return scheduler.At(helper.NextMinute(s.now())), nil
}

func (s *Service) initiate(ctx context.Context, st *models.Strategy, instrumentID int64) {
	inst, err := s.instruments.Get(ctx, instrumentID)
	if err != nil {
		logger.Error("strategy %d: instrument %d: %v", st.ID, instrumentID, err)
		return
	}
	o, err := s.entries.InitiateEntry(ctx, st, inst)
	if err != nil {
		logger.Error("strategy %d: entry %s: %v", st.ID, inst.TradingSymbol, err)
		return
	}
	logger.Info("strategy %d: entry order %d for %s at %s", st.ID, o.ID, inst.TradingSymbol, o.Price)
}

// refreshCandidates в первом цикле дня скринерной стратегии делает свежий скан и сбрасывает счетчики.
func (s *Service) refreshCandidates(ctx context.Context, st *models.Strategy) error {
	ids, err := s.screener.Scan(ctx, st.ScreenerID)
	if err != nil {
		return errors.Wrapf(err, "strategy %d screener %d", st.ID, st.ScreenerID)
	}
	st.ResetDaily()
	st.InstrumentIDs = ids
	return s.store.SaveProgress(ctx, st)
}

// candidates отбирает инструменты, которые стратегия проверяет в этом цикле.
func (s *Service) candidates(ctx context.Context, st *models.Strategy) ([]int64, error) {
	pool := st.InstrumentIDs
	if st.Kind == models.SourceRuleBased {
		all, err := s.instruments.AllIDs(ctx)
		if err != nil {
			return nil, err
		}
		pool = all
	}

	blocked := st.ReEnterBlocked()
	out := make([]int64, 0, len(pool))
	seen := make(map[int64]struct{}, len(pool))
	for _, id := range pool {
		if _, ok := blocked[id]; ok {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}
