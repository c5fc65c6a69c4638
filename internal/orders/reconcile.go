package orders

import (
	"context"

	"rule_trader/internal/models"
	"rule_trader/internal/rules"
	"rule_trader/pkg/logger"
	"rule_trader/pkg/tracing"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
)

// Reconcile делает один проход сверки позиции по entry-заявке: сверяет обе заявки
// с брокером, при необходимости создает exit и проверяет exit-правило.
// retry=true: позицию нужно проверить снова; ошибка возвращается для лога.
func (s *Service) Reconcile(ctx context.Context, entryID int64) (retry bool, err error) {
	span, ctx := tracing.StartSpan(ctx, "orders.reconcile", opentracing.Tags{"order.entry_id": entryID})
	defer func() { tracing.Finish(span, err) }()

	entry, err := s.orders.Get(ctx, entryID)
	if errors.Is(err, models.ErrNotFound) {
		logger.Warn("reconcile: entry %d not found", entryID)
		return false, nil
	}
	if err != nil {
		return true, err
	}
	if !entry.Entry() {
		return false, errors.Errorf("order %d is not an entry order", entryID)
	}
	if deadEntry(entry) {
		return false, nil
	}

	st, err := s.strategies.Get(ctx, entry.StrategyID)
	if errors.Is(err, models.ErrNotFound) {
		return false, err
	}
	if err != nil {
		return true, err
	}

	exit, err := s.orders.ActiveExitFor(ctx, entry.ID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		exit = nil
	case err != nil:
		return true, err
	}

	if exit != nil && exit.PlacementFailed() {
		// новая попытка будет на следующем проходе
		if err := s.orders.Discard(ctx, exit.ID, s.now()); err != nil {
			return true, err
		}
		return true, nil
	}
	if exit != nil && exit.State.Terminal() {
		s.closed(ctx, exit)
		return false, nil
	}

	if exit != nil {
		if entry.State != models.StateCompleted {
			s.logRefresh(ctx, entry)
		}
		s.logRefresh(ctx, exit)
		if exit.State.Terminal() {
			s.closed(ctx, exit)
			return false, nil
		}
	} else {
		if entry.FilledQuantity == 0 {
			s.logRefresh(ctx, entry)
		}
		if entry.FilledQuantity == 0 {
			return !deadEntry(entry), nil
		}
		exit = s.buildExit(entry)
		if err := s.orders.Create(ctx, exit); err != nil {
			return true, err
		}
		if err := s.pushExit(ctx, exit); err != nil {
			logger.Error("reconcile entry=%d: %v", entry.ID, err)
			return true, nil
		}
	}

	prog, err := rules.Compile(st.ExitRule)
	if err != nil {
		return false, errors.Wrapf(err, "strategy %d exit rule", st.ID)
	}
	matched, err := s.matcher.MatchIDs(ctx, prog, []int64{exit.InstrumentID})
	if err != nil {
		return true, err
	}
	if len(matched) == 0 {
		return true, nil
	}

	reinitiated, err := s.ExitAtCurrentPrice(ctx, exit)
	if err != nil {
		return true, err
	}
	if reinitiated {
		return true, nil
	}
	if exit.State == models.StateCompleted {
		s.closed(ctx, exit)
	}
	return false, nil
}

// deadEntry сообщает, что по заявке позиции уже не будет.
func deadEntry(o *models.Order) bool {
	if o.Discarded() || o.PlacementFailed() || o.State == models.StateRejected {
		return true
	}
	return o.State == models.StateCancelled && o.FilledQuantity == 0
}

func (s *Service) logRefresh(ctx context.Context, o *models.Order) {
	if err := s.refresh(ctx, o); err != nil {
		logger.Warn("refresh order %d: %v", o.ID, err)
	}
}

func (s *Service) closed(ctx context.Context, exit *models.Order) {
	if exit.State != models.StateCompleted {
		return
	}
	if err := s.strategies.AppendClosedOrder(ctx, exit.StrategyID, exit.ID); err != nil {
		logger.Error("strategy %d: record closed order %d: %v", exit.StrategyID, exit.ID, err)
	}
}
