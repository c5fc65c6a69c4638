package strategy

import (
	"context"
	"time"

	"rule_trader/internal/models"
	"rule_trader/internal/scheduler"
	"rule_trader/pkg/logger"

	"github.com/pkg/errors"
)

// HandleDailyKickoff раз в торговый день раскладывает развернутые стратегии по расписанию.
// Скринерные сбрасываются и ждут своего screener_execution_time, остальные стартуют сразу.
func (s *Service) HandleDailyKickoff(ctx context.Context, _ scheduler.Job) (scheduler.Next, error) {
	now := s.now()
	next := scheduler.At(s.hours.NextWeekday(now, s.cfg.KickoffHour, s.cfg.KickoffMinute))

	deployed, err := s.store.ListDeployed(ctx)
	if err != nil {
		logger.Error("daily kickoff: %v", err)
		return next, nil
	}
	logger.Info("daily kickoff: %d deployed strategies", len(deployed))

	for _, st := range deployed {
		if !st.ScreenerBased() {
			s.enqueue(st.ID, s.jobs.EnqueueNow(entryKey(st.ID), scheduler.Flags{}))
			continue
		}

		hour, minute, err := models.ParseClock(st.ScreenerExecutionTime)
		if err != nil {
			logger.Error("daily kickoff: strategy %d: %v", st.ID, err)
			continue
		}
		st.ResetDaily()
		st.InstrumentIDs = []int64{}
		if err := s.store.SaveProgress(ctx, st); err != nil {
			logger.Error("daily kickoff: strategy %d: %v", st.ID, err)
			continue
		}
		at := s.hours.At(now, hour, minute)
		s.enqueue(st.ID, s.jobs.EnqueueAt(entryKey(st.ID), at, scheduler.Flags{Kickoff: true}))
	}
	return next, nil
}

func (s *Service) enqueue(strategyID int64, err error) {
	if err != nil && !errors.Is(err, scheduler.ErrConflict) {
		logger.Error("strategy %d: schedule entry scan: %v", strategyID, err)
	}
}

var kickoffKey = scheduler.Key{Kind: scheduler.KindDailyKickoff}

// StartKickoff ставит ежедневный старт: сегодня, если время еще впереди и день рабочий,
// иначе на следующий рабочий день. Возвращает время первого запуска.
func (s *Service) StartKickoff() (time.Time, error) {
	at := s.hours.NextWeekday(s.now(), s.cfg.KickoffHour, s.cfg.KickoffMinute)
	if err := s.jobs.EnqueueAt(kickoffKey, at, scheduler.Flags{}); err != nil {
		return time.Time{}, err
	}
	return at, nil
}
