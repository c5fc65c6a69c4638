// Package strategy крутит цикл входа стратегий: ежедневный старт,
// поминутный скан entry-правила и размещение entry-заявок.
package strategy

import (
	"context"
	"time"

	"rule_trader/internal/indicator"
	"rule_trader/internal/models"
	"rule_trader/internal/rules"
	"rule_trader/internal/scheduler"
	"rule_trader/pkg/logger"

	"github.com/pkg/errors"
)

type Store interface {
	Get(ctx context.Context, id int64) (*models.Strategy, error)
	ListDeployed(ctx context.Context) ([]*models.Strategy, error)
	Create(ctx context.Context, st *models.Strategy) error
	SaveProgress(ctx context.Context, st *models.Strategy) error
	SetDeployed(ctx context.Context, id int64, deployed bool) error
}

type Instruments interface {
	Get(ctx context.Context, id int64) (models.Instrument, error)
	AllIDs(ctx context.Context) ([]int64, error)
}

type Matcher interface {
	MatchIDs(ctx context.Context, prog *rules.Program, ids []int64) ([]int64, error)
}

type Screener interface {
	Scan(ctx context.Context, id int64) ([]int64, error)
}

type Entries interface {
	InitiateEntry(ctx context.Context, st *models.Strategy, inst models.Instrument) (*models.Order, error)
}

type Validator interface {
	ValidateStrategy(ctx context.Context, st *models.Strategy) error
}

type Jobs interface {
	EnqueueNow(key scheduler.Key, flags scheduler.Flags) error
	EnqueueAt(key scheduler.Key, at time.Time, flags scheduler.Flags) error
	Cancel(key scheduler.Key) bool
}

type Deps struct {
	Store       Store
	Instruments Instruments
	Matcher     Matcher
	Screener    Screener
	Entries     Entries
	Validator   Validator
	Jobs        Jobs
}

// Config задает время ежедневного старта в часовом поясе биржи.
type Config struct {
	KickoffHour   int
	KickoffMinute int
}

type Service struct {
	store       Store
	instruments Instruments
	matcher     Matcher
	screener    Screener
	entries     Entries
	validator   Validator
	jobs        Jobs
	hours       indicator.MarketHours
	cfg         Config
	now         func() time.Time
}

func NewService(d Deps, hours indicator.MarketHours, cfg Config) *Service {
	return &Service{
		store:       d.Store,
		instruments: d.Instruments,
		matcher:     d.Matcher,
		screener:    d.Screener,
		entries:     d.Entries,
		validator:   d.Validator,
		jobs:        d.Jobs,
		hours:       hours,
		cfg:         cfg,
		now:         time.Now,
	}
}

func entryKey(id int64) scheduler.Key {
	return scheduler.Key{Kind: scheduler.KindEntryScan, ID: id}
}

// Save проверяет правила и сохраняет новую стратегию. Развернутая сразу ставится в расписание.
func (s *Service) Save(ctx context.Context, st *models.Strategy) error {
	if st.DailyMaxEntries <= 0 {
		st.DailyMaxEntries = models.DefaultDailyMaxEntries
	}
	if st.ReEnter < 0 {
		st.ReEnter = models.DefaultReEnter
	}
	if err := s.validator.ValidateStrategy(ctx, st); err != nil {
		return err
	}
	if err := s.store.Create(ctx, st); err != nil {
		return err
	}
	if st.Deployed {
		s.schedule(st)
	}
	return nil
}

func (s *Service) Deploy(ctx context.Context, id int64) error {
	st, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.SetDeployed(ctx, id, true); err != nil {
		return err
	}
	st.Deployed = true
	s.schedule(st)
	return nil
}

// Undeploy снимает стратегию с расписания. Уже открытые позиции продолжают сверяться.
func (s *Service) Undeploy(ctx context.Context, id int64) error {
	if err := s.store.SetDeployed(ctx, id, false); err != nil {
		return err
	}
	s.jobs.Cancel(entryKey(id))
	return nil
}

// schedule ставит ближайший скан. Скринерная стратегия ждет своего времени,
// если оно сегодня уже прошло, ее запустит следующий ежедневный старт.
func (s *Service) schedule(st *models.Strategy) {
	var err error
	if st.ScreenerBased() {
		hour, minute, perr := models.ParseClock(st.ScreenerExecutionTime)
		if perr != nil {
			logger.Error("strategy %d: %v", st.ID, perr)
			return
		}
		at := s.hours.At(s.now(), hour, minute)
		if at.Before(s.now()) {
			return
		}
		err = s.jobs.EnqueueAt(entryKey(st.ID), at, scheduler.Flags{Kickoff: true})
	} else {
		err = s.jobs.EnqueueNow(entryKey(st.ID), scheduler.Flags{})
	}
	if err != nil && !errors.Is(err, scheduler.ErrConflict) {
		logger.Error("strategy %d: schedule entry scan: %v", st.ID, err)
	}
}

// Resume после рестарта возвращает в расписание все развернутые стратегии.
func (s *Service) Resume(ctx context.Context) (int, error) {
	deployed, err := s.store.ListDeployed(ctx)
	if err != nil {
		return 0, err
	}
	for _, st := range deployed {
		s.schedule(st)
	}
	return len(deployed), nil
}
