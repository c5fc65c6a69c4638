package service

import (
	"context"
	"time"

	"rule_trader/internal/helper"
	"rule_trader/internal/models"
	"rule_trader/internal/scheduler"
	"rule_trader/pkg/logger"

	"github.com/pkg/errors"
)

type Scheduler interface {
	Register(kind scheduler.Kind, unique bool, fn scheduler.Handler)
	EnqueueNow(key scheduler.Key, flags scheduler.Flags) error
	Run(ctx context.Context)
}

type Reconciler interface {
	Reconcile(ctx context.Context, entryID int64) (bool, error)
}

type Strategies interface {
	HandleEntryScan(ctx context.Context, job scheduler.Job) (scheduler.Next, error)
	HandleDailyKickoff(ctx context.Context, job scheduler.Job) (scheduler.Next, error)
	StartKickoff() (time.Time, error)
	Resume(ctx context.Context) (int, error)
}

type OpenEntries interface {
	OpenEntries(ctx context.Context) ([]*models.Order, error)
}

// Engine связывает планировщик с обработчиками стратегий и сверки заявок.
type Engine struct {
	sched      Scheduler
	orders     Reconciler
	strategies Strategies
	entries    OpenEntries
	now        func() time.Time

	done chan struct{}
}

func New(sched Scheduler, orders Reconciler, strategies Strategies, entries OpenEntries) *Engine {
	return &Engine{
		sched:      sched,
		orders:     orders,
		strategies: strategies,
		entries:    entries,
		now:        time.Now,
	}
}

func (e *Engine) Register() {
	e.sched.Register(scheduler.KindExitScan, true, e.HandleExitScan)
	e.sched.Register(scheduler.KindEntryScan, false, e.strategies.HandleEntryScan)
	e.sched.Register(scheduler.KindDailyKickoff, false, e.strategies.HandleDailyKickoff)
}

// HandleExitScan делает одну сверку позиции. Пока сверка просит повтора, следующая через минуту.
func (e *Engine) HandleExitScan(ctx context.Context, job scheduler.Job) (scheduler.Next, error) {
	retry, err := e.orders.Reconcile(ctx, job.ID)
	if retry {
		if err != nil {
			logger.Warn("exit scan entry=%d: %v", job.ID, err)
		}
		return scheduler.At(helper.NextMinute(e.now())), nil
	}
	return scheduler.Stop(), err
}

// Recover ставит сверку всем открытым позициям после рестарта.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	open, err := e.entries.OpenEntries(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "open entries")
	}
	n := 0
	for _, o := range open {
		err := e.sched.EnqueueNow(scheduler.Key{Kind: scheduler.KindExitScan, ID: o.ID}, scheduler.Flags{})
		switch {
		case err == nil:
			n++
		case errors.Is(err, scheduler.ErrConflict):
		default:
			return n, err
		}
	}
	return n, nil
}

// Start регистрирует обработчики, восстанавливает сверки и стратегии, ставит ежедневный
// старт и запускает цикл планировщика до отмены ctx.
func (e *Engine) Start(ctx context.Context) error {
	e.Register()

	n, err := e.Recover(ctx)
	if err != nil {
		return err
	}
	logger.Info("engine: %d open positions scheduled for reconciliation", n)

	deployed, err := e.strategies.Resume(ctx)
	if err != nil {
		return errors.Wrap(err, "resume strategies")
	}
	logger.Info("engine: %d deployed strategies resumed", deployed)

	at, err := e.strategies.StartKickoff()
	if err != nil {
		return errors.Wrap(err, "schedule daily kickoff")
	}
	logger.Info("engine: daily kickoff at %s", at.Format(time.RFC3339))

	e.done = make(chan struct{})
	go func() {
		defer close(e.done)
		e.sched.Run(ctx)
	}()
	return nil
}

// Wait дожидается остановки цикла планировщика.
func (e *Engine) Wait(ctx context.Context) error {
	if e.done == nil {
		return nil
	}
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
