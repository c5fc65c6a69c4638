package engine

import (
	"context"
	"net/http"
	"time"

	"rule_trader/internal/broker"
	"rule_trader/internal/indicator"
	"rule_trader/internal/models"
	"rule_trader/internal/modules/config"
	"rule_trader/internal/modules/engine/service"
	health "rule_trader/internal/modules/health/service"
	"rule_trader/internal/orders"
	"rule_trader/internal/ruleeval"
	"rule_trader/internal/scheduler"
	"rule_trader/internal/screener"
	"rule_trader/internal/store"
	"rule_trader/internal/strategy"
	"rule_trader/pkg/db"
	"rule_trader/pkg/logger"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
)

func NewMarketHours(cfg *config.Config) (indicator.MarketHours, error) {
	return indicator.NewMarketHours(cfg.Market.Timezone, cfg.Market.Open, cfg.Market.Close)
}

func NewResolver(candles *store.Candles, prices indicator.PriceCache, hours indicator.MarketHours) *indicator.Resolver {
	return indicator.NewResolver(candles, prices, hours)
}

func NewEvaluator(tx db.TxManager, instruments *store.Instruments, resolver *indicator.Resolver, cfg *config.Config) *ruleeval.Evaluator {
	return ruleeval.New(tx, instruments, resolver, ruleeval.Config{
		BatchSize:           cfg.Engine.BatchSize,
		SampleExchangeToken: cfg.Engine.SampleExchangeToken,
	})
}

func NewScreener(screeners *store.Screeners, eval *ruleeval.Evaluator) *screener.Service {
	return screener.NewService(screeners, eval)
}

func NewScheduler(cfg *config.Config) *scheduler.Scheduler {
	return scheduler.New(cfg.Engine.Workers)
}

func pricing(cfg *config.Config) orders.Pricing {
	o := cfg.Orders
	return orders.Pricing{
		Quantity:      o.Quantity,
		Variety:       o.Variety,
		EntryType:     o.OrderType,
		Product:       o.Product,
		EntryValidity: o.EntryValidity,
		ExitValidity:  o.ExitValidity,
		StopPct:       decimal.NewFromFloat(o.StopPct),
		LimitPct:      decimal.NewFromFloat(o.LimitPct),
		ExitTickSteps: int64(o.ExitTickSteps),
		SimulateAll:   cfg.Broker.Simulate,
	}
}

type OrdersParams struct {
	fx.In

	Config      *config.Config
	Orders      *store.Orders
	Strategies  *store.Strategies
	Instruments *store.Instruments
	Resolver    *indicator.Resolver
	Brokers     broker.Factory
	Evaluator   *ruleeval.Evaluator
	Notifier    orders.Notifier
	Scheduler   *scheduler.Scheduler
}

func NewOrders(p OrdersParams) *orders.Service {
	return orders.NewService(orders.Deps{
		Orders:      p.Orders,
		Strategies:  p.Strategies,
		Instruments: p.Instruments,
		Prices:      orders.ResolverPrices{Resolver: p.Resolver},
		Brokers:     p.Brokers,
		Matcher:     p.Evaluator,
		Notifier:    p.Notifier,
		Jobs:        p.Scheduler,
	}, pricing(p.Config))
}

func NewStrategies(
	cfg *config.Config,
	hours indicator.MarketHours,
	strategies *store.Strategies,
	instruments *store.Instruments,
	eval *ruleeval.Evaluator,
	scr *screener.Service,
	ord *orders.Service,
	sched *scheduler.Scheduler,
) (*strategy.Service, error) {
	hour, minute, err := models.ParseClock(cfg.Market.KickoffAt)
	if err != nil {
		return nil, errors.Wrap(err, "market.kickoff_at")
	}
	return strategy.NewService(strategy.Deps{
		Store:       strategies,
		Instruments: instruments,
		Matcher:     eval,
		Screener:    scr,
		Entries:     ord,
		Validator:   eval,
		Jobs:        sched,
	}, hours, strategy.Config{KickoffHour: hour, KickoffMinute: minute}), nil
}

func NewEngine(sched *scheduler.Scheduler, ord *orders.Service, st *strategy.Service, openOrders *store.Orders) *service.Engine {
	return service.New(sched, ord, st, openOrders)
}

// Run запускает движок вместе с приложением и гасит цикл планировщика на остановке.
func Run(
	lc fx.Lifecycle,
	e *service.Engine,
	sched *scheduler.Scheduler,
	state *health.State,
	mux *http.ServeMux,
	st *strategy.Service,
	scr *screener.Service,
) {
	service.NewAdmin(st, scr, sched).Mount(mux)
	sched.OnTick(func(t time.Time) {
		state.TouchTick(t)
		state.SetJobs(len(sched.Jobs()))
	})

	runCtx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := e.Start(runCtx); err != nil {
				cancel()
				return err
			}
			state.SetRunning(true)
			state.SetReady(true)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			state.SetReady(false)
			cancel()
			err := e.Wait(ctx)
			state.SetRunning(false)
			logger.Info("engine stopped")
			return err
		},
	})
}

func Module() fx.Option {
	return fx.Module("engine",
		fx.Provide(
			NewMarketHours,
			NewResolver,
			NewEvaluator,
			NewScreener,
			NewScheduler,
			NewOrders,
			NewStrategies,
			NewEngine,
		),
		fx.Invoke(Run),
	)
}
