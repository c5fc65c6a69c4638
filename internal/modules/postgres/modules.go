package postgres

import (
	"context"

	"rule_trader/internal/modules/config"
	"rule_trader/internal/store"
	"rule_trader/pkg/db"
	"rule_trader/pkg/logger"

	"github.com/pkg/errors"
	"go.uber.org/fx"
)

func NewTxManager(ctx context.Context, lc fx.Lifecycle, cfg *config.Config) (*db.PgTxManager, error) {
	poolMaster, err := db.NewPool(ctx, db.PoolConfig{
		DSN: cfg.DB,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create poolMaster")
	}

	err = poolMaster.Ping(ctx)
	if err != nil {
		return nil, err
	}

	tx := db.NewPgTxManager(poolMaster)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if !cfg.Migrate {
				return nil
			}
			logger.Info("applying migrations")
			return store.Migrate(ctx, tx.Conn(ctx))
		},
		OnStop: func(context.Context) error {
			tx.Close()
			return nil
		},
	})
	return tx, nil
}

func NewCache(lc fx.Lifecycle, cfg *config.Config) (*store.Cache, error) {
	c, err := store.NewCache(cfg.Cache.MaxCost, cfg.Cache.TTL)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(c.Close))
	return c, nil
}

// Module поднимает пул, менеджер транзакций и репозитории поверх него.
func Module() fx.Option {
	return fx.Module("postgres",
		fx.Provide(
			NewTxManager,
			func(tx *db.PgTxManager) db.TxManager { return tx },
			NewCache,
			store.NewInstruments,
			store.NewCandles,
			store.NewStrategies,
			store.NewScreeners,
			store.NewOrders,
			store.NewNotifications,
			store.NewAPIConfigurations,
		),
	)
}
