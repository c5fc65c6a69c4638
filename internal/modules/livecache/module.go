package livecache

import (
	"context"

	"rule_trader/internal/indicator"
	"rule_trader/internal/modules/config"
	"rule_trader/internal/modules/livecache/service"
	"rule_trader/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

// NewPriceCache возвращает nil, если redis выключен. Тогда резолвер всегда берет дневное закрытие.
func NewPriceCache(lc fx.Lifecycle, cfg *config.Config) indicator.PriceCache {
	if !cfg.Redis.Enabled {
		logger.Warn("live price cache disabled, ltp falls back to daily close")
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// кеш не обязателен для старта
			if err := rdb.Ping(ctx).Err(); err != nil {
				logger.Warn("redis %s: %v", cfg.Redis.Addr, err)
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return rdb.Close()
		},
	})
	return service.NewPrices(rdb)
}

func Module() fx.Option {
	return fx.Module("livecache",
		fx.Provide(NewPriceCache),
	)
}
