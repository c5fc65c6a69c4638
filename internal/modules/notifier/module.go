package notifier

import (
	"context"

	"rule_trader/internal/modules/config"
	"rule_trader/internal/modules/notifier/service"
	"rule_trader/internal/orders"
	"rule_trader/internal/store"
	"rule_trader/pkg/logger"

	"go.uber.org/fx"
)

// NewDispatcher собирает каналы из конфига: WebSocket всегда, Telegram и Kafka: если настроены.
func NewDispatcher(lc fx.Lifecycle, cfg *config.Config, notifications *store.Notifications, hub *service.Hub) *service.Dispatcher {
	sinks := []service.Sink{hub}

	if cfg.Telegram.Token != "" {
		tg, err := service.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err != nil {
			logger.Error("telegram notifier disabled: %v", err)
		} else {
			sinks = append(sinks, tg)
		}
	}

	if len(cfg.Kafka.Brokers) > 0 {
		k := service.NewKafka(service.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic))
		sinks = append(sinks, k)
		lc.Append(fx.StopHook(k.Close))
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			hub.Close()
			return nil
		},
	})
	return service.NewDispatcher(notifications, sinks...)
}

func Module() fx.Option {
	return fx.Module("notifier",
		fx.Provide(
			service.NewHub,
			NewDispatcher,
			func(d *service.Dispatcher) orders.Notifier { return d },
		),
	)
}
