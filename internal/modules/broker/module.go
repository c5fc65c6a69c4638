package broker

import (
	"rule_trader/internal/broker"
	"rule_trader/internal/modules/broker/service"
	"rule_trader/internal/modules/config"
	"rule_trader/internal/store"

	"go.uber.org/fx"
)

func NewFactory(cfg *config.Config, configs *store.APIConfigurations) broker.Factory {
	return service.NewFactory(configs, service.FactoryConfig{
		BaseURL: cfg.Broker.BaseURL,
		APIName: cfg.Broker.APIName,
		Timeout: cfg.Broker.Timeout,
		RPS:     cfg.Broker.RPS,
		Burst:   cfg.Broker.Burst,
	})
}

func Module() fx.Option {
	return fx.Module("broker",
		fx.Provide(NewFactory),
	)
}
