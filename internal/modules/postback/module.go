package postback

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"rule_trader/internal/modules/config"
	notifier "rule_trader/internal/modules/notifier/service"
	"rule_trader/internal/modules/postback/service"
	"rule_trader/internal/orders"
	"rule_trader/internal/ruleeval"
	"rule_trader/internal/store"
	"rule_trader/internal/strategy"
	"rule_trader/pkg/logger"

	"go.uber.org/fx"
)

func NewServer(
	ord *orders.Service,
	configs *store.APIConfigurations,
	eval *ruleeval.Evaluator,
	strategies *strategy.Service,
	hub *notifier.Hub,
) *service.Server {
	return service.NewServer(service.Deps{
		Postbacks:      ord,
		Configurations: configs,
		Validator:      eval,
		Strategies:     strategies,
		Notifications:  hub,
	})
}

func RunHTTP(lc fx.Lifecycle, cfg *config.Config, s *service.Server) {
	addr := fmt.Sprintf("%s:%d", cfg.Service.Host, cfg.Service.PublicPort)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			logger.Info("public http on %s", addr)
			go func() {
				if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("public http: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func Module() fx.Option {
	return fx.Module("postback",
		fx.Provide(NewServer),
		fx.Invoke(RunHTTP),
	)
}
