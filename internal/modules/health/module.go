package health

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"rule_trader/internal/modules/config"
	"rule_trader/internal/modules/health/service"
	"rule_trader/pkg/logger"

	"github.com/bytedance/sonic"
	"go.uber.org/fx"
)

type Config struct {
	Addr string // например ":8081"
}

func NewConfig(cfg *config.Config) Config {
	return Config{Addr: fmt.Sprintf("%s:%d", cfg.Service.Host, cfg.Service.AdminPort)}
}

// Цикл планировщика просыпается минимум раз в минуту.
const staleAfter = 3 * time.Minute

func NewMux(state *service.State) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		// liveness: процесс жив
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		// readiness: планировщик запущен и тикает
		if !state.Ready() || !state.Running() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		if t := state.LastTick(); !t.IsZero() && time.Since(t) > staleAfter {
			http.Error(w, "scheduler stalled", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		// полезный JSON для отладки
		resp := map[string]any{
			"ready":            state.Ready(),
			"schedulerRunning": state.Running(),
			"scheduledJobs":    state.Jobs(),
			"uptimeSec":        int64(state.Uptime().Seconds()),
			"lastTickUnix": func() int64 {
				t := state.LastTick()
				if t.IsZero() {
					return 0
				}
				return t.Unix()
			}(),
		}
		bs, _ := sonic.Marshal(resp)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(bs)
	})

	return mux
}

func RunHTTP(lc fx.Lifecycle, cfg Config, mux *http.ServeMux) {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", cfg.Addr)
			if err != nil {
				return err
			}
			logger.Info("admin http on %s", cfg.Addr)
			go func() { _ = srv.Serve(ln) }()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func Module() fx.Option {
	return fx.Module("health",
		fx.Provide(
			service.NewState,
			NewConfig,
			NewMux,
		),
		fx.Invoke(RunHTTP),
	)
}
