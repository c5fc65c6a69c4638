package service

import (
	"context"
	"net/http"
	"sync"
	"time"

	"rule_trader/internal/broker"
	"rule_trader/internal/models"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

type Configurations interface {
	LatestFor(ctx context.Context, userID int64, apiName string) (*models.APIConfiguration, error)
}

type FactoryConfig struct {
	BaseURL string
	APIName string
	Timeout time.Duration
	RPS     float64
	Burst   int
}

// Factory собирает клиента под ключи пользователя. Конфигурация читается на каждый вызов:
// access token меняется ежедневно. Лимитер общий на api key.
type Factory struct {
	configs Configurations
	cfg     FactoryConfig
	http    *http.Client

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

var _ broker.Factory = (*Factory)(nil)

func NewFactory(configs Configurations, cfg FactoryConfig) *Factory {
	return &Factory{
		configs:  configs,
		cfg:      cfg,
		http:     defaultHTTPClient(cfg.Timeout),
		limiters: make(map[string]*rate.Limiter),
	}
}

func (f *Factory) ForUser(ctx context.Context, userID int64) (broker.Broker, error) {
	c, err := f.configs.LatestFor(ctx, userID, f.cfg.APIName)
	if errors.Is(err, models.ErrNotFound) {
		return nil, errors.Wrapf(broker.ErrMissingConfiguration, "user %d", userID)
	}
	if err != nil {
		return nil, err
	}
	if c.APIKey == "" || c.AccessToken == "" {
		return nil, errors.Wrapf(broker.ErrMissingConfiguration, "user %d: empty credentials", userID)
	}
	return NewClient(f.http, f.cfg.BaseURL, c.APIKey, c.AccessToken, f.limiter(c.APIKey)), nil
}

func (f *Factory) limiter(apiKey string) *rate.Limiter {
	if f.cfg.RPS <= 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limiters[apiKey]
	if !ok {
		burst := f.cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		l = rate.NewLimiter(rate.Limit(f.cfg.RPS), burst)
		f.limiters[apiKey] = l
	}
	return l
}
