package screener

import (
	"context"
	"sync"
	"time"

	"rule_trader/internal/models"
	"rule_trader/internal/rules"
	"rule_trader/pkg/logger"
	"rule_trader/pkg/tracing"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
)

type Store interface {
	Get(ctx context.Context, id int64) (*models.Screener, error)
	ReplaceShortlist(ctx context.Context, id int64, ids []int64, at time.Time) error
}

type Matcher interface {
	MatchAll(ctx context.Context, prog *rules.Program) ([]int64, error)
}

type Service struct {
	store   Store
	matcher Matcher
	now     func() time.Time

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewService(store Store, matcher Matcher) *Service {
	return &Service{
		store:   store,
		matcher: matcher,
		now:     time.Now,
		locks:   make(map[int64]*sync.Mutex),
	}
}

func (s *Service) lock(id int64) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Scan прогоняет правило скринера по всем инструментам и заменяет шортлист.
// При любой ошибке старый шортлист остается как был.
func (s *Service) Scan(ctx context.Context, id int64) (ids []int64, err error) {
	span, ctx := tracing.StartSpan(ctx, "screener.scan", opentracing.Tags{"screener.id": id})
	defer func() { tracing.Finish(span, err) }()

	unlock := s.lock(id)
	defer unlock()

	sc, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	prog, err := rules.Compile(sc.Rules)
	if err != nil {
		return nil, errors.Wrapf(err, "screener=%d", id)
	}

	started := s.now()
	ids, err = s.matcher.MatchAll(ctx, prog)
	if err != nil {
		return nil, errors.Wrapf(err, "screener=%d scan", id)
	}
	if ids == nil {
		ids = []int64{}
	}
	if err = s.store.ReplaceShortlist(ctx, id, ids, started); err != nil {
		return nil, err
	}
	logger.Info("screener=%d scanned: %d instruments matched in %s", id, len(ids), s.now().Sub(started))
	return ids, nil
}
