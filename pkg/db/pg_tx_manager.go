package db

import (
	"context"
	"time"

	"rule_trader/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

type PoolConfig struct {
	DSN               string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// errRollback сигнализирует inTx откатить транзакцию без ошибки для вызывающего.
var errRollback = errors.New("rollback requested")

type txKey struct{}

type PgTxManager struct {
	poolMaster *pgxpool.Pool
}

func NewPgTxManager(poolMaster *pgxpool.Pool) *PgTxManager {
	return &PgTxManager{
		poolMaster: poolMaster,
	}
}

func (m *PgTxManager) Close() {
	m.poolMaster.Close()
}

func NewPool(ctx context.Context, conf PoolConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(conf.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "parse dsn")
	}
	if conf.MaxConns > 0 {
		poolCfg.MaxConns = conf.MaxConns
	}
	if conf.MinConns > 0 && conf.MinConns <= poolCfg.MaxConns {
		poolCfg.MinConns = conf.MinConns
	}
	if conf.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = conf.MaxConnLifetime
	}
	if conf.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = conf.MaxConnIdleTime
	}
	if conf.HealthCheckPeriod > 0 {
		poolCfg.HealthCheckPeriod = conf.HealthCheckPeriod
	}
	return pgxpool.NewWithConfig(ctx, poolCfg)
}

func (m *PgTxManager) RunMaster(ctx context.Context, fn func(ctxTx context.Context, tx Transaction) error) error {
	options := pgx.TxOptions{
		IsoLevel: pgx.ReadCommitted,
	}
	// то что запрос нужно выполнить на мастере еще не означает что это нужно выполнить в транзакции, может требоваться
	// просто согласованное чтение, например.
	return m.inTx(ctx, m.poolMaster, options, fn)
}

func (m *PgTxManager) RunRepeatableRead(ctx context.Context, fn func(ctxTx context.Context, tx Transaction) error) error {
	options := pgx.TxOptions{
		IsoLevel: pgx.RepeatableRead,
	}
	return m.inTx(ctx, m.poolMaster, options, fn)
}

// RunRollback выполняет fn в транзакции, которая откатывается всегда, даже при успехе.
// Используется для вычисления правил: ничего из того, что сделано внутри, не должно сохраниться.
func (m *PgTxManager) RunRollback(ctx context.Context, fn func(ctxTx context.Context) error) error {
	options := pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	}
	err := m.inTx(ctx, m.poolMaster, options, func(ctxTx context.Context, _ Transaction) error {
		if err := fn(ctxTx); err != nil {
			return err
		}
		return errRollback
	})
	if errors.Is(err, errRollback) {
		return nil
	}
	return err
}

// Conn возвращает транзакцию из контекста, если она есть, иначе пул.
func (m *PgTxManager) Conn(ctx context.Context) Transaction {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return m.poolMaster
}

func (m *PgTxManager) Ping(ctx context.Context) error {
	return m.poolMaster.Ping(ctx)
}

func (m *PgTxManager) inTx(
	ctx context.Context,
	pool *pgxpool.Pool,
	options pgx.TxOptions,
	f func(ctxTx context.Context, tx Transaction) error,
) (err error) {
	// вложенный вызов переиспользует уже открытую транзакцию
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return f(ctx, tx)
	}

	tx, err := pool.BeginTx(ctx, options)
	if err != nil {
		return errors.Wrap(err, "failed to begin tx")
	}
	ctxTx := context.WithValue(ctx, txKey{}, tx)

	defer func() {
		if p := recover(); p != nil {
			logger.Error("%v", p)
			_ = tx.Rollback(ctx)
			panic(p) // fallthrough panic after rollback on caught panic
		} else if err != nil {
			_ = tx.Rollback(ctx) // if error during computations
		} else {
			err = tx.Commit(ctx) // all good
		}
	}()

	err = f(ctxTx, tx)
	if err != nil {
		if errors.Is(err, errRollback) {
			return err
		}
		return errors.Wrap(err, "failed to run fn")
	}

	return nil
}
