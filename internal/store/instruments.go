package store

import (
	"context"
	"strconv"

	"rule_trader/internal/models"
	"rule_trader/pkg/db"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// Instruments читает справочник инструментов. Движок его не меняет, поэтому
// поиск по id кешируется.
type Instruments struct {
	db    db.TxManager
	cache *Cache
}

func NewInstruments(tx db.TxManager, cache *Cache) *Instruments {
	return &Instruments{db: tx, cache: cache}
}

const instrumentColumns = `id, name, exchange, exchange_token, tradingsymbol, tick_size, lot_size,
	coalesce(ltp, 0), coalesce(previous_day_ltp, 0), updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanInstrument(row scanner) (models.Instrument, error) {
	var i models.Instrument
	err := row.Scan(&i.ID, &i.Name, &i.Exchange, &i.ExchangeToken, &i.TradingSymbol, &i.TickSize,
		&i.LotSize, &i.LTP, &i.PreviousDayLTP, &i.UpdatedAt)
	return i, err
}

// ristretto хеширует только базовые типы, поэтому ключ строковый.
func instrumentKey(id int64) string { return "instrument:" + strconv.FormatInt(id, 10) }

func (s *Instruments) Get(ctx context.Context, id int64) (inst models.Instrument, err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "Instruments.Get")
		}
	}()
	if v, ok := s.cache.Get(instrumentKey(id)); ok {
		return v.(models.Instrument), nil
	}
	inst, err = scanInstrument(s.db.Conn(ctx).QueryRow(ctx,
		`select `+instrumentColumns+` from instruments where id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Instrument{}, errors.Wrapf(models.ErrNotFound, "instrument %d", id)
	}
	if err != nil {
		return models.Instrument{}, err
	}
	s.cache.Set(instrumentKey(id), inst)
	return inst, nil
}

func (s *Instruments) ByExchangeToken(ctx context.Context, token string) (inst models.Instrument, err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "Instruments.ByExchangeToken")
		}
	}()
	inst, err = scanInstrument(s.db.Conn(ctx).QueryRow(ctx,
		`select `+instrumentColumns+` from instruments where exchange_token = $1 order by id limit 1`, token))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Instrument{}, errors.Wrapf(models.ErrNotFound, "instrument token %s", token)
	}
	return inst, err
}

// Batch отдает до limit инструментов с id > afterID по возрастанию id.
func (s *Instruments) Batch(ctx context.Context, afterID int64, limit int) (out []models.Instrument, err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "Instruments.Batch")
		}
	}()
	rows, err := s.db.Conn(ctx).Query(ctx,
		`select `+instrumentColumns+` from instruments where id > $1 order by id limit $2`, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out = make([]models.Instrument, 0, limit)
	for rows.Next() {
		inst, err := scanInstrument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func (s *Instruments) ByIDs(ctx context.Context, ids []int64) (out []models.Instrument, err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "Instruments.ByIDs")
		}
	}()
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.Conn(ctx).Query(ctx,
		`select `+instrumentColumns+` from instruments where id = any($1) order by id`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		inst, err := scanInstrument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// AllIDs отдает весь справочник для стратегий без явного списка инструментов.
func (s *Instruments) AllIDs(ctx context.Context) (out []int64, err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "Instruments.AllIDs")
		}
	}()
	rows, err := s.db.Conn(ctx).Query(ctx, `select id from instruments order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
