package store

import (
	"context"

	"rule_trader/internal/models"
	"rule_trader/pkg/db"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// Candles читает instrument_histories. Свечи пишет внешний фид.
type Candles struct {
	db db.TxManager
}

func NewCandles(tx db.TxManager) *Candles {
	return &Candles{db: tx}
}

func (s *Candles) NthLatest(ctx context.Context, instrumentID int64, unit models.Unit, interval, back int) (c models.Candle, found bool, err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "Candles.NthLatest")
		}
	}()
	var unitCode int
	err = s.db.Conn(ctx).QueryRow(ctx, `
		select instrument_id, unit, interval, date, open, high, low, close, volume
		from instrument_histories
		where instrument_id = $1 and unit = $2 and interval = $3
		order by date desc
		offset $4 limit 1`,
		instrumentID, unit.Code(), interval, back,
	).Scan(&c.InstrumentID, &unitCode, &c.Interval, &c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Candle{}, false, nil
	}
	if err != nil {
		return models.Candle{}, false, err
	}
	c.Unit, err = models.UnitFromCode(unitCode)
	if err != nil {
		return models.Candle{}, false, err
	}
	return c, true, nil
}
