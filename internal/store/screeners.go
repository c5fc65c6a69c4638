package store

import (
	"context"
	"time"

	"rule_trader/internal/models"
	"rule_trader/pkg/db"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

type Screeners struct {
	db db.TxManager
}

func NewScreeners(tx db.TxManager) *Screeners {
	return &Screeners{db: tx}
}

func (s *Screeners) Get(ctx context.Context, id int64) (sc *models.Screener, err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "Screeners.Get")
		}
	}()
	sc = &models.Screener{}
	err = s.db.Conn(ctx).QueryRow(ctx, `
		select id, user_id, name, rules, active, scanned_instrument_ids, scanned_at, created_at, updated_at
		from screeners where id = $1`, id,
	).Scan(&sc.ID, &sc.UserID, &sc.Name, &sc.Rules, &sc.Active, &sc.ScannedInstrumentIDs, &sc.ScannedAt,
		&sc.CreatedAt, &sc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(models.ErrNotFound, "screener %d", id)
	}
	if err != nil {
		return nil, err
	}
	return sc, nil
}

// ReplaceShortlist заменяет шортлист и время скана одним выражением.
func (s *Screeners) ReplaceShortlist(ctx context.Context, id int64, ids []int64, at time.Time) (err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "Screeners.ReplaceShortlist")
		}
	}()
	tag, err := s.db.Conn(ctx).Exec(ctx, `
		update screeners set scanned_instrument_ids = $2, scanned_at = $3, updated_at = now()
		where id = $1`, id, nonNil(ids), at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(models.ErrNotFound, "screener %d", id)
	}
	return nil
}
