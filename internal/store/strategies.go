package store

import (
	"context"

	"rule_trader/internal/models"
	"rule_trader/pkg/db"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

type Strategies struct {
	db db.TxManager
}

func NewStrategies(tx db.TxManager) *Strategies {
	return &Strategies{db: tx}
}

const strategyColumns = `id, user_id, name, kind, entry_rule, exit_rule, deployed, only_simulate,
	daily_max_entries, re_enter, instrument_ids, entered_instrument_ids, close_order_ids,
	coalesce(screener_id, 0), screener_execution_time, parameters, created_at, updated_at`

func scanStrategy(row scanner) (*models.Strategy, error) {
	var (
		s      models.Strategy
		kind   string
		params []byte
	)
	err := row.Scan(&s.ID, &s.UserID, &s.Name, &kind, &s.EntryRule, &s.ExitRule, &s.Deployed, &s.OnlySimulate,
		&s.DailyMaxEntries, &s.ReEnter, &s.InstrumentIDs, &s.EnteredInstrumentIDs, &s.CloseOrderIDs,
		&s.ScreenerID, &s.ScreenerExecutionTime, &params, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.Kind = models.SourceKind(kind)
	if len(params) > 0 {
		if err := sonic.Unmarshal(params, &s.Parameters); err != nil {
			return nil, errors.Wrap(err, "parameters")
		}
	}
	return &s, nil
}

func (s *Strategies) Get(ctx context.Context, id int64) (st *models.Strategy, err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "Strategies.Get")
		}
	}()
	st, err = scanStrategy(s.db.Conn(ctx).QueryRow(ctx,
		`select `+strategyColumns+` from strategies where id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(models.ErrNotFound, "strategy %d", id)
	}
	return st, err
}

func (s *Strategies) ListDeployed(ctx context.Context) (out []*models.Strategy, err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "Strategies.ListDeployed")
		}
	}()
	rows, err := s.db.Conn(ctx).Query(ctx,
		`select `+strategyColumns+` from strategies where deployed order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		st, err := scanStrategy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// Create сохраняет новую стратегию. Правила к этому моменту уже провалидированы.
func (s *Strategies) Create(ctx context.Context, st *models.Strategy) (err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "Strategies.Create")
		}
	}()
	params, err := sonic.Marshal(nonNilMap(st.Parameters))
	if err != nil {
		return err
	}
	return s.db.Conn(ctx).QueryRow(ctx, `
		insert into strategies (user_id, name, kind, entry_rule, exit_rule, deployed, only_simulate,
			daily_max_entries, re_enter, instrument_ids, entered_instrument_ids, close_order_ids,
			screener_id, screener_execution_time, parameters)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, nullif($13, 0), $14, $15)
		returning id, created_at, updated_at`,
		st.UserID, st.Name, string(st.Kind), st.EntryRule, st.ExitRule, st.Deployed, st.OnlySimulate,
		st.DailyMaxEntries, st.ReEnter, nonNil(st.InstrumentIDs), nonNil(st.EnteredInstrumentIDs), nonNil(st.CloseOrderIDs),
		st.ScreenerID, st.ScreenerExecutionTime, params,
	).Scan(&st.ID, &st.CreatedAt, &st.UpdatedAt)
}

// SaveProgress пишет то, что меняет цикл входа: entered и список кандидатов.
// close_order_ids не трогает: его дописывает AppendClosedOrder.
func (s *Strategies) SaveProgress(ctx context.Context, st *models.Strategy) (err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "Strategies.SaveProgress")
		}
	}()
	tag, err := s.db.Conn(ctx).Exec(ctx, `
		update strategies
		set entered_instrument_ids = $2, instrument_ids = $3, updated_at = now()
		where id = $1`,
		st.ID, nonNil(st.EnteredInstrumentIDs), nonNil(st.InstrumentIDs))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(models.ErrNotFound, "strategy %d", st.ID)
	}
	return nil
}

// AppendClosedOrder атомарно дописывает исполненный exit, повтор игнорируется.
func (s *Strategies) AppendClosedOrder(ctx context.Context, id, orderID int64) (err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "Strategies.AppendClosedOrder")
		}
	}()
	_, err = s.db.Conn(ctx).Exec(ctx, `
		update strategies
		set close_order_ids = array_append(close_order_ids, $2), updated_at = now()
		where id = $1 and not ($2 = any(close_order_ids))`, id, orderID)
	return err
}

func (s *Strategies) SetDeployed(ctx context.Context, id int64, deployed bool) (err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "Strategies.SetDeployed")
		}
	}()
	tag, err := s.db.Conn(ctx).Exec(ctx,
		`update strategies set deployed = $2, updated_at = now() where id = $1`, id, deployed)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(models.ErrNotFound, "strategy %d", id)
	}
	return nil
}

func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
