package store

import (
	"context"
	"time"

	"rule_trader/internal/models"
	"rule_trader/pkg/db"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

type Orders struct {
	db db.TxManager
}

func NewOrders(tx db.TxManager) *Orders {
	return &Orders{db: tx}
}

const orderColumns = `id, user_id, strategy_id, instrument_id, trade_action, coalesce(entry_order_id, 0),
	broker_order_id, exchange_order_id, parent_order_id, status, state, status_message, status_message_raw,
	tradingsymbol, exchange, variety, order_type, product, validity, validity_ttl, transaction_type,
	quantity, disclosed_quantity, filled_quantity, pending_quantity, cancelled_quantity,
	quote_ltp, price, trigger_price, average_price,
	order_timestamp, exchange_timestamp, exchange_update_timestamp,
	guid, tag, meta, simulated, discarded_at, created_at, updated_at`

func scanOrder(row scanner) (*models.Order, error) {
	var (
		o      models.Order
		action int
		state  string
		side   string
		meta   []byte
	)
	err := row.Scan(&o.ID, &o.UserID, &o.StrategyID, &o.InstrumentID, &action, &o.EntryOrderID,
		&o.BrokerOrderID, &o.ExchangeOrderID, &o.ParentOrderID, &o.BrokerStatus, &state, &o.StatusMessage, &o.StatusMessageRaw,
		&o.TradingSymbol, &o.Exchange, &o.Variety, &o.OrderType, &o.Product, &o.Validity, &o.ValidityTTL, &side,
		&o.Quantity, &o.DisclosedQuantity, &o.FilledQuantity, &o.PendingQuantity, &o.CancelledQuantity,
		&o.QuoteLTP, &o.Price, &o.TriggerPrice, &o.AveragePrice,
		&o.OrderTimestamp, &o.ExchangeTimestamp, &o.ExchangeUpdateTimestamp,
		&o.GUID, &o.Tag, &meta, &o.Simulated, &o.DiscardedAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.TradeAction = models.TradeAction(action)
	o.State = models.OrderState(state)
	o.TransactionType = models.Side(side)
	if len(meta) > 0 {
		if err := sonic.Unmarshal(meta, &o.Meta); err != nil {
			return nil, errors.Wrap(err, "meta")
		}
	}
	return &o, nil
}

func (s *Orders) one(ctx context.Context, where string, args ...any) (*models.Order, error) {
	o, err := scanOrder(s.db.Conn(ctx).QueryRow(ctx, `select `+orderColumns+` from orders where `+where, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	return o, err
}

func (s *Orders) Get(ctx context.Context, id int64) (o *models.Order, err error) {
	defer func() {
		if err != nil {
			err = errors.Wrapf(err, "Orders.Get %d", id)
		}
	}()
	return s.one(ctx, `id = $1`, id)
}

// ActiveExitFor возвращает последнюю не удаленную exit-заявку для entry.
func (s *Orders) ActiveExitFor(ctx context.Context, entryID int64) (o *models.Order, err error) {
	defer func() {
		if err != nil {
			err = errors.Wrapf(err, "Orders.ActiveExitFor %d", entryID)
		}
	}()
	return s.one(ctx, `entry_order_id = $1 and trade_action = $2 and discarded_at is null order by id desc limit 1`,
		entryID, int(models.TradeExit))
}

func (s *Orders) ByBrokerOrderID(ctx context.Context, userID int64, brokerOrderID string) (o *models.Order, err error) {
	defer func() {
		if err != nil {
			err = errors.Wrapf(err, "Orders.ByBrokerOrderID %s", brokerOrderID)
		}
	}()
	return s.one(ctx, `user_id = $1 and broker_order_id = $2 and discarded_at is null order by id desc limit 1`,
		userID, brokerOrderID)
}

// OpenEntries возвращает entry-заявки, у которых позиция еще не закрыта. Нужны для восстановления после рестарта.
func (s *Orders) OpenEntries(ctx context.Context) (out []*models.Order, err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "Orders.OpenEntries")
		}
	}()
	rows, err := s.db.Conn(ctx).Query(ctx, `
		select `+orderColumns+` from orders e
		where e.trade_action = $1 and e.discarded_at is null
			and e.status not in ('error', 'failed') and e.state not in ('rejected', 'cancelled')
			and not exists (
				select 1 from orders x
				where x.entry_order_id = e.id and x.discarded_at is null
					and x.state in ('completed', 'cancelled'))
		order by e.id`, int(models.TradeEntry))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Orders) Create(ctx context.Context, o *models.Order) (err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "Orders.Create")
		}
	}()
	meta, err := sonic.Marshal(nonNilMap(o.Meta))
	if err != nil {
		return err
	}
	return s.db.Conn(ctx).QueryRow(ctx, `
		insert into orders (user_id, strategy_id, instrument_id, trade_action, entry_order_id,
			broker_order_id, status, state, status_message, status_message_raw,
			tradingsymbol, exchange, variety, order_type, product, validity, validity_ttl, transaction_type,
			quantity, disclosed_quantity, filled_quantity, pending_quantity, cancelled_quantity,
			quote_ltp, price, trigger_price, average_price, order_timestamp, guid, tag, meta, simulated)
		values ($1, $2, $3, $4, nullif($5, 0), $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
			$19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32)
		returning id, created_at, updated_at`,
		o.UserID, o.StrategyID, o.InstrumentID, int(o.TradeAction), o.EntryOrderID,
		o.BrokerOrderID, o.BrokerStatus, string(o.State), o.StatusMessage, o.StatusMessageRaw,
		o.TradingSymbol, o.Exchange, o.Variety, o.OrderType, o.Product, o.Validity, o.ValidityTTL, string(o.TransactionType),
		o.Quantity, o.DisclosedQuantity, o.FilledQuantity, o.PendingQuantity, o.CancelledQuantity,
		o.QuoteLTP, o.Price, o.TriggerPrice, o.AveragePrice, o.OrderTimestamp, o.GUID, o.Tag, meta, o.Simulated,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
}

func (s *Orders) Update(ctx context.Context, o *models.Order) (err error) {
	defer func() {
		if err != nil {
			err = errors.Wrapf(err, "Orders.Update %d", o.ID)
		}
	}()
	meta, err := sonic.Marshal(nonNilMap(o.Meta))
	if err != nil {
		return err
	}
	tag, err := s.db.Conn(ctx).Exec(ctx, `
		update orders set
			broker_order_id = $2, exchange_order_id = $3, parent_order_id = $4, status = $5, state = $6,
			status_message = $7, status_message_raw = $8, order_type = $9, validity = $10,
			quantity = $11, disclosed_quantity = $12, filled_quantity = $13, pending_quantity = $14,
			cancelled_quantity = $15, price = $16, trigger_price = $17, average_price = $18,
			order_timestamp = $19, exchange_timestamp = $20, exchange_update_timestamp = $21,
			meta = $22, discarded_at = $23, updated_at = now()
		where id = $1`,
		o.ID, o.BrokerOrderID, o.ExchangeOrderID, o.ParentOrderID, o.BrokerStatus, string(o.State),
		o.StatusMessage, o.StatusMessageRaw, o.OrderType, o.Validity,
		o.Quantity, o.DisclosedQuantity, o.FilledQuantity, o.PendingQuantity,
		o.CancelledQuantity, o.Price, o.TriggerPrice, o.AveragePrice,
		o.OrderTimestamp, o.ExchangeTimestamp, o.ExchangeUpdateTimestamp,
		meta, o.DiscardedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// Discard мягко удаляет заявку: история остается, но заявка больше не активна.
func (s *Orders) Discard(ctx context.Context, id int64, at time.Time) (err error) {
	defer func() {
		if err != nil {
			err = errors.Wrapf(err, "Orders.Discard %d", id)
		}
	}()
	_, err = s.db.Conn(ctx).Exec(ctx,
		`update orders set discarded_at = $2, updated_at = now() where id = $1 and discarded_at is null`, id, at)
	return err
}
