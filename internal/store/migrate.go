package store

import (
	"context"

	"rule_trader/pkg/db"

	"github.com/pkg/errors"
)

// Migrate создает таблицы движка. Внешний инструмент миграций не нужен, все идемпотентно.
func Migrate(ctx context.Context, conn db.Transaction) error {
	for i, stmt := range migrations {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return errors.Wrapf(err, "migration %d", i)
		}
	}
	return nil
}

var migrations = []string{
	`create table if not exists instruments (
		id bigserial primary key,
		name text not null default '',
		exchange text not null,
		exchange_token text not null,
		tradingsymbol text not null,
		tick_size numeric not null default 0.05,
		lot_size int not null default 1,
		ltp numeric,
		previous_day_ltp numeric,
		created_at timestamptz not null default now(),
		updated_at timestamptz not null default now()
	);`,
	`create unique index if not exists instruments_exchange_token_idx on instruments (exchange, exchange_token);`,
	`create table if not exists instrument_histories (
		id bigserial primary key,
		instrument_id bigint not null references instruments(id),
		unit smallint not null,
		interval int not null default 1,
		date timestamptz not null,
		open numeric not null,
		high numeric not null,
		low numeric not null,
		close numeric not null,
		volume bigint not null default 0
	);`,
	`create unique index if not exists instrument_histories_uniq
		on instrument_histories (instrument_id, unit, interval, date);`,
	`create index if not exists instrument_histories_lookup
		on instrument_histories (instrument_id, unit, interval, date desc);`,
	`create table if not exists screeners (
		id bigserial primary key,
		user_id bigint not null,
		name text not null default '',
		rules text not null,
		active boolean not null default true,
		scanned_instrument_ids bigint[] not null default '{}',
		scanned_at timestamptz,
		created_at timestamptz not null default now(),
		updated_at timestamptz not null default now()
	);`,
	`create table if not exists strategies (
		id bigserial primary key,
		user_id bigint not null,
		name text not null default '',
		kind text not null default 'rule_based',
		entry_rule text not null,
		exit_rule text not null,
		deployed boolean not null default false,
		only_simulate boolean not null default false,
		daily_max_entries int not null default 5,
		re_enter int not null default 0,
		instrument_ids bigint[] not null default '{}',
		entered_instrument_ids bigint[] not null default '{}',
		close_order_ids bigint[] not null default '{}',
		screener_id bigint references screeners(id),
		screener_execution_time text not null default '',
		parameters jsonb not null default '{}'::jsonb,
		created_at timestamptz not null default now(),
		updated_at timestamptz not null default now()
	);`,
	`create table if not exists orders (
		id bigserial primary key,
		user_id bigint not null,
		strategy_id bigint not null references strategies(id),
		instrument_id bigint not null references instruments(id),
		trade_action smallint not null,
		entry_order_id bigint references orders(id),
		broker_order_id text not null default '',
		exchange_order_id text not null default '',
		parent_order_id text not null default '',
		status text not null default '',
		state text not null default 'pending_at_exchange',
		status_message text not null default '',
		status_message_raw text not null default '',
		tradingsymbol text not null default '',
		exchange text not null default '',
		variety text not null default 'regular',
		order_type text not null default '',
		product text not null default '',
		validity text not null default '',
		validity_ttl int not null default 0,
		transaction_type text not null default '',
		quantity int not null default 0,
		disclosed_quantity int not null default 0,
		filled_quantity int not null default 0,
		pending_quantity int not null default 0,
		cancelled_quantity int not null default 0,
		quote_ltp numeric not null default 0,
		price numeric not null default 0,
		trigger_price numeric not null default 0,
		average_price numeric not null default 0,
		order_timestamp timestamptz,
		exchange_timestamp timestamptz,
		exchange_update_timestamp timestamptz,
		guid text not null default '',
		tag text not null default '',
		meta jsonb not null default '{}'::jsonb,
		simulated boolean not null default false,
		discarded_at timestamptz,
		created_at timestamptz not null default now(),
		updated_at timestamptz not null default now()
	);`,
	`create index if not exists orders_broker_order_id_idx on orders (user_id, broker_order_id);`,
	`create index if not exists orders_entry_order_id_idx on orders (entry_order_id) where discarded_at is null;`,
	`create table if not exists notifications (
		id bigserial primary key,
		event_id text not null,
		user_id bigint not null,
		item_type text not null,
		item_id bigint not null,
		message text not null,
		status text not null default 'sent',
		created_at timestamptz not null default now()
	);`,
	`create table if not exists api_configurations (
		id bigserial primary key,
		user_id bigint not null,
		api_name text not null default 'zerodha',
		api_key text not null,
		api_secret text not null,
		access_token text not null default '',
		created_at timestamptz not null default now(),
		updated_at timestamptz not null default now()
	);`,
}
