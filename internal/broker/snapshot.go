package broker

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Snapshot хранит одну запись истории заявки, она же тело postback.
type Snapshot struct {
	OrderID                 string          `json:"order_id"`
	ExchangeOrderID         string          `json:"exchange_order_id"`
	ParentOrderID           string          `json:"parent_order_id"`
	Status                  string          `json:"status"`
	StatusMessage           string          `json:"status_message"`
	StatusMessageRaw        string          `json:"status_message_raw"`
	OrderTimestamp          Time            `json:"order_timestamp"`
	ExchangeUpdateTimestamp Time            `json:"exchange_update_timestamp"`
	ExchangeTimestamp       Time            `json:"exchange_timestamp"`
	Variety                 string          `json:"variety"`
	Exchange                string          `json:"exchange"`
	TradingSymbol           string          `json:"tradingsymbol"`
	InstrumentToken         int64           `json:"instrument_token"`
	OrderType               string          `json:"order_type"`
	TransactionType         string          `json:"transaction_type"`
	Validity                string          `json:"validity"`
	Product                 string          `json:"product"`
	Quantity                int             `json:"quantity"`
	DisclosedQuantity       int             `json:"disclosed_quantity"`
	Price                   decimal.Decimal `json:"price"`
	TriggerPrice            decimal.Decimal `json:"trigger_price"`
	AveragePrice            decimal.Decimal `json:"average_price"`
	FilledQuantity          int             `json:"filled_quantity"`
	PendingQuantity         int             `json:"pending_quantity"`
	CancelledQuantity       int             `json:"cancelled_quantity"`
	Tag                     string          `json:"tag"`
	GUID                    string          `json:"guid"`
}

// Location задает часовой пояс, в котором брокер отдает время без зоны.
var Location = time.FixedZone("IST", 5*3600+1800)

const timeLayout = "2006-01-02 15:04:05"

// Time хранит и разобранное время, и исходную строку: строка нужна для checksum.
type Time struct {
	time.Time
	Raw string
}

func (t *Time) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	t.Raw = s
	if s == "" || s == "null" {
		t.Raw = ""
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.ParseInLocation(timeLayout, s, Location)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return errors.Wrapf(err, "parse broker time %q", s)
		}
	}
	t.Time = parsed
	return nil
}

func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.In(Location).Format(timeLayout) + `"`), nil
}

// Ptr возвращает nil для пустого времени.
func (t Time) Ptr() *time.Time {
	if t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}
