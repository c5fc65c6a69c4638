// Package broker описывает контракт брокера, от которого зависит движок.
// Клиент Kite Connect живет в internal/modules/broker.
package broker

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ErrMissingConfiguration возвращается, когда у пользователя нет ключей брокера.
var ErrMissingConfiguration = errors.New("broker api configuration is missing")

type Broker interface {
	PlaceOrder(ctx context.Context, p PlaceParams) (Response, error)
	ModifyOrder(ctx context.Context, p ModifyParams) (Response, error)
	CancelOrder(ctx context.Context, p CancelParams) (Response, error)
	OrderHistory(ctx context.Context, orderID string) ([]Snapshot, error)
}

// Factory выдает клиента с ключами конкретного пользователя.
type Factory interface {
	ForUser(ctx context.Context, userID int64) (Broker, error)
}

type PlaceParams struct {
	Variety           string
	Exchange          string
	TradingSymbol     string
	TransactionType   string
	OrderType         string
	Product           string
	Validity          string
	ValidityTTL       int
	Quantity          int
	DisclosedQuantity int
	Price             decimal.Decimal
	TriggerPrice      decimal.Decimal
	Tag               string
}

// ModifyParams меняет только заполненные поля, nil и пустые остаются как есть.
type ModifyParams struct {
	Variety      string
	OrderID      string
	Quantity     *int
	Price        *decimal.Decimal
	TriggerPrice *decimal.Decimal
	OrderType    string
	Validity     string
}

func (p ModifyParams) Empty() bool {
	return p.Quantity == nil && p.Price == nil && p.TriggerPrice == nil && p.OrderType == "" && p.Validity == ""
}

type CancelParams struct {
	Variety string
	OrderID string
}

// Response это ответ API. Ошибка API приходит значением, error остается для транспорта.
type Response struct {
	Status    string
	OrderID   string
	Message   string
	ErrorType string
}

func (r Response) OK() bool { return r.Status == StatusSuccess }

const modificationsExceeded = "maximum allowed order modifications exceeded"

// ModificationLimitExceeded сообщает, что брокер отказал в изменении из-за лимита модификаций.
func (r Response) ModificationLimitExceeded() bool {
	return !r.OK() && strings.Contains(strings.ToLower(r.Message), modificationsExceeded)
}

func Decimal(d decimal.Decimal) *decimal.Decimal { return &d }

func Int(n int) *int { return &n }
