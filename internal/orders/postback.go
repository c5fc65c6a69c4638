package orders

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"rule_trader/internal/broker"
	"rule_trader/internal/models"
	"rule_trader/pkg/logger"
	"rule_trader/pkg/tracing"

	"github.com/bytedance/sonic"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
)

var (
	ErrEmptyPayload     = errors.New("empty postback payload")
	ErrMalformedPayload = errors.New("malformed postback payload")
	ErrChecksumMismatch = errors.New("postback checksum mismatch")
	ErrOrderNotFound    = errors.New("postback order not found")
)

// Postback это тело уведомления брокера об изменении заявки.
type Postback struct {
	broker.Snapshot
	Checksum string `json:"checksum"`
	UserID   string `json:"user_id"`
}

func ParsePostback(body []byte) (Postback, error) {
	var pb Postback
	if len(body) == 0 {
		return pb, ErrEmptyPayload
	}
	if err := sonic.Unmarshal(body, &pb); err != nil {
		return pb, errors.Wrap(ErrMalformedPayload, err.Error())
	}
	if pb.OrderID == "" {
		return pb, ErrEmptyPayload
	}
	return pb, nil
}

// Checksum считает hex(sha256(order_id + order_timestamp + api_secret)).
func Checksum(orderID, orderTimestamp, apiSecret string) string {
	sum := sha256.Sum256([]byte(orderID + orderTimestamp + apiSecret))
	return hex.EncodeToString(sum[:])
}

func (p Postback) Verify(apiSecret string) error {
	want := Checksum(p.OrderID, p.OrderTimestamp.Raw, apiSecret)
	if subtle.ConstantTimeCompare([]byte(want), []byte(p.Checksum)) != 1 {
		return ErrChecksumMismatch
	}
	return nil
}

// Ingest применяет postback к заявке пользователя. Первое исполнение entry
// ставит сверку позиции, дальнейшие изменения объема переносятся в exit.
func (s *Service) Ingest(ctx context.Context, cfg *models.APIConfiguration, body []byte) (err error) {
	span, ctx := tracing.StartSpan(ctx, "orders.postback", opentracing.Tags{"user.id": cfg.UserID})
	defer func() { tracing.Finish(span, err) }()

	pb, err := ParsePostback(body)
	if err != nil {
		return err
	}
	if err := pb.Verify(cfg.APISecret); err != nil {
		return err
	}

	o, err := s.orders.ByBrokerOrderID(ctx, cfg.UserID, pb.OrderID)
	if errors.Is(err, models.ErrNotFound) {
		return errors.Wrap(ErrOrderNotFound, pb.OrderID)
	}
	if err != nil {
		return err
	}

	prevFilled, prevState := o.FilledQuantity, o.State
	applySnapshot(o, pb.Snapshot)
	if err := s.orders.Update(ctx, o); err != nil {
		return err
	}

	switch {
	case o.Entry() && o.FilledQuantity != prevFilled:
		s.onFill(ctx, o, prevFilled)
	case o.Exit() && o.State == models.StateCompleted && prevState != models.StateCompleted:
		s.closed(ctx, o)
	}
	return nil
}

func (s *Service) onFill(ctx context.Context, entry *models.Order, prevFilled int) {
	if prevFilled == 0 {
		s.enqueueExitScan(entry.ID)
		return
	}
	exit, err := s.orders.ActiveExitFor(ctx, entry.ID)
	if errors.Is(err, models.ErrNotFound) {
		return
	}
	if err != nil {
		logger.Error("postback entry=%d: %v", entry.ID, err)
		return
	}
	if exit.State.Terminal() || exit.PlacementFailed() {
		return
	}
	if _, err := s.Modify(ctx, exit, broker.ModifyParams{Quantity: broker.Int(entry.FilledQuantity)}); err != nil {
		logger.Error("postback entry=%d: resize exit %d: %v", entry.ID, exit.ID, err)
	}
}
