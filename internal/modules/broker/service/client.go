package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"rule_trader/internal/broker"
	"rule_trader/pkg/tracing"

	"github.com/bytedance/sonic"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const kiteVersion = "3"

// Client ходит в REST Kite Connect v3 с ключами одного пользователя.
type Client struct {
	http        *http.Client
	baseURL     string
	apiKey      string
	accessToken string
	limiter     *rate.Limiter
}

var _ broker.Broker = (*Client)(nil)

func NewClient(httpClient *http.Client, baseURL, apiKey, accessToken string, limiter *rate.Limiter) *Client {
	return &Client{
		http:        httpClient,
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		accessToken: accessToken,
		limiter:     limiter,
	}
}

// envelope это общий конверт ответа {"status": "...", "data": ..., "message": "...", "error_type": "..."}.
type envelope[T any] struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	ErrorType string `json:"error_type"`
	Data      T      `json:"data"`
}

type orderData struct {
	OrderID string `json:"order_id"`
}

func (c *Client) PlaceOrder(ctx context.Context, p broker.PlaceParams) (resp broker.Response, err error) {
	form := url.Values{}
	form.Set("exchange", p.Exchange)
	form.Set("tradingsymbol", p.TradingSymbol)
	form.Set("transaction_type", p.TransactionType)
	form.Set("order_type", p.OrderType)
	form.Set("product", p.Product)
	form.Set("validity", p.Validity)
	form.Set("quantity", strconv.Itoa(p.Quantity))
	setDecimal(form, "price", p.Price)
	setDecimal(form, "trigger_price", p.TriggerPrice)
	if p.ValidityTTL > 0 {
		form.Set("validity_ttl", strconv.Itoa(p.ValidityTTL))
	}
	if p.DisclosedQuantity > 0 {
		form.Set("disclosed_quantity", strconv.Itoa(p.DisclosedQuantity))
	}
	if p.Tag != "" {
		form.Set("tag", p.Tag)
	}
	return c.orderCall(ctx, "place_order", http.MethodPost, "/orders/"+p.Variety, form)
}

func (c *Client) ModifyOrder(ctx context.Context, p broker.ModifyParams) (broker.Response, error) {
	form := url.Values{}
	if p.Quantity != nil {
		form.Set("quantity", strconv.Itoa(*p.Quantity))
	}
	if p.Price != nil {
		setDecimal(form, "price", *p.Price)
	}
	if p.TriggerPrice != nil {
		setDecimal(form, "trigger_price", *p.TriggerPrice)
	}
	if p.OrderType != "" {
		form.Set("order_type", p.OrderType)
	}
	if p.Validity != "" {
		form.Set("validity", p.Validity)
	}
	return c.orderCall(ctx, "modify_order", http.MethodPut, "/orders/"+p.Variety+"/"+p.OrderID, form)
}

func (c *Client) CancelOrder(ctx context.Context, p broker.CancelParams) (broker.Response, error) {
	return c.orderCall(ctx, "cancel_order", http.MethodDelete, "/orders/"+p.Variety+"/"+p.OrderID, nil)
}

// OrderHistory возвращает все переходы статуса заявки, актуальный идет последним.
func (c *Client) OrderHistory(ctx context.Context, orderID string) (history []broker.Snapshot, err error) {
	span, ctx := tracing.StartSpan(ctx, "broker.order_history", opentracing.Tags{"order.id": orderID})
	defer func() { tracing.Finish(span, err) }()

	var env envelope[[]broker.Snapshot]
	if err := c.do(ctx, http.MethodGet, "/orders/"+orderID, nil, &env); err != nil {
		return nil, err
	}
	if env.Status != broker.StatusSuccess {
		return nil, errors.Errorf("order history %s: %s %s", orderID, env.ErrorType, env.Message)
	}
	return env.Data, nil
}

func (c *Client) orderCall(ctx context.Context, op, method, path string, form url.Values) (resp broker.Response, err error) {
	span, ctx := tracing.StartSpan(ctx, "broker."+op, opentracing.Tags{"http.path": path})
	defer func() { tracing.Finish(span, err) }()

	var env envelope[*orderData]
	if err := c.do(ctx, method, path, form, &env); err != nil {
		return broker.Response{}, err
	}
	if env.Status == "" {
		return broker.Response{}, errors.Errorf("%s %s: response without status", method, path)
	}
	resp = broker.Response{
		Status:    env.Status,
		Message:   env.Message,
		ErrorType: env.ErrorType,
	}
	if env.Data != nil {
		resp.OrderID = env.Data.OrderID
	}
	return resp, nil
}

// do выполняет запрос. Ответ API с status=error: не ошибка транспорта, его разбирает вызывающий.
func (c *Client) do(ctx context.Context, method, path string, form url.Values, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return errors.Wrap(err, "rate limit")
		}
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	req.Header.Set("X-Kite-Version", kiteVersion)
	req.Header.Set("Authorization", fmt.Sprintf("token %s:%s", c.apiKey, c.accessToken))
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	rb, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read body")
	}
	if err := sonic.Unmarshal(rb, out); err != nil {
		if resp.StatusCode/100 != 2 {
			return errors.Errorf("http %d: %s", resp.StatusCode, truncate(string(rb), 256))
		}
		return errors.Wrap(err, "decode response")
	}
	return nil
}

func setDecimal(form url.Values, key string, v decimal.Decimal) {
	if v.IsZero() {
		return
	}
	form.Set(key, v.String())
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// defaultHTTPClient дает отдельный клиент с таймаутом поверх общего транспорта.
func defaultHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
