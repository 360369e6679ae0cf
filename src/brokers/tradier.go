package brokers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tradoverse/brokerage/src/eventmodels"
	"github.com/tradoverse/brokerage/src/utils"
)

const tradierDefaultBaseURL = "https://api.tradier.com/v1"
const tradierSandboxBaseURL = "https://sandbox.tradier.com/v1"

// tradierStatusMap is the fixed table from Tradier's order status vocabulary
// to the canonical statuses. Unknown inputs default to pending.
var tradierStatusMap = map[string]eventmodels.OrderStatus{
	"open":             eventmodels.OrderStatusPending,
	"pending":          eventmodels.OrderStatusPending,
	"submitted":        eventmodels.OrderStatusPending,
	"partially_filled": eventmodels.OrderStatusPartial,
	"filled":           eventmodels.OrderStatusFilled,
	"rejected":         eventmodels.OrderStatusRejected,
	"error":            eventmodels.OrderStatusRejected,
	"expired":          eventmodels.OrderStatusCancelled,
	"canceled":         eventmodels.OrderStatusCancelled,
	"cancelled":        eventmodels.OrderStatusCancelled,
}

type TradierAdapter struct {
	baseURL   string
	accountID string
	tokens    TokenSource
	client    *http.Client
}

func NewTradierAdapter(cfg AdapterConfig) *TradierAdapter {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		if cfg.IsPaper {
			baseURL = tradierSandboxBaseURL
		} else {
			baseURL = tradierDefaultBaseURL
		}
	}

	return &TradierAdapter{
		baseURL:   baseURL,
		accountID: cfg.AccountID,
		tokens:    cfg.Tokens,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (a *TradierAdapter) BrokerType() eventmodels.BrokerType {
	return eventmodels.BrokerTypeTradier
}

func (a *TradierAdapter) Capabilities() eventmodels.BrokerCapabilities {
	caps, _ := CapabilitiesFor(eventmodels.BrokerTypeTradier)
	return caps
}

func (a *TradierAdapter) NormalizeSymbol(input string) string {
	return strings.ToUpper(strings.TrimSpace(input))
}

func (a *TradierAdapter) ToBrokerSymbol(symbol string) string {
	// Tradier uses plain uppercase tickers, OCC format for options
	return a.NormalizeSymbol(symbol)
}

func (a *TradierAdapter) FormatOrder(order eventmodels.CanonicalOrder) WireOrder {
	wire := WireOrder{
		"class":    "equity",
		"symbol":   a.ToBrokerSymbol(order.Symbol),
		"side":     string(order.Side),
		"quantity": strconv.FormatFloat(order.Quantity, 'f', -1, 64),
		"type":     tradierOrderType(order.OrderType),
		"duration": tradierDuration(order.TimeInForce),
	}

	if order.LimitPrice != nil {
		wire["price"] = strconv.FormatFloat(*order.LimitPrice, 'f', 2, 64)
	}

	if order.StopPrice != nil {
		wire["stop"] = strconv.FormatFloat(*order.StopPrice, 'f', 2, 64)
	}

	return wire
}

func tradierOrderType(orderType eventmodels.OrderType) string {
	switch orderType {
	case eventmodels.OrderTypeStopLimit:
		return "stop_limit"
	default:
		return string(orderType)
	}
}

func tradierDuration(tif eventmodels.TimeInForce) string {
	switch tif {
	case eventmodels.TimeInForceGoodTillCancelled:
		return "gtc"
	default:
		return "day"
	}
}

func (a *TradierAdapter) SubmitOrder(ctx context.Context, order WireOrder) (BrokerResponse, error) {
	url := fmt.Sprintf("%s/accounts/%s/orders", a.baseURL, a.accountID)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, fmt.Errorf("TradierAdapter.SubmitOrder: failed to create request: %w", err)
	}

	q := httpReq.URL.Query()
	for key, value := range order {
		q.Add(key, value)
	}
	httpReq.URL.RawQuery = q.Encode()

	httpReq.Header.Add("Accept", "application/json")
	httpReq.Header.Add("Authorization", fmt.Sprintf("Bearer %s", a.tokens.AccessToken()))

	log.Infof("TradierAdapter.SubmitOrder: placing order: %v", httpReq.URL.String())

	res, err := a.client.Do(httpReq)
	if err != nil {
		return nil, &eventmodels.NetworkError{Op: "TradierAdapter.SubmitOrder", Cause: err}
	}

	defer res.Body.Close()

	if res.StatusCode == http.StatusTooManyRequests {
		return nil, &eventmodels.RateLimitedError{BrokerType: eventmodels.BrokerTypeTradier, RetryAfter: time.Minute}
	}

	if res.StatusCode == http.StatusUnauthorized {
		return nil, &eventmodels.AuthError{BrokerType: eventmodels.BrokerTypeTradier, Reason: "access token rejected"}
	}

	if res.StatusCode != http.StatusOK {
		bytesErr, readErr := io.ReadAll(res.Body)
		if readErr != nil {
			return nil, fmt.Errorf("TradierAdapter.SubmitOrder: failed to read response body: %w", readErr)
		}

		return nil, fmt.Errorf("TradierAdapter.SubmitOrder: %s, http code %v", string(bytesErr), res.Status)
	}

	var response BrokerResponse
	if err := json.NewDecoder(res.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("TradierAdapter.SubmitOrder: failed to decode response: %w", err)
	}

	if e, found := response["errors"]; found {
		return nil, fmt.Errorf("TradierAdapter.SubmitOrder: broker rejected order: %v", e)
	}

	return response, nil
}

func (a *TradierAdapter) ParseOrderResponse(resp BrokerResponse) (OrderAck, error) {
	inner, found := resp["order"].(map[string]interface{})
	if !found {
		return OrderAck{}, fmt.Errorf("TradierAdapter.ParseOrderResponse: missing order envelope: %v", resp)
	}

	ack := OrderAck{Status: eventmodels.OrderStatusPending}

	switch id := inner["id"].(type) {
	case float64:
		ack.OrderID = strconv.FormatInt(int64(id), 10)
	case string:
		ack.OrderID = id
	}

	if status, found := inner["status"].(string); found {
		ack.Status = tradierStatus(status)
	}

	if qty, found := inner["exec_quantity"].(float64); found {
		ack.FilledQuantity = qty
	}

	if price, found := inner["avg_fill_price"].(float64); found {
		ack.AvgFillPrice = price
	}

	return ack, nil
}

func tradierStatus(brokerStatus string) eventmodels.OrderStatus {
	status, found := tradierStatusMap[strings.ToLower(brokerStatus)]
	if !found {
		log.Warnf("tradierStatus: unknown broker status %q, defaulting to pending", brokerStatus)
		return eventmodels.OrderStatusPending
	}

	return status
}

func (a *TradierAdapter) CancelOrder(ctx context.Context, orderID string) error {
	url := fmt.Sprintf("%s/accounts/%s/orders/%s", a.baseURL, a.accountID, orderID)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("TradierAdapter.CancelOrder: failed to create request: %w", err)
	}

	httpReq.Header.Add("Accept", "application/json")
	httpReq.Header.Add("Authorization", fmt.Sprintf("Bearer %s", a.tokens.AccessToken()))

	res, err := a.client.Do(httpReq)
	if err != nil {
		return &eventmodels.NetworkError{Op: "TradierAdapter.CancelOrder", Cause: err}
	}

	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("TradierAdapter.CancelOrder: invalid status code: %s", res.Status)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("TradierAdapter.CancelOrder: failed to read response body: %w", err)
	}

	acks, err := utils.ParseBrokerResponse[tradierCancelAck](body)
	if err != nil {
		return fmt.Errorf("TradierAdapter.CancelOrder: failed to parse response: %w", err)
	}

	if len(acks) == 0 || !strings.EqualFold(acks[0].Status, "ok") {
		return fmt.Errorf("TradierAdapter.CancelOrder: broker did not acknowledge cancel: %s", string(body))
	}

	return nil
}

type tradierCancelAck struct {
	ID     int    `json:"id"`
	Status string `json:"status"`
}

func (a *TradierAdapter) IsConnected(ctx context.Context) bool {
	url := fmt.Sprintf("%s/user/profile", a.baseURL)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}

	httpReq.Header.Add("Accept", "application/json")
	httpReq.Header.Add("Authorization", fmt.Sprintf("Bearer %s", a.tokens.AccessToken()))

	res, err := a.client.Do(httpReq)
	if err != nil {
		return false
	}

	defer res.Body.Close()

	return res.StatusCode == http.StatusOK
}
