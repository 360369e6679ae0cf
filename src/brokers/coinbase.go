package brokers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tradoverse/brokerage/src/eventmodels"
)

const coinbaseDefaultBaseURL = "https://api.coinbase.com/api/v3/brokerage"

var coinbaseStatusMap = map[string]eventmodels.OrderStatus{
	"open":      eventmodels.OrderStatusPending,
	"pending":   eventmodels.OrderStatusPending,
	"queued":    eventmodels.OrderStatusPending,
	"filled":    eventmodels.OrderStatusFilled,
	"failed":    eventmodels.OrderStatusRejected,
	"cancelled": eventmodels.OrderStatusCancelled,
	"expired":   eventmodels.OrderStatusCancelled,
}

// CoinbaseAdapter trades crypto through the Advanced Trade REST API. Every
// outbound call is individually signed by the RequestSigner rather than
// bearing a static token.
type CoinbaseAdapter struct {
	baseURL string
	signer  RequestSigner
	client  *http.Client
}

func NewCoinbaseAdapter(cfg AdapterConfig) *CoinbaseAdapter {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = coinbaseDefaultBaseURL
	}

	return &CoinbaseAdapter{
		baseURL: baseURL,
		signer:  cfg.Signer,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (a *CoinbaseAdapter) BrokerType() eventmodels.BrokerType {
	return eventmodels.BrokerTypeCoinbase
}

func (a *CoinbaseAdapter) Capabilities() eventmodels.BrokerCapabilities {
	caps, _ := CapabilitiesFor(eventmodels.BrokerTypeCoinbase)
	return caps
}

func (a *CoinbaseAdapter) NormalizeSymbol(input string) string {
	return strings.ToUpper(strings.TrimSpace(input))
}

func (a *CoinbaseAdapter) ToBrokerSymbol(symbol string) string {
	normalized := a.NormalizeSymbol(symbol)

	// Coinbase product ids are pairs: a bare coin symbol trades against USD
	if !strings.Contains(normalized, "-") {
		return normalized + "-USD"
	}

	return normalized
}

func (a *CoinbaseAdapter) FormatOrder(order eventmodels.CanonicalOrder) WireOrder {
	wire := WireOrder{
		"product_id": a.ToBrokerSymbol(order.Symbol),
		"side":       strings.ToUpper(string(order.Side)),
		"base_size":  fmt.Sprintf("%v", order.Quantity),
		"order_type": coinbaseOrderType(order.OrderType, order.TimeInForce),
	}

	if order.LimitPrice != nil {
		wire["limit_price"] = fmt.Sprintf("%v", *order.LimitPrice)
	}

	if order.StopPrice != nil {
		wire["stop_price"] = fmt.Sprintf("%v", *order.StopPrice)
	}

	return wire
}

func coinbaseOrderType(orderType eventmodels.OrderType, tif eventmodels.TimeInForce) string {
	switch orderType {
	case eventmodels.OrderTypeMarket:
		return "market_market_ioc"
	case eventmodels.OrderTypeLimit:
		if tif == eventmodels.TimeInForceFillOrKill {
			return "limit_limit_fok"
		}
		return "limit_limit_gtc"
	case eventmodels.OrderTypeStop, eventmodels.OrderTypeStopLimit:
		return "stop_limit_stop_limit_gtc"
	default:
		return "market_market_ioc"
	}
}

func (a *CoinbaseAdapter) SubmitOrder(ctx context.Context, order WireOrder) (BrokerResponse, error) {
	body, err := json.Marshal(coinbaseOrderBody(order))
	if err != nil {
		return nil, fmt.Errorf("CoinbaseAdapter.SubmitOrder: failed to marshal order: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("CoinbaseAdapter.SubmitOrder: failed to create request: %w", err)
	}

	httpReq.Header.Add("Content-Type", "application/json")

	if err := a.signer.Sign(httpReq); err != nil {
		return nil, &eventmodels.AuthError{BrokerType: eventmodels.BrokerTypeCoinbase, Reason: "failed to sign request", Cause: err}
	}

	log.Infof("CoinbaseAdapter.SubmitOrder: placing order: %s %s %s", order["side"], order["base_size"], order["product_id"])

	res, err := a.client.Do(httpReq)
	if err != nil {
		return nil, &eventmodels.NetworkError{Op: "CoinbaseAdapter.SubmitOrder", Cause: err}
	}

	defer res.Body.Close()

	if res.StatusCode == http.StatusTooManyRequests {
		return nil, &eventmodels.RateLimitedError{BrokerType: eventmodels.BrokerTypeCoinbase, RetryAfter: time.Minute}
	}

	if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
		return nil, &eventmodels.AuthError{BrokerType: eventmodels.BrokerTypeCoinbase, Reason: "signature rejected"}
	}

	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusCreated {
		errBytes, readErr := io.ReadAll(res.Body)
		if readErr != nil {
			return nil, fmt.Errorf("CoinbaseAdapter.SubmitOrder: failed to read response body: %w", readErr)
		}

		return nil, fmt.Errorf("CoinbaseAdapter.SubmitOrder: %s, http code %v", string(errBytes), res.Status)
	}

	var response BrokerResponse
	if err := json.NewDecoder(res.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("CoinbaseAdapter.SubmitOrder: failed to decode response: %w", err)
	}

	if success, found := response["success"].(bool); found && !success {
		return nil, fmt.Errorf("CoinbaseAdapter.SubmitOrder: broker rejected order: %v", response["error_response"])
	}

	return response, nil
}

func coinbaseOrderBody(order WireOrder) map[string]interface{} {
	config := map[string]interface{}{
		"base_size": order["base_size"],
	}

	if price, found := order["limit_price"]; found {
		config["limit_price"] = price
	}

	if price, found := order["stop_price"]; found {
		config["stop_price"] = price
		config["stop_direction"] = "STOP_DIRECTION_STOP_DOWN"
	}

	return map[string]interface{}{
		"product_id": order["product_id"],
		"side":       order["side"],
		"order_configuration": map[string]interface{}{
			order["order_type"]: config,
		},
	}
}

func (a *CoinbaseAdapter) ParseOrderResponse(resp BrokerResponse) (OrderAck, error) {
	ack := OrderAck{Status: eventmodels.OrderStatusPending}

	if id, found := resp["order_id"].(string); found {
		ack.OrderID = id
	} else if inner, found := resp["success_response"].(map[string]interface{}); found {
		if id, found := inner["order_id"].(string); found {
			ack.OrderID = id
		}
	}

	if ack.OrderID == "" {
		return OrderAck{}, fmt.Errorf("CoinbaseAdapter.ParseOrderResponse: missing order id: %v", resp)
	}

	if status, found := resp["status"].(string); found {
		ack.Status = coinbaseStatus(status)
	}

	if qty, found := resp["filled_size"].(float64); found {
		ack.FilledQuantity = qty
	}

	if price, found := resp["average_filled_price"].(float64); found {
		ack.AvgFillPrice = price
	}

	return ack, nil
}

func coinbaseStatus(brokerStatus string) eventmodels.OrderStatus {
	status, found := coinbaseStatusMap[strings.ToLower(brokerStatus)]
	if !found {
		log.Warnf("coinbaseStatus: unknown broker status %q, defaulting to pending", brokerStatus)
		return eventmodels.OrderStatusPending
	}

	return status
}

func (a *CoinbaseAdapter) CancelOrder(ctx context.Context, orderID string) error {
	body, err := json.Marshal(map[string][]string{"order_ids": {orderID}})
	if err != nil {
		return fmt.Errorf("CoinbaseAdapter.CancelOrder: failed to marshal body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/orders/batch_cancel", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("CoinbaseAdapter.CancelOrder: failed to create request: %w", err)
	}

	httpReq.Header.Add("Content-Type", "application/json")

	if err := a.signer.Sign(httpReq); err != nil {
		return &eventmodels.AuthError{BrokerType: eventmodels.BrokerTypeCoinbase, Reason: "failed to sign request", Cause: err}
	}

	res, err := a.client.Do(httpReq)
	if err != nil {
		return &eventmodels.NetworkError{Op: "CoinbaseAdapter.CancelOrder", Cause: err}
	}

	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("CoinbaseAdapter.CancelOrder: invalid status code: %s", res.Status)
	}

	return nil
}

func (a *CoinbaseAdapter) IsConnected(ctx context.Context) bool {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/accounts", nil)
	if err != nil {
		return false
	}

	if err := a.signer.Sign(httpReq); err != nil {
		return false
	}

	res, err := a.client.Do(httpReq)
	if err != nil {
		return false
	}

	defer res.Body.Close()

	return res.StatusCode == http.StatusOK
}
