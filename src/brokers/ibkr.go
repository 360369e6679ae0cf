package brokers

import (
	"bytes"
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
)

const ibkrDefaultBaseURL = "https://api.ibkr.com/v1/api"

var ibkrStatusMap = map[string]eventmodels.OrderStatus{
	"pendingsubmit": eventmodels.OrderStatusPending,
	"presubmitted":  eventmodels.OrderStatusPending,
	"submitted":     eventmodels.OrderStatusPending,
	"filled":        eventmodels.OrderStatusFilled,
	"inactive":      eventmodels.OrderStatusRejected,
	"cancelled":     eventmodels.OrderStatusCancelled,
	"apicancelled":  eventmodels.OrderStatusCancelled,
}

// IBKRAdapter integrates the Interactive Brokers Web API. Calls are signed
// per-request with the connection's private key and realm; there is no
// bearer token to refresh.
type IBKRAdapter struct {
	baseURL   string
	accountID string
	signer    RequestSigner
	client    *http.Client
}

func NewIBKRAdapter(cfg AdapterConfig) *IBKRAdapter {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = ibkrDefaultBaseURL
	}

	return &IBKRAdapter{
		baseURL:   baseURL,
		accountID: cfg.AccountID,
		signer:    cfg.Signer,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (a *IBKRAdapter) BrokerType() eventmodels.BrokerType {
	return eventmodels.BrokerTypeIBKR
}

func (a *IBKRAdapter) Capabilities() eventmodels.BrokerCapabilities {
	caps, _ := CapabilitiesFor(eventmodels.BrokerTypeIBKR)
	return caps
}

func (a *IBKRAdapter) NormalizeSymbol(input string) string {
	return strings.ToUpper(strings.TrimSpace(input))
}

func (a *IBKRAdapter) ToBrokerSymbol(symbol string) string {
	normalized := a.NormalizeSymbol(symbol)

	// IB quotes forex pairs with a dot separator, e.g. EUR.USD
	if strings.Contains(normalized, "/") {
		return strings.Replace(normalized, "/", ".", 1)
	}

	return normalized
}

func (a *IBKRAdapter) FormatOrder(order eventmodels.CanonicalOrder) WireOrder {
	wire := WireOrder{
		"acctId":    a.accountID,
		"ticker":    a.ToBrokerSymbol(order.Symbol),
		"side":      strings.ToUpper(string(order.Side)),
		"quantity":  strconv.FormatFloat(order.Quantity, 'f', -1, 64),
		"orderType": ibkrOrderType(order.OrderType),
		"tif":       ibkrTimeInForce(order.TimeInForce),
	}

	if order.LimitPrice != nil {
		wire["price"] = strconv.FormatFloat(*order.LimitPrice, 'f', -1, 64)
	}

	if order.StopPrice != nil {
		wire["auxPrice"] = strconv.FormatFloat(*order.StopPrice, 'f', -1, 64)
	}

	return wire
}

func ibkrOrderType(orderType eventmodels.OrderType) string {
	switch orderType {
	case eventmodels.OrderTypeMarket:
		return "MKT"
	case eventmodels.OrderTypeLimit:
		return "LMT"
	case eventmodels.OrderTypeStop:
		return "STP"
	case eventmodels.OrderTypeStopLimit:
		return "STOP_LIMIT"
	case eventmodels.OrderTypeTrailingStop:
		return "TRAIL"
	default:
		return "MKT"
	}
}

func ibkrTimeInForce(tif eventmodels.TimeInForce) string {
	switch tif {
	case eventmodels.TimeInForceGoodTillCancelled:
		return "GTC"
	case eventmodels.TimeInForceImmediateOrCancel:
		return "IOC"
	case eventmodels.TimeInForceFillOrKill:
		return "FOK"
	default:
		return "DAY"
	}
}

func (a *IBKRAdapter) SubmitOrder(ctx context.Context, order WireOrder) (BrokerResponse, error) {
	payload := map[string]interface{}{"orders": []WireOrder{order}}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("IBKRAdapter.SubmitOrder: failed to marshal order: %w", err)
	}

	url := fmt.Sprintf("%s/iserver/account/%s/orders", a.baseURL, a.accountID)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("IBKRAdapter.SubmitOrder: failed to create request: %w", err)
	}

	httpReq.Header.Add("Content-Type", "application/json")

	if err := a.signer.Sign(httpReq); err != nil {
		return nil, &eventmodels.AuthError{BrokerType: eventmodels.BrokerTypeIBKR, Reason: "failed to sign request", Cause: err}
	}

	log.Infof("IBKRAdapter.SubmitOrder: placing order: %s %s %s", order["side"], order["quantity"], order["ticker"])

	res, err := a.client.Do(httpReq)
	if err != nil {
		return nil, &eventmodels.NetworkError{Op: "IBKRAdapter.SubmitOrder", Cause: err}
	}

	defer res.Body.Close()

	if res.StatusCode == http.StatusTooManyRequests {
		return nil, &eventmodels.RateLimitedError{BrokerType: eventmodels.BrokerTypeIBKR, RetryAfter: time.Minute}
	}

	if res.StatusCode == http.StatusUnauthorized {
		return nil, &eventmodels.AuthError{BrokerType: eventmodels.BrokerTypeIBKR, Reason: "signature rejected"}
	}

	if res.StatusCode != http.StatusOK {
		errBytes, readErr := io.ReadAll(res.Body)
		if readErr != nil {
			return nil, fmt.Errorf("IBKRAdapter.SubmitOrder: failed to read response body: %w", readErr)
		}

		return nil, fmt.Errorf("IBKRAdapter.SubmitOrder: %s, http code %v", string(errBytes), res.Status)
	}

	// IB replies with a one-element array of order confirmations
	var confirmations []BrokerResponse
	if err := json.NewDecoder(res.Body).Decode(&confirmations); err != nil {
		return nil, fmt.Errorf("IBKRAdapter.SubmitOrder: failed to decode response: %w", err)
	}

	if len(confirmations) == 0 {
		return nil, fmt.Errorf("IBKRAdapter.SubmitOrder: empty confirmation list")
	}

	return confirmations[0], nil
}

func (a *IBKRAdapter) ParseOrderResponse(resp BrokerResponse) (OrderAck, error) {
	ack := OrderAck{Status: eventmodels.OrderStatusPending}

	switch id := resp["order_id"].(type) {
	case string:
		ack.OrderID = id
	case float64:
		ack.OrderID = strconv.FormatInt(int64(id), 10)
	default:
		return OrderAck{}, fmt.Errorf("IBKRAdapter.ParseOrderResponse: missing order id: %v", resp)
	}

	if status, found := resp["order_status"].(string); found {
		ack.Status = ibkrStatus(status)
	}

	if qty, found := resp["filled_quantity"].(float64); found {
		ack.FilledQuantity = qty
	}

	if price, found := resp["avg_price"].(float64); found {
		ack.AvgFillPrice = price
	}

	return ack, nil
}

func ibkrStatus(brokerStatus string) eventmodels.OrderStatus {
	status, found := ibkrStatusMap[strings.ToLower(brokerStatus)]
	if !found {
		log.Warnf("ibkrStatus: unknown broker status %q, defaulting to pending", brokerStatus)
		return eventmodels.OrderStatusPending
	}

	return status
}

func (a *IBKRAdapter) CancelOrder(ctx context.Context, orderID string) error {
	url := fmt.Sprintf("%s/iserver/account/%s/order/%s", a.baseURL, a.accountID, orderID)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("IBKRAdapter.CancelOrder: failed to create request: %w", err)
	}

	if err := a.signer.Sign(httpReq); err != nil {
		return &eventmodels.AuthError{BrokerType: eventmodels.BrokerTypeIBKR, Reason: "failed to sign request", Cause: err}
	}

	res, err := a.client.Do(httpReq)
	if err != nil {
		return &eventmodels.NetworkError{Op: "IBKRAdapter.CancelOrder", Cause: err}
	}

	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("IBKRAdapter.CancelOrder: invalid status code: %s", res.Status)
	}

	return nil
}

func (a *IBKRAdapter) IsConnected(ctx context.Context) bool {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/iserver/auth/status", nil)
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
