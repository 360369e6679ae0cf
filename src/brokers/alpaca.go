package brokers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/tradoverse/brokerage/src/eventmodels"
)

const alpacaLiveBaseURL = "https://api.alpaca.markets"
const alpacaPaperBaseURL = "https://paper-api.alpaca.markets"

var alpacaStatusMap = map[string]eventmodels.OrderStatus{
	"new":                  eventmodels.OrderStatusPending,
	"accepted":             eventmodels.OrderStatusPending,
	"pending_new":          eventmodels.OrderStatusPending,
	"accepted_for_bidding": eventmodels.OrderStatusPending,
	"done_for_day":         eventmodels.OrderStatusPending,
	"partially_filled":     eventmodels.OrderStatusPartial,
	"filled":               eventmodels.OrderStatusFilled,
	"rejected":             eventmodels.OrderStatusRejected,
	"suspended":            eventmodels.OrderStatusRejected,
	"canceled":             eventmodels.OrderStatusCancelled,
	"expired":              eventmodels.OrderStatusCancelled,
	"stopped":              eventmodels.OrderStatusCancelled,
}

// AlpacaAdapter wraps the Alpaca trading SDK behind the canonical adapter
// interface. The bearer token from the OAuth flow is handed to the SDK
// client as-is.
type AlpacaAdapter struct {
	client  *alpaca.Client
	isPaper bool
}

func NewAlpacaAdapter(cfg AdapterConfig) *AlpacaAdapter {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		if cfg.IsPaper {
			baseURL = alpacaPaperBaseURL
		} else {
			baseURL = alpacaLiveBaseURL
		}
	}

	var token string
	if cfg.Tokens != nil {
		token = cfg.Tokens.AccessToken()
	}

	return &AlpacaAdapter{
		client: alpaca.NewClient(alpaca.ClientOpts{
			OAuth:   token,
			BaseURL: baseURL,
		}),
		isPaper: cfg.IsPaper,
	}
}

func (a *AlpacaAdapter) BrokerType() eventmodels.BrokerType {
	return eventmodels.BrokerTypeAlpaca
}

func (a *AlpacaAdapter) Capabilities() eventmodels.BrokerCapabilities {
	caps, _ := CapabilitiesFor(eventmodels.BrokerTypeAlpaca)
	return caps
}

func (a *AlpacaAdapter) NormalizeSymbol(input string) string {
	return strings.ToUpper(strings.TrimSpace(input))
}

func (a *AlpacaAdapter) ToBrokerSymbol(symbol string) string {
	normalized := a.NormalizeSymbol(symbol)

	// Alpaca crypto pairs use a slash separator, e.g. BTC/USD
	if strings.Contains(normalized, "-") {
		return strings.Replace(normalized, "-", "/", 1)
	}

	return normalized
}

func (a *AlpacaAdapter) FormatOrder(order eventmodels.CanonicalOrder) WireOrder {
	wire := WireOrder{
		"symbol":        a.ToBrokerSymbol(order.Symbol),
		"side":          string(order.Side),
		"qty":           strconv.FormatFloat(order.Quantity, 'f', -1, 64),
		"type":          string(order.OrderType),
		"time_in_force": string(order.TimeInForce),
	}

	if order.LimitPrice != nil {
		wire["limit_price"] = strconv.FormatFloat(*order.LimitPrice, 'f', -1, 64)
	}

	if order.StopPrice != nil {
		wire["stop_price"] = strconv.FormatFloat(*order.StopPrice, 'f', -1, 64)
	}

	return wire
}

func (a *AlpacaAdapter) SubmitOrder(ctx context.Context, order WireOrder) (BrokerResponse, error) {
	req, err := alpacaPlaceOrderRequest(order)
	if err != nil {
		return nil, fmt.Errorf("AlpacaAdapter.SubmitOrder: %w", err)
	}

	log.Infof("AlpacaAdapter.SubmitOrder: placing order: %s %s %s", order["side"], order["qty"], order["symbol"])

	placed, err := a.client.PlaceOrder(req)
	if err != nil {
		if apiErr, ok := err.(*alpaca.APIError); ok {
			switch apiErr.StatusCode {
			case 429:
				return nil, &eventmodels.RateLimitedError{BrokerType: eventmodels.BrokerTypeAlpaca}
			case 401, 403:
				return nil, &eventmodels.AuthError{BrokerType: eventmodels.BrokerTypeAlpaca, Reason: "access token rejected", Cause: err}
			}

			return nil, fmt.Errorf("AlpacaAdapter.SubmitOrder: broker rejected order: %w", err)
		}

		return nil, &eventmodels.NetworkError{Op: "AlpacaAdapter.SubmitOrder", Cause: err}
	}

	resp := BrokerResponse{
		"id":     placed.ID,
		"status": string(placed.Status),
	}

	resp["filled_qty"], _ = placed.FilledQty.Float64()

	if placed.FilledAvgPrice != nil {
		resp["filled_avg_price"], _ = placed.FilledAvgPrice.Float64()
	}

	return resp, nil
}

func alpacaPlaceOrderRequest(order WireOrder) (alpaca.PlaceOrderRequest, error) {
	qty, err := decimal.NewFromString(order["qty"])
	if err != nil {
		return alpaca.PlaceOrderRequest{}, fmt.Errorf("invalid quantity %q: %w", order["qty"], err)
	}

	req := alpaca.PlaceOrderRequest{
		Symbol:      order["symbol"],
		Qty:         &qty,
		Side:        alpaca.Side(order["side"]),
		Type:        alpaca.OrderType(order["type"]),
		TimeInForce: alpaca.TimeInForce(order["time_in_force"]),
	}

	if raw, found := order["limit_price"]; found {
		price, err := decimal.NewFromString(raw)
		if err != nil {
			return alpaca.PlaceOrderRequest{}, fmt.Errorf("invalid limit price %q: %w", raw, err)
		}
		req.LimitPrice = &price
	}

	if raw, found := order["stop_price"]; found {
		price, err := decimal.NewFromString(raw)
		if err != nil {
			return alpaca.PlaceOrderRequest{}, fmt.Errorf("invalid stop price %q: %w", raw, err)
		}
		req.StopPrice = &price
	}

	return req, nil
}

func (a *AlpacaAdapter) ParseOrderResponse(resp BrokerResponse) (OrderAck, error) {
	ack := OrderAck{Status: eventmodels.OrderStatusPending}

	if id, found := resp["id"].(string); found {
		ack.OrderID = id
	} else {
		return OrderAck{}, fmt.Errorf("AlpacaAdapter.ParseOrderResponse: missing order id: %v", resp)
	}

	if status, found := resp["status"].(string); found {
		ack.Status = alpacaStatus(status)
	}

	if qty, found := resp["filled_qty"].(float64); found {
		ack.FilledQuantity = qty
	}

	if price, found := resp["filled_avg_price"].(float64); found {
		ack.AvgFillPrice = price
	}

	return ack, nil
}

func alpacaStatus(brokerStatus string) eventmodels.OrderStatus {
	status, found := alpacaStatusMap[strings.ToLower(brokerStatus)]
	if !found {
		log.Warnf("alpacaStatus: unknown broker status %q, defaulting to pending", brokerStatus)
		return eventmodels.OrderStatusPending
	}

	return status
}

func (a *AlpacaAdapter) CancelOrder(ctx context.Context, orderID string) error {
	if err := a.client.CancelOrder(orderID); err != nil {
		return fmt.Errorf("AlpacaAdapter.CancelOrder: %w", err)
	}

	return nil
}

func (a *AlpacaAdapter) IsConnected(ctx context.Context) bool {
	_, err := a.client.GetAccount()
	return err == nil
}
