package eventmodels

import "fmt"

type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

type OrderType string

const (
	OrderTypeMarket       OrderType = "market"
	OrderTypeLimit        OrderType = "limit"
	OrderTypeStop         OrderType = "stop"
	OrderTypeStopLimit    OrderType = "stop_limit"
	OrderTypeTrailingStop OrderType = "trailing_stop"
)

type TimeInForce string

const (
	TimeInForceDay               TimeInForce = "day"
	TimeInForceGoodTillCancelled TimeInForce = "gtc"
	TimeInForceImmediateOrCancel TimeInForce = "ioc"
	TimeInForceFillOrKill        TimeInForce = "fok"
)

// CanonicalOrder is the broker-agnostic order representation. Callers
// construct it fully populated; it is never repaired downstream.
type CanonicalOrder struct {
	Symbol      string      `json:"symbol"`
	Side        OrderSide   `json:"side"`
	Quantity    float64     `json:"quantity"`
	OrderType   OrderType   `json:"order_type"`
	LimitPrice  *float64    `json:"limit_price,omitempty"`
	StopPrice   *float64    `json:"stop_price,omitempty"`
	TimeInForce TimeInForce `json:"time_in_force"`
}

func (o CanonicalOrder) Validate() error {
	if o.Symbol == "" {
		return fmt.Errorf("order has no symbol")
	}

	if o.Side != OrderSideBuy && o.Side != OrderSideSell {
		return fmt.Errorf("%s: invalid side: %s", o.Symbol, o.Side)
	}

	if o.Quantity <= 0 {
		return fmt.Errorf("%s: quantity must be positive, got %v", o.Symbol, o.Quantity)
	}

	switch o.OrderType {
	case OrderTypeMarket, OrderTypeTrailingStop:
	case OrderTypeLimit:
		if o.LimitPrice == nil {
			return fmt.Errorf("%s: limit order requires a limit price", o.Symbol)
		}
	case OrderTypeStop:
		if o.StopPrice == nil {
			return fmt.Errorf("%s: stop order requires a stop price", o.Symbol)
		}
	case OrderTypeStopLimit:
		if o.LimitPrice == nil || o.StopPrice == nil {
			return fmt.Errorf("%s: stop limit order requires both a limit price and a stop price", o.Symbol)
		}
	default:
		return fmt.Errorf("%s: invalid order type: %s", o.Symbol, o.OrderType)
	}

	return nil
}

func (o CanonicalOrder) String() string {
	return fmt.Sprintf("%s %s %v %s (%s, %s)", o.Side, o.Symbol, o.Quantity, o.OrderType, o.TimeInForce, describePrices(o))
}

func describePrices(o CanonicalOrder) string {
	switch {
	case o.LimitPrice != nil && o.StopPrice != nil:
		return fmt.Sprintf("limit %.2f stop %.2f", *o.LimitPrice, *o.StopPrice)
	case o.LimitPrice != nil:
		return fmt.Sprintf("limit %.2f", *o.LimitPrice)
	case o.StopPrice != nil:
		return fmt.Sprintf("stop %.2f", *o.StopPrice)
	default:
		return "no price"
	}
}
