package eventmodels

import "fmt"

// TradeResult is the normalized outcome of one CanonicalOrder within a batch.
type TradeResult struct {
	Symbol            string      `json:"symbol"`
	Side              OrderSide   `json:"side"`
	RequestedQuantity float64     `json:"requested_quantity"`
	FilledQuantity    float64     `json:"filled_quantity"`
	AvgFillPrice      float64     `json:"avg_fill_price"`
	Commission        float64     `json:"commission"`
	Status            OrderStatus `json:"status"`
	OrderID           string      `json:"order_id,omitempty"`
	ErrorMessage      string      `json:"error_message,omitempty"`
}

func (t TradeResult) NotionalValue() float64 {
	return t.FilledQuantity * t.AvgFillPrice
}

func (t TradeResult) String() string {
	return fmt.Sprintf("%s %s %v/%v @ %.2f (%s)", t.Side, t.Symbol, t.FilledQuantity, t.RequestedQuantity, t.AvgFillPrice, t.Status)
}
