package eventmodels

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func floatPtr(v float64) *float64 {
	return &v
}

func TestCanonicalOrderValidate(t *testing.T) {
	t.Run("valid market order", func(t *testing.T) {
		o := CanonicalOrder{Symbol: "AAPL", Side: OrderSideBuy, Quantity: 10, OrderType: OrderTypeMarket, TimeInForce: TimeInForceDay}
		assert.NoError(t, o.Validate())
	})

	t.Run("missing symbol", func(t *testing.T) {
		o := CanonicalOrder{Side: OrderSideBuy, Quantity: 10, OrderType: OrderTypeMarket, TimeInForce: TimeInForceDay}
		assert.Error(t, o.Validate())
	})

	t.Run("zero quantity", func(t *testing.T) {
		o := CanonicalOrder{Symbol: "AAPL", Side: OrderSideSell, Quantity: 0, OrderType: OrderTypeMarket, TimeInForce: TimeInForceDay}
		assert.Error(t, o.Validate())
	})

	t.Run("limit order requires limit price", func(t *testing.T) {
		o := CanonicalOrder{Symbol: "AAPL", Side: OrderSideBuy, Quantity: 1, OrderType: OrderTypeLimit, TimeInForce: TimeInForceDay}
		assert.Error(t, o.Validate())

		o.LimitPrice = floatPtr(150.0)
		assert.NoError(t, o.Validate())
	})

	t.Run("stop limit requires both prices", func(t *testing.T) {
		o := CanonicalOrder{Symbol: "AAPL", Side: OrderSideBuy, Quantity: 1, OrderType: OrderTypeStopLimit, TimeInForce: TimeInForceDay, LimitPrice: floatPtr(150.0)}
		assert.Error(t, o.Validate())

		o.StopPrice = floatPtr(149.0)
		assert.NoError(t, o.Validate())
	})
}
