package eventmodels

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveStatus(t *testing.T) {
	t.Run("all filled", func(t *testing.T) {
		r := &ExecutionResult{Trades: []TradeResult{
			{Symbol: "AAPL", Status: OrderStatusFilled},
			{Symbol: "MSFT", Status: OrderStatusFilled},
		}}
		assert.Equal(t, OrderStatusFilled, r.DeriveStatus())
	})

	t.Run("all rejected", func(t *testing.T) {
		r := &ExecutionResult{Trades: []TradeResult{
			{Symbol: "AAPL", Status: OrderStatusRejected},
			{Symbol: "MSFT", Status: OrderStatusRejected},
		}}
		assert.Equal(t, OrderStatusRejected, r.DeriveStatus())
	})

	t.Run("mixed is partial", func(t *testing.T) {
		r := &ExecutionResult{Trades: []TradeResult{
			{Symbol: "AAPL", Status: OrderStatusFilled},
			{Symbol: "MSFT", Status: OrderStatusRejected},
		}}
		assert.Equal(t, OrderStatusPartial, r.DeriveStatus())
	})

	t.Run("none resolved is pending", func(t *testing.T) {
		r := &ExecutionResult{Trades: []TradeResult{
			{Symbol: "AAPL", Status: OrderStatusPending},
			{Symbol: "MSFT", Status: OrderStatusPending},
		}}
		assert.Equal(t, OrderStatusPending, r.DeriveStatus())
	})

	t.Run("no trades is rejected", func(t *testing.T) {
		r := &ExecutionResult{}
		assert.Equal(t, OrderStatusRejected, r.DeriveStatus())
	})
}

func TestAggregate(t *testing.T) {
	r := &ExecutionResult{Trades: []TradeResult{
		{Symbol: "AAPL", Status: OrderStatusFilled, FilledQuantity: 10, AvgFillPrice: 150.0, Commission: 1.5},
		{Symbol: "BTC-USD", Status: OrderStatusFilled, FilledQuantity: 0.5, AvgFillPrice: 40000.0, Commission: 20.0},
	}}

	r.Aggregate()

	assert.Equal(t, OrderStatusFilled, r.Status)
	assert.InDelta(t, 1500.0+20000.0, r.TotalValue, 1e-9)
	assert.InDelta(t, 21.5, r.TotalCommission, 1e-9)
}
