package execution

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kataras/go-events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradoverse/brokerage/src/auth"
	"github.com/tradoverse/brokerage/src/brokers"
	"github.com/tradoverse/brokerage/src/connections"
	"github.com/tradoverse/brokerage/src/data"
	"github.com/tradoverse/brokerage/src/eventmodels"
	"github.com/tradoverse/brokerage/src/routing"
)

type mockAdapter struct {
	brokerType  eventmodels.BrokerType
	fillPrice   float64
	fillStatus  eventmodels.OrderStatus
	failSymbols map[string]error
	cancelled   []string
	cancelErr   error
}

func (m *mockAdapter) BrokerType() eventmodels.BrokerType {
	return m.brokerType
}

func (m *mockAdapter) Capabilities() eventmodels.BrokerCapabilities {
	return eventmodels.BrokerCapabilities{MaxOrdersPerMinute: 60}
}

func (m *mockAdapter) NormalizeSymbol(input string) string {
	return input
}

func (m *mockAdapter) ToBrokerSymbol(symbol string) string {
	return symbol
}

func (m *mockAdapter) FormatOrder(order eventmodels.CanonicalOrder) brokers.WireOrder {
	return brokers.WireOrder{
		"symbol":   order.Symbol,
		"quantity": fmt.Sprintf("%v", order.Quantity),
	}
}

func (m *mockAdapter) SubmitOrder(ctx context.Context, order brokers.WireOrder) (brokers.BrokerResponse, error) {
	symbol := order["symbol"]

	if err, found := m.failSymbols[symbol]; found {
		return nil, err
	}

	return brokers.BrokerResponse{
		"id":       "ord-" + symbol,
		"symbol":   symbol,
		"quantity": order["quantity"],
	}, nil
}

func (m *mockAdapter) ParseOrderResponse(resp brokers.BrokerResponse) (brokers.OrderAck, error) {
	var quantity float64
	fmt.Sscanf(resp["quantity"].(string), "%f", &quantity)

	status := m.fillStatus
	if status == "" {
		status = eventmodels.OrderStatusFilled
	}

	filled := quantity
	if status != eventmodels.OrderStatusFilled && status != eventmodels.OrderStatusPartial {
		filled = 0
	}

	return brokers.OrderAck{
		OrderID:        resp["id"].(string),
		Status:         status,
		FilledQuantity: filled,
		AvgFillPrice:   m.fillPrice,
	}, nil
}

func (m *mockAdapter) CancelOrder(ctx context.Context, orderID string) error {
	if m.cancelErr != nil {
		return m.cancelErr
	}

	m.cancelled = append(m.cancelled, orderID)
	return nil
}

func (m *mockAdapter) IsConnected(ctx context.Context) bool {
	return true
}

func newTestService(t *testing.T, brokerType eventmodels.BrokerType, adapter *mockAdapter) (*TradeExecutionService, *eventmodels.BrokerConnection, *data.MockDatabase) {
	t.Helper()

	conn := &eventmodels.BrokerConnection{
		ID:         uuid.New(),
		UserID:     7,
		BrokerType: brokerType,
		IsActive:   true,
	}

	manager := connections.NewManager()
	manager.Connect(conn, adapter)

	db := data.NewMockDatabase()

	return NewTradeExecutionService(manager, nil, db), conn, db
}

func TestValidateTrades(t *testing.T) {
	limitPrice := 150.0

	t.Run("collects every defect in one pass", func(t *testing.T) {
		orders := []eventmodels.CanonicalOrder{
			{Symbol: "", Side: eventmodels.OrderSideBuy, Quantity: 1, OrderType: eventmodels.OrderTypeMarket},
			{Symbol: "AAPL", Side: eventmodels.OrderSideBuy, Quantity: -5, OrderType: eventmodels.OrderTypeMarket},
			{Symbol: "MSFT", Side: eventmodels.OrderSideSell, Quantity: 10, OrderType: eventmodels.OrderTypeLimit},
		}

		validationErrors := ValidateTrades(orders)

		require.True(t, validationErrors.HasErrors())
		assert.Len(t, validationErrors.Errors, 3)
	})

	t.Run("valid batch has no errors", func(t *testing.T) {
		orders := []eventmodels.CanonicalOrder{
			{Symbol: "AAPL", Side: eventmodels.OrderSideBuy, Quantity: 10, OrderType: eventmodels.OrderTypeLimit, LimitPrice: &limitPrice, TimeInForce: eventmodels.TimeInForceDay},
		}

		assert.False(t, ValidateTrades(orders).HasErrors())
	})
}

func TestExecuteTradesDryRun(t *testing.T) {
	adapter := &mockAdapter{brokerType: eventmodels.BrokerTypeCoinbase}
	service, conn, db := newTestService(t, eventmodels.BrokerTypeCoinbase, adapter)

	req := &eventmodels.ExecutionRequest{
		UserID:       7,
		ConnectionID: conn.ID,
		DryRun:       true,
		Orders: []eventmodels.CanonicalOrder{
			{Symbol: "BTC-USD", Side: eventmodels.OrderSideBuy, Quantity: 0.5, OrderType: eventmodels.OrderTypeMarket, TimeInForce: eventmodels.TimeInForceGoodTillCancelled},
			{Symbol: "ETH-USD", Side: eventmodels.OrderSideBuy, Quantity: 2, OrderType: eventmodels.OrderTypeMarket, TimeInForce: eventmodels.TimeInForceGoodTillCancelled},
		},
		EstimatedPrices: map[string]float64{
			"BTC-USD": 60000,
			"ETH-USD": 3000,
		},
	}

	result, err := service.ExecuteTrades(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, eventmodels.OrderStatusFilled, result.Status)
	require.Len(t, result.Trades, 2)

	expectedValue := 0.5*60000 + 2.0*3000
	assert.InDelta(t, expectedValue, result.TotalValue, 1e-9)

	expectedCommission := Commission(eventmodels.BrokerTypeCoinbase, 0.5, 60000) + Commission(eventmodels.BrokerTypeCoinbase, 2, 3000)
	assert.InDelta(t, expectedCommission, result.TotalCommission, 1e-9)
	assert.InDelta(t, expectedValue*0.001, result.TotalCommission, 1e-9)

	persisted, err := db.FetchExecutionResult(context.Background(), 7, result.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, result.TotalValue, persisted.TotalValue)
}

func TestExecuteTradesEmitsOrderUpdates(t *testing.T) {
	adapter := &mockAdapter{brokerType: eventmodels.BrokerTypeTradier, fillPrice: 100}
	service, conn, _ := newTestService(t, eventmodels.BrokerTypeTradier, adapter)

	fills := make(chan eventmodels.OrderFillEvent, 4)
	listener := events.Listener(func(payload ...interface{}) {
		if fill, ok := payload[0].(eventmodels.OrderFillEvent); ok {
			fills <- fill
		}
	})

	brokers.Emitter.AddListener(brokers.OrderUpdateEvent, listener)
	defer brokers.Emitter.RemoveAllListeners(brokers.OrderUpdateEvent)

	req := &eventmodels.ExecutionRequest{
		UserID:       7,
		ConnectionID: conn.ID,
		Orders: []eventmodels.CanonicalOrder{
			{Symbol: "AAPL", Side: eventmodels.OrderSideBuy, Quantity: 10, OrderType: eventmodels.OrderTypeMarket, TimeInForce: eventmodels.TimeInForceDay},
		},
	}

	_, err := service.ExecuteTrades(context.Background(), req)
	require.NoError(t, err)

	select {
	case fill := <-fills:
		assert.Equal(t, uint(7), fill.UserID)
		assert.Equal(t, conn.ID.String(), fill.ConnectionID)
		assert.Equal(t, eventmodels.BrokerTypeTradier, fill.BrokerType)
		assert.Equal(t, "AAPL", fill.Symbol)
		assert.Equal(t, "ord-AAPL", fill.OrderID)
		assert.Equal(t, eventmodels.OrderStatusFilled, fill.Status)
	case <-time.After(time.Second):
		t.Fatal("no order update emitted")
	}
}

type concurrencyAdapter struct {
	*mockAdapter

	mu       sync.Mutex
	inFlight int
	peak     int
}

func (a *concurrencyAdapter) SubmitOrder(ctx context.Context, order brokers.WireOrder) (brokers.BrokerResponse, error) {
	a.mu.Lock()
	a.inFlight++
	if a.inFlight > a.peak {
		a.peak = a.inFlight
	}
	a.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	a.mu.Lock()
	a.inFlight--
	a.mu.Unlock()

	return a.mockAdapter.SubmitOrder(ctx, order)
}

func TestSubmitBatchBoundsConcurrency(t *testing.T) {
	adapter := &concurrencyAdapter{mockAdapter: &mockAdapter{brokerType: eventmodels.BrokerTypeAlpaca, fillPrice: 10}}

	conn := &eventmodels.BrokerConnection{
		ID:         uuid.New(),
		UserID:     7,
		BrokerType: eventmodels.BrokerTypeAlpaca,
		IsActive:   true,
	}

	manager := connections.NewManager()
	manager.Connect(conn, adapter)

	service := NewTradeExecutionService(manager, nil, data.NewMockDatabase())

	orders := make([]eventmodels.CanonicalOrder, 24)
	for i := range orders {
		orders[i] = eventmodels.CanonicalOrder{
			Symbol:      fmt.Sprintf("SYM%d", i),
			Side:        eventmodels.OrderSideBuy,
			Quantity:    1,
			OrderType:   eventmodels.OrderTypeMarket,
			TimeInForce: eventmodels.TimeInForceDay,
		}
	}

	result, err := service.ExecuteTrades(context.Background(), &eventmodels.ExecutionRequest{
		UserID:       7,
		ConnectionID: conn.ID,
		Orders:       orders,
	})
	require.NoError(t, err)
	require.Len(t, result.Trades, 24)
	assert.Equal(t, eventmodels.OrderStatusFilled, result.Status)

	limit := maxConcurrentOrders(adapter.Capabilities())
	assert.LessOrEqual(t, adapter.peak, limit, "in-flight submissions exceeded the per-connection bound")
	assert.Greater(t, adapter.peak, 1, "batch never ran concurrently")

	t.Run("semaphore size clamps", func(t *testing.T) {
		assert.Equal(t, 1, maxConcurrentOrders(eventmodels.BrokerCapabilities{MaxOrdersPerMinute: 5}))
		assert.Equal(t, 6, maxConcurrentOrders(eventmodels.BrokerCapabilities{MaxOrdersPerMinute: 60}))
		assert.Equal(t, 8, maxConcurrentOrders(eventmodels.BrokerCapabilities{MaxOrdersPerMinute: 1000}))
	})
}

func TestExecuteTradesRoutesWhenNoConnectionGiven(t *testing.T) {
	adapter := &mockAdapter{brokerType: eventmodels.BrokerTypeCoinbase}

	syncedAt := time.Now().UTC()
	conn := &eventmodels.BrokerConnection{
		ID:         uuid.New(),
		UserID:     7,
		BrokerType: eventmodels.BrokerTypeCoinbase,
		AuthMethod: eventmodels.AuthMethodSigned,
		IsActive:   true,
		LastSyncAt: &syncedAt,
	}

	manager := connections.NewManager()
	manager.Connect(conn, adapter)

	db := data.NewMockDatabase()
	tokens := auth.NewTokenManager(db, []byte("0123456789abcdef0123456789abcdef"))
	service := NewTradeExecutionService(manager, routing.NewRouter(manager, tokens, nil), db)

	req := &eventmodels.ExecutionRequest{
		UserID:     7,
		AssetClass: eventmodels.AssetClassCrypto,
		DryRun:     true,
		Orders: []eventmodels.CanonicalOrder{
			{Symbol: "BTC-USD", Side: eventmodels.OrderSideBuy, Quantity: 1, OrderType: eventmodels.OrderTypeMarket, TimeInForce: eventmodels.TimeInForceGoodTillCancelled},
		},
		EstimatedPrices: map[string]float64{"BTC-USD": 60000},
	}

	result, err := service.ExecuteTrades(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, conn.ID, result.ConnectionID)
	assert.Equal(t, eventmodels.BrokerTypeCoinbase, result.BrokerType)
	assert.Equal(t, eventmodels.OrderStatusFilled, result.Status)

	t.Run("fails without an asset class", func(t *testing.T) {
		_, err := service.ExecuteTrades(context.Background(), &eventmodels.ExecutionRequest{
			UserID: 7,
			Orders: req.Orders,
			DryRun: true,
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "asset class")
	})
}

func TestExecuteTradesValidationGate(t *testing.T) {
	adapter := &mockAdapter{brokerType: eventmodels.BrokerTypeTradier}
	service, conn, _ := newTestService(t, eventmodels.BrokerTypeTradier, adapter)

	req := &eventmodels.ExecutionRequest{
		UserID:       7,
		ConnectionID: conn.ID,
		Orders: []eventmodels.CanonicalOrder{
			{Symbol: "", Side: eventmodels.OrderSideBuy, Quantity: 1, OrderType: eventmodels.OrderTypeMarket},
			{Symbol: "AAPL", Side: eventmodels.OrderSideBuy, Quantity: 0, OrderType: eventmodels.OrderTypeMarket},
			{Symbol: "MSFT", Side: eventmodels.OrderSideBuy, Quantity: 5, OrderType: eventmodels.OrderTypeLimit},
		},
	}

	result, err := service.ExecuteTrades(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, eventmodels.OrderStatusRejected, result.Status)
	assert.Empty(t, result.Trades)
	assert.Len(t, result.Errors, 3)
}

func TestExecuteTradesPartialFailureIsolation(t *testing.T) {
	adapter := &mockAdapter{
		brokerType: eventmodels.BrokerTypeTradier,
		fillPrice:  100,
		failSymbols: map[string]error{
			"BAD": &eventmodels.RateLimitedError{BrokerType: eventmodels.BrokerTypeTradier, RetryAfter: time.Second},
		},
	}
	service, conn, _ := newTestService(t, eventmodels.BrokerTypeTradier, adapter)

	req := &eventmodels.ExecutionRequest{
		UserID:       7,
		ConnectionID: conn.ID,
		Orders: []eventmodels.CanonicalOrder{
			{Symbol: "AAPL", Side: eventmodels.OrderSideBuy, Quantity: 10, OrderType: eventmodels.OrderTypeMarket, TimeInForce: eventmodels.TimeInForceDay},
			{Symbol: "BAD", Side: eventmodels.OrderSideBuy, Quantity: 10, OrderType: eventmodels.OrderTypeMarket, TimeInForce: eventmodels.TimeInForceDay},
			{Symbol: "MSFT", Side: eventmodels.OrderSideSell, Quantity: 3, OrderType: eventmodels.OrderTypeMarket, TimeInForce: eventmodels.TimeInForceDay},
		},
	}

	result, err := service.ExecuteTrades(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, eventmodels.OrderStatusPartial, result.Status)
	require.Len(t, result.Trades, 3)

	assert.Equal(t, eventmodels.OrderStatusFilled, result.Trades[0].Status)
	assert.Equal(t, eventmodels.OrderStatusRejected, result.Trades[1].Status)
	assert.Contains(t, result.Trades[1].ErrorMessage, "rate limited")
	assert.Equal(t, eventmodels.OrderStatusFilled, result.Trades[2].Status)

	expectedValue := 10*100.0 + 3*100.0
	assert.InDelta(t, expectedValue, result.TotalValue, 1e-9)
}

func TestExecuteTradesInactiveConnection(t *testing.T) {
	adapter := &mockAdapter{brokerType: eventmodels.BrokerTypeAlpaca}
	service, conn, _ := newTestService(t, eventmodels.BrokerTypeAlpaca, adapter)
	conn.IsActive = false

	req := &eventmodels.ExecutionRequest{
		UserID:       7,
		ConnectionID: conn.ID,
		Orders: []eventmodels.CanonicalOrder{
			{Symbol: "AAPL", Side: eventmodels.OrderSideBuy, Quantity: 1, OrderType: eventmodels.OrderTypeMarket, TimeInForce: eventmodels.TimeInForceDay},
		},
	}

	_, err := service.ExecuteTrades(context.Background(), req)
	assert.ErrorContains(t, err, "inactive")
}

func TestCancelOrder(t *testing.T) {
	t.Run("unknown execution is not found", func(t *testing.T) {
		adapter := &mockAdapter{brokerType: eventmodels.BrokerTypeTradier}
		service, _, _ := newTestService(t, eventmodels.BrokerTypeTradier, adapter)

		result, err := service.CancelOrder(context.Background(), 7, uuid.New())
		require.NoError(t, err)
		assert.Equal(t, eventmodels.CancelNotFound, result.Disposition)
		assert.False(t, result.Success())
	})

	t.Run("terminal execution is already terminal", func(t *testing.T) {
		adapter := &mockAdapter{brokerType: eventmodels.BrokerTypeTradier, fillPrice: 50}
		service, conn, db := newTestService(t, eventmodels.BrokerTypeTradier, adapter)

		execution := &eventmodels.ExecutionResult{
			ExecutionID:  uuid.New(),
			ConnectionID: conn.ID,
			Status:       eventmodels.OrderStatusFilled,
		}
		require.NoError(t, db.SaveExecutionResult(context.Background(), 7, execution, false))

		result, err := service.CancelOrder(context.Background(), 7, execution.ExecutionID)
		require.NoError(t, err)
		assert.Equal(t, eventmodels.CancelAlreadyTerminal, result.Disposition)
		assert.Empty(t, adapter.cancelled)
	})

	t.Run("pending trades are cancelled at the broker", func(t *testing.T) {
		adapter := &mockAdapter{brokerType: eventmodels.BrokerTypeTradier}
		service, conn, db := newTestService(t, eventmodels.BrokerTypeTradier, adapter)

		execution := &eventmodels.ExecutionResult{
			ExecutionID:  uuid.New(),
			ConnectionID: conn.ID,
			Status:       eventmodels.OrderStatusPending,
			Trades: []eventmodels.TradeResult{
				{Symbol: "AAPL", OrderID: "ord-1", Status: eventmodels.OrderStatusPending},
				{Symbol: "MSFT", OrderID: "ord-2", Status: eventmodels.OrderStatusFilled},
			},
		}
		require.NoError(t, db.SaveExecutionResult(context.Background(), 7, execution, false))

		result, err := service.CancelOrder(context.Background(), 7, execution.ExecutionID)
		require.NoError(t, err)
		assert.Equal(t, eventmodels.CancelAcknowledged, result.Disposition)
		assert.True(t, result.Success())
		assert.Equal(t, []string{"ord-1"}, adapter.cancelled)
	})
}

func TestCommission(t *testing.T) {
	t.Run("equities are commission free", func(t *testing.T) {
		assert.Zero(t, Commission(eventmodels.BrokerTypeTradier, 100, 50))
		assert.Zero(t, Commission(eventmodels.BrokerTypeAlpaca, 100, 50))
	})

	t.Run("crypto fee is percent of notional", func(t *testing.T) {
		assert.InDelta(t, 30.0, Commission(eventmodels.BrokerTypeCoinbase, 0.5, 60000), 1e-9)
	})

	t.Run("per unit fee has a floor", func(t *testing.T) {
		assert.InDelta(t, 1.0, Commission(eventmodels.BrokerTypeIBKR, 10, 100), 1e-9)
		assert.InDelta(t, 2.5, Commission(eventmodels.BrokerTypeIBKR, 500, 100), 1e-9)
	})

	t.Run("zero fill pays nothing", func(t *testing.T) {
		assert.Zero(t, Commission(eventmodels.BrokerTypeIBKR, 0, 100))
	})
}
