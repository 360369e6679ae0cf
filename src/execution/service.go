package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/tradoverse/brokerage/src/brokers"
	"github.com/tradoverse/brokerage/src/connections"
	"github.com/tradoverse/brokerage/src/data"
	"github.com/tradoverse/brokerage/src/eventmodels"
	"github.com/tradoverse/brokerage/src/routing"
)

// TradeExecutionService drives a batch of canonical orders through a live
// adapter (or the dry-run path) and persists the normalized outcome.
type TradeExecutionService struct {
	connManager *connections.Manager
	router      *routing.Router
	db          data.IDatabaseService
}

func NewTradeExecutionService(connManager *connections.Manager, router *routing.Router, db data.IDatabaseService) *TradeExecutionService {
	return &TradeExecutionService{
		connManager: connManager,
		router:      router,
		db:          db,
	}
}

// ValidateTrades checks every order in the batch and collects all defects
// instead of stopping at the first one.
func ValidateTrades(orders []eventmodels.CanonicalOrder) *eventmodels.ValidationErrors {
	validationErrors := &eventmodels.ValidationErrors{}

	for i, order := range orders {
		if err := order.Validate(); err != nil {
			validationErrors.Add(fmt.Sprintf("order %d: %v", i, err))
		}
	}

	return validationErrors
}

// ExecuteTrades runs the full batch lifecycle: validation gate, connection
// resolution, then either dry-run synthesis or live submission with
// per-trade failure isolation. The returned result always carries a
// derived batch status.
func (s *TradeExecutionService) ExecuteTrades(ctx context.Context, req *eventmodels.ExecutionRequest) (*eventmodels.ExecutionResult, error) {
	result := &eventmodels.ExecutionResult{
		ExecutionID:  uuid.New(),
		ConnectionID: req.ConnectionID,
		ExecutedAt:   time.Now().UTC(),
	}

	if len(req.Orders) == 0 {
		result.Status = eventmodels.OrderStatusRejected
		result.Errors = append(result.Errors, "no orders in request")
		return result, nil
	}

	if validationErrors := ValidateTrades(req.Orders); validationErrors.HasErrors() {
		result.Status = eventmodels.OrderStatusRejected
		result.Errors = validationErrors.Errors
		return result, nil
	}

	if req.ConnectionID == uuid.Nil {
		connectionID, err := s.routeRequest(req)
		if err != nil {
			return nil, err
		}

		req.ConnectionID = connectionID
		result.ConnectionID = connectionID
	}

	conn := s.connManager.GetConnection(req.ConnectionID)
	if conn == nil {
		return nil, fmt.Errorf("ExecuteTrades: connection %s is not connected", req.ConnectionID)
	}

	if !conn.IsActive {
		return nil, fmt.Errorf("ExecuteTrades: connection %s is inactive: %s", conn.ID, conn.LastError)
	}

	adapter := s.connManager.GetAdapter(req.ConnectionID)
	if adapter == nil {
		return nil, fmt.Errorf("ExecuteTrades: no adapter bound to connection %s", req.ConnectionID)
	}

	result.BrokerType = conn.BrokerType

	if req.DryRun {
		result.Trades = s.synthesizeFills(conn.BrokerType, req)
	} else {
		result.Trades = s.submitBatch(ctx, adapter, req)
	}

	result.Aggregate()

	if err := s.db.SaveExecutionResult(ctx, req.UserID, result, req.DryRun); err != nil {
		// The broker fill is the source of truth. A failed local write is
		// reconciled on the next sync pass, not rolled back.
		log.Errorf("ExecuteTrades: failed to persist execution %s: %v", result.ExecutionID, err)
	}

	return result, nil
}

// routeRequest picks a connection for a batch that did not name one. The
// whole batch goes to a single connection, selected from the asset class
// and the first order.
func (s *TradeExecutionService) routeRequest(req *eventmodels.ExecutionRequest) (uuid.UUID, error) {
	if s.router == nil {
		return uuid.Nil, fmt.Errorf("routeRequest: no connection id and no router configured")
	}

	if req.AssetClass == "" {
		return uuid.Nil, fmt.Errorf("routeRequest: asset class is required when no connection id is given")
	}

	route, err := s.router.Route(req.AssetClass, req.Orders[0].Symbol, req.Orders[0].Side)
	if err != nil {
		return uuid.Nil, fmt.Errorf("routeRequest: %w", err)
	}

	log.Infof("routeRequest: routed %s batch to %s connection %s", req.AssetClass, route.BrokerType, route.ConnectionID)

	return route.ConnectionID, nil
}

// synthesizeFills fills every order at the caller's estimated price with
// zero network calls. Commission math is shared with the live path.
func (s *TradeExecutionService) synthesizeFills(brokerType eventmodels.BrokerType, req *eventmodels.ExecutionRequest) []eventmodels.TradeResult {
	trades := make([]eventmodels.TradeResult, 0, len(req.Orders))

	for _, order := range req.Orders {
		price := req.EstimatedPrices[order.Symbol]
		if price == 0 && order.LimitPrice != nil {
			price = *order.LimitPrice
		}

		trades = append(trades, eventmodels.TradeResult{
			Symbol:            order.Symbol,
			Side:              order.Side,
			RequestedQuantity: order.Quantity,
			FilledQuantity:    order.Quantity,
			AvgFillPrice:      price,
			Commission:        Commission(brokerType, order.Quantity, price),
			Status:            eventmodels.OrderStatusFilled,
		})
	}

	return trades
}

// submitBatch executes each trade independently with bounded concurrency.
// A per-trade failure becomes a rejected TradeResult; the remaining trades
// proceed.
func (s *TradeExecutionService) submitBatch(ctx context.Context, adapter brokers.Adapter, req *eventmodels.ExecutionRequest) []eventmodels.TradeResult {
	trades := make([]eventmodels.TradeResult, len(req.Orders))

	sem := make(chan struct{}, maxConcurrentOrders(adapter.Capabilities()))

	var wg sync.WaitGroup
	for i, order := range req.Orders {
		wg.Add(1)

		go func(i int, order eventmodels.CanonicalOrder) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			trades[i] = s.submitOne(ctx, adapter, req, order)
		}(i, order)
	}

	wg.Wait()
	return trades
}

func (s *TradeExecutionService) submitOne(ctx context.Context, adapter brokers.Adapter, req *eventmodels.ExecutionRequest, order eventmodels.CanonicalOrder) eventmodels.TradeResult {
	trade := eventmodels.TradeResult{
		Symbol:            order.Symbol,
		Side:              order.Side,
		RequestedQuantity: order.Quantity,
		Status:            eventmodels.OrderStatusRejected,
	}

	wireOrder := adapter.FormatOrder(order)

	resp, err := adapter.SubmitOrder(ctx, wireOrder)
	if err != nil {
		log.Warnf("submitOne: %s %s failed: %v", adapter.BrokerType(), order.Symbol, err)
		trade.ErrorMessage = err.Error()
		return trade
	}

	ack, err := adapter.ParseOrderResponse(resp)
	if err != nil {
		trade.ErrorMessage = fmt.Sprintf("failed to parse order response: %v", err)
		return trade
	}

	trade.OrderID = ack.OrderID
	trade.Status = ack.Status
	trade.FilledQuantity = ack.FilledQuantity
	trade.AvgFillPrice = ack.AvgFillPrice
	trade.ErrorMessage = ""
	trade.Commission = Commission(adapter.BrokerType(), ack.FilledQuantity, ack.AvgFillPrice)

	brokers.Emitter.Emit(brokers.OrderUpdateEvent, eventmodels.OrderFillEvent{
		UserID:         req.UserID,
		ConnectionID:   req.ConnectionID.String(),
		BrokerType:     adapter.BrokerType(),
		Symbol:         order.Symbol,
		Side:           order.Side,
		OrderID:        ack.OrderID,
		Status:         ack.Status,
		FilledQuantity: ack.FilledQuantity,
		AvgFillPrice:   ack.AvgFillPrice,
		Timestamp:      time.Now().UTC(),
	})

	return trade
}

// CancelOrder is best-effort: the broker cancel endpoint is only asked for
// trades still pending. The disposition tells the caller exactly what
// happened rather than collapsing to a boolean.
func (s *TradeExecutionService) CancelOrder(ctx context.Context, userID uint, executionID uuid.UUID) (eventmodels.CancelOrderResult, error) {
	result, err := s.db.FetchExecutionResult(ctx, userID, executionID)
	if err != nil {
		return eventmodels.CancelOrderResult{
			Disposition: eventmodels.CancelNotFound,
			Message:     fmt.Sprintf("execution %s not found", executionID),
		}, nil
	}

	if result.Status.IsTerminal() {
		return eventmodels.CancelOrderResult{
			Disposition: eventmodels.CancelAlreadyTerminal,
			Message:     fmt.Sprintf("execution is already %s", result.Status),
		}, nil
	}

	adapter := s.connManager.GetAdapter(result.ConnectionID)
	if adapter == nil {
		return eventmodels.CancelOrderResult{}, fmt.Errorf("CancelOrder: no adapter bound to connection %s", result.ConnectionID)
	}

	var cancelled, failed int
	for _, trade := range result.Trades {
		if trade.Status != eventmodels.OrderStatusPending || trade.OrderID == "" {
			continue
		}

		if err := adapter.CancelOrder(ctx, trade.OrderID); err != nil {
			log.Warnf("CancelOrder: broker cancel of %s failed: %v", trade.OrderID, err)
			failed++
			continue
		}

		cancelled++
	}

	if cancelled == 0 && failed == 0 {
		return eventmodels.CancelOrderResult{
			Disposition: eventmodels.CancelAlreadyTerminal,
			Message:     "no pending trades to cancel",
		}, nil
	}

	if cancelled == 0 {
		return eventmodels.CancelOrderResult{}, fmt.Errorf("CancelOrder: broker rejected all %d cancel requests", failed)
	}

	return eventmodels.CancelOrderResult{
		Disposition: eventmodels.CancelAcknowledged,
		Message:     fmt.Sprintf("cancelled %d of %d pending trades", cancelled, cancelled+failed),
	}, nil
}

// maxConcurrentOrders sizes the per-batch semaphore from the broker's
// declared rate limit: one slot per ten orders-per-minute, clamped to
// [1, 8].
func maxConcurrentOrders(caps eventmodels.BrokerCapabilities) int {
	n := caps.MaxOrdersPerMinute / 10
	if n < 1 {
		n = 1
	}
	if n > 8 {
		n = 8
	}
	return n
}
