package brokers

import (
	"context"
	"net/http"

	"github.com/kataras/go-events"

	"github.com/tradoverse/brokerage/src/eventmodels"
)

// WireOrder is a broker-specific order representation produced by
// FormatOrder. Each adapter owns its own key vocabulary.
type WireOrder map[string]string

// BrokerResponse is the raw decoded payload returned by a broker's order
// endpoint.
type BrokerResponse map[string]interface{}

// OrderAck is the normalized view of a broker's order response. Status is
// always one of the four canonical statuses; adapters map unknown broker
// statuses to pending, never to filled.
type OrderAck struct {
	OrderID        string
	Status         eventmodels.OrderStatus
	FilledQuantity float64
	AvgFillPrice   float64
}

// RequestSigner signs an outbound request for brokers that use per-call
// signatures instead of bearer tokens.
type RequestSigner interface {
	Sign(req *http.Request) error
}

// TokenSource supplies the current bearer token for brokers on the OAuth
// scheme. Kept behind an interface so a refresh never requires rebuilding
// the adapter.
type TokenSource interface {
	AccessToken() string
}

// Adapter is the canonical per-broker trading interface. Adapters hold no
// cross-call state beyond their credentials and are safe to re-create
// cheaply.
type Adapter interface {
	BrokerType() eventmodels.BrokerType
	Capabilities() eventmodels.BrokerCapabilities
	NormalizeSymbol(input string) string
	ToBrokerSymbol(symbol string) string
	FormatOrder(order eventmodels.CanonicalOrder) WireOrder
	SubmitOrder(ctx context.Context, order WireOrder) (BrokerResponse, error)
	ParseOrderResponse(resp BrokerResponse) (OrderAck, error)
	CancelOrder(ctx context.Context, orderID string) error
	IsConnected(ctx context.Context) bool
}

const OrderUpdateEvent events.EventName = "broker:order_update"

// Emitter carries order update notifications out of the execution path.
// Listeners receive an eventmodels.OrderFillEvent.
var Emitter = events.New()
