package brokers

import (
	"github.com/tradoverse/brokerage/src/eventmodels"
)

// capabilitiesByBroker is the static capability registry. The order router
// consults it before any network call; adapters report their own entry
// through Capabilities().
var capabilitiesByBroker = map[eventmodels.BrokerType]eventmodels.BrokerCapabilities{
	eventmodels.BrokerTypeTradier: {
		SupportedAssetClasses: []eventmodels.AssetClass{
			eventmodels.AssetClassEquity,
			eventmodels.AssetClassOption,
		},
		SupportedOrderTypes: []eventmodels.OrderType{
			eventmodels.OrderTypeMarket,
			eventmodels.OrderTypeLimit,
			eventmodels.OrderTypeStop,
			eventmodels.OrderTypeStopLimit,
		},
		SupportedTimeInForce: []eventmodels.TimeInForce{
			eventmodels.TimeInForceDay,
			eventmodels.TimeInForceGoodTillCancelled,
		},
		MaxOrdersPerMinute:    60,
		SupportsPaperTrading:  true,
		SupportsExtendedHours: true,
		SupportsShortSelling:  true,
		SupportsMarginTrading: true,
		SupportsWebSocket:     true,
	},
	eventmodels.BrokerTypeAlpaca: {
		SupportedAssetClasses: []eventmodels.AssetClass{
			eventmodels.AssetClassEquity,
			eventmodels.AssetClassCrypto,
		},
		SupportedOrderTypes: []eventmodels.OrderType{
			eventmodels.OrderTypeMarket,
			eventmodels.OrderTypeLimit,
			eventmodels.OrderTypeStop,
			eventmodels.OrderTypeStopLimit,
			eventmodels.OrderTypeTrailingStop,
		},
		SupportedTimeInForce: []eventmodels.TimeInForce{
			eventmodels.TimeInForceDay,
			eventmodels.TimeInForceGoodTillCancelled,
			eventmodels.TimeInForceImmediateOrCancel,
			eventmodels.TimeInForceFillOrKill,
		},
		MaxOrdersPerMinute:       200,
		SupportsFractionalShares: true,
		SupportsPaperTrading:     true,
		SupportsExtendedHours:    true,
		SupportsShortSelling:     true,
		SupportsMarginTrading:    true,
		SupportsWebSocket:        true,
	},
	eventmodels.BrokerTypeCoinbase: {
		SupportedAssetClasses: []eventmodels.AssetClass{
			eventmodels.AssetClassCrypto,
		},
		SupportedOrderTypes: []eventmodels.OrderType{
			eventmodels.OrderTypeMarket,
			eventmodels.OrderTypeLimit,
			eventmodels.OrderTypeStop,
			eventmodels.OrderTypeStopLimit,
		},
		SupportedTimeInForce: []eventmodels.TimeInForce{
			eventmodels.TimeInForceGoodTillCancelled,
			eventmodels.TimeInForceImmediateOrCancel,
			eventmodels.TimeInForceFillOrKill,
		},
		MaxOrdersPerMinute:       30,
		SupportsFractionalShares: true,
		SupportsWebSocket:        true,
	},
	eventmodels.BrokerTypeIBKR: {
		SupportedAssetClasses: []eventmodels.AssetClass{
			eventmodels.AssetClassEquity,
			eventmodels.AssetClassOption,
			eventmodels.AssetClassFuture,
			eventmodels.AssetClassForex,
		},
		SupportedOrderTypes: []eventmodels.OrderType{
			eventmodels.OrderTypeMarket,
			eventmodels.OrderTypeLimit,
			eventmodels.OrderTypeStop,
			eventmodels.OrderTypeStopLimit,
			eventmodels.OrderTypeTrailingStop,
		},
		SupportedTimeInForce: []eventmodels.TimeInForce{
			eventmodels.TimeInForceDay,
			eventmodels.TimeInForceGoodTillCancelled,
			eventmodels.TimeInForceImmediateOrCancel,
			eventmodels.TimeInForceFillOrKill,
		},
		MaxOrdersPerMinute:    50,
		SupportsPaperTrading:  true,
		SupportsShortSelling:  true,
		SupportsMarginTrading: true,
		SupportsWebSocket:     true,
	},
}

// CapabilitiesFor returns the static capability set for a broker type. The
// second return is false for unknown types.
func CapabilitiesFor(brokerType eventmodels.BrokerType) (eventmodels.BrokerCapabilities, bool) {
	caps, found := capabilitiesByBroker[brokerType]
	return caps, found
}
