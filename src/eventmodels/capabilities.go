package eventmodels

// BrokerCapabilities is the static declaration of what a broker type
// supports. One immutable value exists per broker type.
type BrokerCapabilities struct {
	SupportedAssetClasses    []AssetClass  `json:"supported_asset_classes"`
	SupportedOrderTypes      []OrderType   `json:"supported_order_types"`
	SupportedTimeInForce     []TimeInForce `json:"supported_time_in_force"`
	MaxOrdersPerMinute       int           `json:"max_orders_per_minute"`
	SupportsFractionalShares bool          `json:"supports_fractional_shares"`
	SupportsPaperTrading     bool          `json:"supports_paper_trading"`
	SupportsExtendedHours    bool          `json:"supports_extended_hours"`
	SupportsShortSelling     bool          `json:"supports_short_selling"`
	SupportsMarginTrading    bool          `json:"supports_margin_trading"`
	SupportsWebSocket        bool          `json:"supports_websocket"`
}

func (c BrokerCapabilities) SupportsAssetClass(class AssetClass) bool {
	for _, ac := range c.SupportedAssetClasses {
		if ac == class {
			return true
		}
	}
	return false
}

func (c BrokerCapabilities) SupportsOrderType(orderType OrderType) bool {
	for _, ot := range c.SupportedOrderTypes {
		if ot == orderType {
			return true
		}
	}
	return false
}

func (c BrokerCapabilities) SupportsTimeInForce(tif TimeInForce) bool {
	for _, t := range c.SupportedTimeInForce {
		if t == tif {
			return true
		}
	}
	return false
}
