package brokers

import (
	"github.com/tradoverse/brokerage/src/eventmodels"
)

// AvailableBroker is the static, connectivity-independent description of a
// broker integration shown to users before they connect.
type AvailableBroker struct {
	Type             eventmodels.BrokerType `json:"type"`
	Name             string                 `json:"name"`
	AuthType         eventmodels.AuthMethod `json:"auth_type"`
	RequiresApproval bool                   `json:"requires_approval"`
	SupportedRegions []string               `json:"supported_regions"`
}

var availableBrokers = []AvailableBroker{
	{
		Type:             eventmodels.BrokerTypeTradier,
		Name:             "Tradier",
		AuthType:         eventmodels.AuthMethodOAuth,
		SupportedRegions: []string{"US"},
	},
	{
		Type:             eventmodels.BrokerTypeAlpaca,
		Name:             "Alpaca",
		AuthType:         eventmodels.AuthMethodOAuth,
		SupportedRegions: []string{"US"},
	},
	{
		Type:             eventmodels.BrokerTypeCoinbase,
		Name:             "Coinbase Advanced Trade",
		AuthType:         eventmodels.AuthMethodSigned,
		SupportedRegions: []string{"US", "EU", "UK"},
	},
	{
		Type:             eventmodels.BrokerTypeIBKR,
		Name:             "Interactive Brokers",
		AuthType:         eventmodels.AuthMethodSigned,
		RequiresApproval: true,
		SupportedRegions: []string{"US", "EU", "UK", "APAC"},
	},
}

// AvailableBrokers is a pure function of static metadata, independent of
// live connectivity.
func AvailableBrokers() []AvailableBroker {
	out := make([]AvailableBroker, len(availableBrokers))
	copy(out, availableBrokers)
	return out
}
