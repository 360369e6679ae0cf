package brokers

import (
	"os"

	"github.com/tradoverse/brokerage/src/eventmodels"
)

// AdapterConfig carries everything an adapter needs at construction time.
// OAuth brokers use Tokens; signed brokers use Signer. BaseURL overrides
// the broker's default endpoint (sandbox/paper hosts).
type AdapterConfig struct {
	BaseURL   string
	AccountID string
	IsPaper   bool
	Tokens    TokenSource
	Signer    RequestSigner
}

// requiredEnvKeys lists, per broker type, the configuration keys that must
// be present before an adapter can be built. Checked without network I/O.
var requiredEnvKeys = map[eventmodels.BrokerType][]string{
	eventmodels.BrokerTypeTradier:  {"TRADIER_CLIENT_ID", "TRADIER_CLIENT_SECRET", "TRADIER_REDIRECT_URI"},
	eventmodels.BrokerTypeAlpaca:   {"ALPACA_CLIENT_ID", "ALPACA_CLIENT_SECRET", "ALPACA_REDIRECT_URI"},
	eventmodels.BrokerTypeCoinbase: {"COINBASE_KEY_ID", "COINBASE_PRIVATE_KEY"},
	eventmodels.BrokerTypeIBKR:     {"IBKR_CONSUMER_KEY", "IBKR_PRIVATE_KEY", "IBKR_REALM"},
}

// CreateAdapter constructs the adapter for a broker type. Unknown types
// fail with UnsupportedBrokerError.
func CreateAdapter(brokerType eventmodels.BrokerType, cfg AdapterConfig) (Adapter, error) {
	switch brokerType {
	case eventmodels.BrokerTypeTradier:
		return NewTradierAdapter(cfg), nil
	case eventmodels.BrokerTypeAlpaca:
		return NewAlpacaAdapter(cfg), nil
	case eventmodels.BrokerTypeCoinbase:
		return NewCoinbaseAdapter(cfg), nil
	case eventmodels.BrokerTypeIBKR:
		return NewIBKRAdapter(cfg), nil
	default:
		return nil, &eventmodels.UnsupportedBrokerError{BrokerType: brokerType}
	}
}

// IsBrokerConfigured reports whether every required config key for the
// broker's auth scheme is present. It never attempts network I/O.
func IsBrokerConfigured(brokerType eventmodels.BrokerType) bool {
	keys, found := requiredEnvKeys[brokerType]
	if !found {
		return false
	}

	for _, key := range keys {
		if os.Getenv(key) == "" {
			return false
		}
	}

	return true
}

// ConfiguredBrokers returns the broker types whose configuration is
// complete.
func ConfiguredBrokers() []eventmodels.BrokerType {
	out := make([]eventmodels.BrokerType, 0, len(requiredEnvKeys))
	for _, b := range availableBrokers {
		if IsBrokerConfigured(b.Type) {
			out = append(out, b.Type)
		}
	}

	return out
}
