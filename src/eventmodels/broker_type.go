package eventmodels

type BrokerType string

const (
	BrokerTypeTradier  BrokerType = "tradier"
	BrokerTypeAlpaca   BrokerType = "alpaca"
	BrokerTypeCoinbase BrokerType = "coinbase"
	BrokerTypeIBKR     BrokerType = "ibkr"
)

type AuthMethod string

const (
	AuthMethodOAuth  AuthMethod = "oauth"
	AuthMethodSigned AuthMethod = "signed"
)

type AssetClass string

const (
	AssetClassEquity AssetClass = "equity"
	AssetClassOption AssetClass = "option"
	AssetClassFuture AssetClass = "future"
	AssetClassForex  AssetClass = "forex"
	AssetClassCrypto AssetClass = "crypto"
)
