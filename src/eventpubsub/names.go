package eventpubsub

const (
	PriceUpdateEvent     = "PriceUpdateEvent"
	PortfolioUpdateEvent = "PortfolioUpdateEvent"
	BotStatusEvent       = "BotStatusEvent"
	OrderFillEvent       = "OrderFillEvent"
	ConnectionSyncEvent  = "ConnectionSyncEvent"
)
