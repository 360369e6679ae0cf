package eventmodels

import "time"

type PriceUpdateEvent struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume,omitempty"`
	Source    string    `json:"source,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type PortfolioUpdateEvent struct {
	UserID       uint      `json:"user_id"`
	ConnectionID string    `json:"connection_id"`
	Equity       float64   `json:"equity"`
	Cash         float64   `json:"cash"`
	DayPL        float64   `json:"day_pl"`
	Timestamp    time.Time `json:"timestamp"`
}

type OrderFillEvent struct {
	UserID         uint        `json:"user_id"`
	ConnectionID   string      `json:"connection_id"`
	BrokerType     BrokerType  `json:"broker_type"`
	Symbol         string      `json:"symbol"`
	Side           OrderSide   `json:"side"`
	OrderID        string      `json:"order_id"`
	Status         OrderStatus `json:"status"`
	FilledQuantity float64     `json:"filled_quantity"`
	AvgFillPrice   float64     `json:"avg_fill_price"`
	Timestamp      time.Time   `json:"timestamp"`
}

type BotStatusEvent struct {
	BotID     uint      `json:"bot_id"`
	Status    string    `json:"status"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
