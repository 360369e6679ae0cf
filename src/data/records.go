package data

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tradoverse/brokerage/src/eventmodels"
)

// ConnectionRecord is the persisted form of a BrokerConnection.
type ConnectionRecord struct {
	gorm.Model
	ConnectionID   uuid.UUID  `gorm:"type:uuid;uniqueIndex;not null"`
	UserID         uint       `gorm:"column:user_id;not null;index"`
	BrokerType     string     `gorm:"column:broker_type;type:text;not null"`
	AuthMethod     string     `gorm:"column:auth_method;type:text;not null"`
	Credentials    string     `gorm:"column:credentials;type:text"`
	IsPaper        bool       `gorm:"column:is_paper;not null"`
	IsActive       bool       `gorm:"column:is_active;not null"`
	AccountID      string     `gorm:"column:account_id;type:text"`
	TokenExpiresAt *time.Time `gorm:"column:token_expires_at"`
	LastSyncAt     *time.Time `gorm:"column:last_sync_at"`
	LastError      string     `gorm:"column:last_error;type:text"`
}

func (r *ConnectionRecord) ToBrokerConnection() *eventmodels.BrokerConnection {
	return &eventmodels.BrokerConnection{
		ID:             r.ConnectionID,
		UserID:         r.UserID,
		BrokerType:     eventmodels.BrokerType(r.BrokerType),
		AuthMethod:     eventmodels.AuthMethod(r.AuthMethod),
		Credentials:    r.Credentials,
		IsPaper:        r.IsPaper,
		IsActive:       r.IsActive,
		AccountID:      r.AccountID,
		TokenExpiresAt: r.TokenExpiresAt,
		LastSyncAt:     r.LastSyncAt,
		LastError:      r.LastError,
	}
}

func NewConnectionRecord(conn *eventmodels.BrokerConnection) *ConnectionRecord {
	return &ConnectionRecord{
		ConnectionID:   conn.ID,
		UserID:         conn.UserID,
		BrokerType:     string(conn.BrokerType),
		AuthMethod:     string(conn.AuthMethod),
		Credentials:    conn.Credentials,
		IsPaper:        conn.IsPaper,
		IsActive:       conn.IsActive,
		AccountID:      conn.AccountID,
		TokenExpiresAt: conn.TokenExpiresAt,
		LastSyncAt:     conn.LastSyncAt,
		LastError:      conn.LastError,
	}
}

// ExecutionRecord is the persisted batch result. Append-only once written.
type ExecutionRecord struct {
	gorm.Model
	ExecutionID     uuid.UUID     `gorm:"type:uuid;uniqueIndex;not null"`
	ConnectionID    uuid.UUID     `gorm:"type:uuid;not null;index"`
	UserID          uint          `gorm:"column:user_id;not null;index"`
	BrokerType      string        `gorm:"column:broker_type;type:text;not null"`
	Status          string        `gorm:"column:status;type:text;not null"`
	TotalValue      float64       `gorm:"column:total_value;type:numeric;not null"`
	TotalCommission float64       `gorm:"column:total_commission;type:numeric;not null"`
	ExecutedAt      time.Time     `gorm:"column:executed_at;type:timestamp;not null"`
	DryRun          bool          `gorm:"column:dry_run;not null"`
	Trades          []TradeRecord `gorm:"foreignKey:ExecutionRecordID"`
}

// TradeRecord is one persisted trade within an execution.
type TradeRecord struct {
	gorm.Model
	ExecutionRecordID uint    `gorm:"not null;index"`
	Symbol            string  `gorm:"column:symbol;type:text;not null"`
	Side              string  `gorm:"column:side;type:text;not null"`
	RequestedQuantity float64 `gorm:"column:requested_quantity;type:numeric;not null"`
	FilledQuantity    float64 `gorm:"column:filled_quantity;type:numeric;not null"`
	AvgFillPrice      float64 `gorm:"column:avg_fill_price;type:numeric;not null"`
	Commission        float64 `gorm:"column:commission;type:numeric;not null"`
	Status            string  `gorm:"column:status;type:text;not null"`
	ExternalOrderID   string  `gorm:"column:external_order_id;type:text"`
	ErrorMessage      string  `gorm:"column:error_message;type:text"`
}

func NewExecutionRecord(userID uint, result *eventmodels.ExecutionResult, dryRun bool) *ExecutionRecord {
	record := &ExecutionRecord{
		ExecutionID:     result.ExecutionID,
		ConnectionID:    result.ConnectionID,
		UserID:          userID,
		BrokerType:      string(result.BrokerType),
		Status:          string(result.Status),
		TotalValue:      result.TotalValue,
		TotalCommission: result.TotalCommission,
		ExecutedAt:      result.ExecutedAt,
		DryRun:          dryRun,
	}

	for _, trade := range result.Trades {
		record.Trades = append(record.Trades, TradeRecord{
			Symbol:            trade.Symbol,
			Side:              string(trade.Side),
			RequestedQuantity: trade.RequestedQuantity,
			FilledQuantity:    trade.FilledQuantity,
			AvgFillPrice:      trade.AvgFillPrice,
			Commission:        trade.Commission,
			Status:            string(trade.Status),
			ExternalOrderID:   trade.OrderID,
			ErrorMessage:      trade.ErrorMessage,
		})
	}

	return record
}

func (r *ExecutionRecord) ToExecutionResult() *eventmodels.ExecutionResult {
	result := &eventmodels.ExecutionResult{
		ExecutionID:     r.ExecutionID,
		ConnectionID:    r.ConnectionID,
		BrokerType:      eventmodels.BrokerType(r.BrokerType),
		Status:          eventmodels.OrderStatus(r.Status),
		TotalValue:      r.TotalValue,
		TotalCommission: r.TotalCommission,
		ExecutedAt:      r.ExecutedAt,
	}

	for _, trade := range r.Trades {
		result.Trades = append(result.Trades, eventmodels.TradeResult{
			Symbol:            trade.Symbol,
			Side:              eventmodels.OrderSide(trade.Side),
			RequestedQuantity: trade.RequestedQuantity,
			FilledQuantity:    trade.FilledQuantity,
			AvgFillPrice:      trade.AvgFillPrice,
			Commission:        trade.Commission,
			Status:            eventmodels.OrderStatus(trade.Status),
			OrderID:           trade.ExternalOrderID,
			ErrorMessage:      trade.ErrorMessage,
		})
	}

	return result
}
