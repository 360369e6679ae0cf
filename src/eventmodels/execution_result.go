package eventmodels

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionResult aggregates one submitted batch. Once persisted it is
// append-only; Status is always derived from the contained TradeResults.
type ExecutionResult struct {
	ExecutionID     uuid.UUID     `json:"execution_id"`
	ConnectionID    uuid.UUID     `json:"connection_id"`
	BrokerType      BrokerType    `json:"broker_type"`
	Status          OrderStatus   `json:"status"`
	Trades          []TradeResult `json:"trades"`
	TotalValue      float64       `json:"total_value"`
	TotalCommission float64       `json:"total_commission"`
	ExecutedAt      time.Time     `json:"executed_at"`
	Errors          []string      `json:"errors,omitempty"`
}

// DeriveStatus computes the batch status from the contained trades:
// filled iff every trade filled, rejected iff every trade rejected,
// pending if none have resolved, otherwise partial.
func (r *ExecutionResult) DeriveStatus() OrderStatus {
	if len(r.Trades) == 0 {
		return OrderStatusRejected
	}

	allFilled := true
	allRejected := true
	anyResolved := false

	for _, t := range r.Trades {
		if t.Status != OrderStatusFilled {
			allFilled = false
		}
		if t.Status != OrderStatusRejected {
			allRejected = false
		}
		if t.Status != OrderStatusPending {
			anyResolved = true
		}
	}

	switch {
	case allFilled:
		return OrderStatusFilled
	case allRejected:
		return OrderStatusRejected
	case !anyResolved:
		return OrderStatusPending
	default:
		return OrderStatusPartial
	}
}

// Aggregate recomputes the derived fields from the contained trades.
func (r *ExecutionResult) Aggregate() {
	var totalValue, totalCommission float64
	for _, t := range r.Trades {
		totalValue += t.NotionalValue()
		totalCommission += t.Commission
	}

	r.TotalValue = totalValue
	r.TotalCommission = totalCommission
	r.Status = r.DeriveStatus()
}
