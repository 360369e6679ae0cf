package eventmodels

import "github.com/google/uuid"

// ExecutionRequest is the boundary type accepted by the trade execution
// service. EstimatedPrices is keyed by symbol and only consulted on the
// dry-run path. When ConnectionID is the zero uuid the service routes the
// batch itself, using AssetClass and the first order in the batch.
type ExecutionRequest struct {
	UserID          uint               `json:"user_id"`
	ConnectionID    uuid.UUID          `json:"connection_id,omitempty"`
	AssetClass      AssetClass         `json:"asset_class,omitempty"`
	Orders          []CanonicalOrder   `json:"orders"`
	DryRun          bool               `json:"dry_run"`
	EstimatedPrices map[string]float64 `json:"estimated_prices,omitempty"`
	Tag             string             `json:"tag,omitempty"`
}
